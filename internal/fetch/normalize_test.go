package fetch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare host", "example.com", "https://example.com"},
		{"bare host with path", "example.com/a?b=1", "https://example.com/a?b=1"},
		{"https unchanged", "https://example.com/x", "https://example.com/x"},
		{"http unchanged", "http://example.com", "http://example.com"},
		{"protocol relative", "//cdn.example.com/a", "https://cdn.example.com/a"},
		{"whitespace trimmed", "  example.com \n", "https://example.com"},
		{"empty", "", ""},
		{"blank", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeURL(tc.in))
		})
	}
}

func FuzzNormalizeURL(f *testing.F) {
	for _, seed := range []string{"example.com", "//a.b", "http://x", " "} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		got := NormalizeURL(in)
		if got == "" {
			return
		}
		if got[:7] != "http://" && (len(got) < 8 || got[:8] != "https://") {
			t.Fatalf("NormalizeURL(%q) = %q lacks a scheme", in, got)
		}
	})
}
