package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	require.Equal(t, 2, p.MaxRetries())

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(ErrNetworkTimeout, 0))
	require.True(t, p.ShouldRetry(ErrContentTooShort, 1))
	require.False(t, p.ShouldRetry(ErrNetworkTimeout, 2), "attempt bound reached")
	require.False(t, p.ShouldRetry(ErrSoftBlock, 0))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(NewHTTPError(403), 0))
	require.False(t, p.ShouldRetry(NewHTTPError(404), 0))
	require.False(t, p.ShouldRetry(NewHTTPError(502), 0))
	require.True(t, p.ShouldRetry(NewHTTPError(429), 0))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, 100*time.Millisecond, 50*time.Millisecond)
	for attempt, base := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
		for range 20 {
			got := p.Backoff(attempt)
			require.GreaterOrEqual(t, got, base)
			require.Less(t, got, base+50*time.Millisecond)
		}
	}
}

func TestRetryPolicy_NoJitter(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(0, time.Second, 0)
	require.Equal(t, time.Second, p.Backoff(0))
	require.False(t, p.ShouldRetry(ErrNetwork, 0))
}
