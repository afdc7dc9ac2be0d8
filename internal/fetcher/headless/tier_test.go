package headless

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/digest-fetcher/internal/detector"
	"github.com/JakeFAU/digest-fetcher/internal/fetch"
	"github.com/JakeFAU/digest-fetcher/internal/fingerprint"
)

type scriptedRenderer struct {
	mu       sync.Mutex
	pages    []Page
	errs     []error
	requests []RenderRequest
}

func (r *scriptedRenderer) Render(_ context.Context, req RenderRequest) (Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := len(r.requests)
	r.requests = append(r.requests, req)
	if i >= len(r.pages) {
		i = len(r.pages) - 1
	}
	return r.pages[i], r.errs[i]
}

type recordingClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *recordingClock) Now() time.Time { return time.Unix(0, 0) }

func (c *recordingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func article(paragraphs int) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Quarterly Report</title></head><body><article>")
	for range paragraphs {
		b.WriteString("<p>The committee reviewed inflation data across several regions and found that prices for housing, food, and energy moved in different directions during the quarter.</p>")
	}
	b.WriteString("</article></body></html>")
	return b.String()
}

func newTestTier(r Renderer, clock fetch.Clock) *Tier {
	pool := fingerprint.New(fingerprint.WithRand(rand.New(rand.NewPCG(1, 2))))
	return NewTier(r, pool, detector.NewDefault(), fetch.NewRetryPolicy(2, time.Second, 0), clock, TierConfig{
		PageTimeout:  time.Second,
		WaitMinChars: 10,
	}, nil)
}

func TestTier_Success(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{
		pages: []Page{{HTML: article(5), FinalURL: "https://example.com/final", StatusCode: http.StatusOK}},
		errs:  []error{nil},
	}
	tier := newTestTier(r, &recordingClock{})

	out := tier.Fetch(context.Background(), "https://example.com/")
	require.Equal(t, fetch.OutcomeSuccess, out.Kind)
	require.Equal(t, fetch.FetcherBrowser, out.Result.Fetcher)
	require.Equal(t, "https://example.com/final", out.Result.RedirectedURL)
	require.Equal(t, "Quarterly Report", out.Result.Title)
	require.Contains(t, out.Result.Content, "committee reviewed inflation")
	require.Equal(t, fetch.TierBrowser, tier.Name())
	require.Len(t, r.requests, 1)
	require.NotEmpty(t, r.requests[0].Identity.Profile.UserAgent)
}

func TestTier_SoftBlockStopsRetries(t *testing.T) {
	t.Parallel()

	page := Page{
		HTML:       "<html><body><h1>Just a moment...</h1><p>Checking your browser before accessing. Cloudflare Ray ID 123</p></body></html>",
		StatusCode: http.StatusOK,
	}
	r := &scriptedRenderer{pages: []Page{page}, errs: []error{nil}}
	clock := &recordingClock{}
	out := newTestTier(r, clock).Fetch(context.Background(), "https://example.com/")

	require.Equal(t, fetch.OutcomeBlocked, out.Kind)
	require.True(t, out.Result.IsSoftBlock)
	require.ErrorIs(t, out.Err, fetch.ErrSoftBlock)
	require.Len(t, r.requests, 1)
	require.Empty(t, clock.sleeps)
}

func TestTier_DefinitiveStatusStopsRetries(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{
		pages: []Page{{HTML: article(3), StatusCode: http.StatusForbidden}},
		errs:  []error{nil},
	}
	out := newTestTier(r, &recordingClock{}).Fetch(context.Background(), "https://example.com/")

	require.Equal(t, fetch.OutcomeFailed, out.Kind)
	require.Equal(t, http.StatusForbidden, out.Result.StatusCode)
	require.Equal(t, http.StatusForbidden, fetch.StatusOf(out.Err))
	require.True(t, out.SignalsBlock())
	require.Len(t, r.requests, 1)
}

func TestTier_RetriesTimeoutsWithBackoffAndFreshIdentity(t *testing.T) {
	t.Parallel()

	timeout := context.DeadlineExceeded
	r := &scriptedRenderer{
		pages: []Page{{}, {}, {HTML: article(5), StatusCode: http.StatusOK}},
		errs:  []error{timeout, timeout, nil},
	}
	clock := &recordingClock{}
	out := newTestTier(r, clock).Fetch(context.Background(), "https://example.com/")

	require.Equal(t, fetch.OutcomeSuccess, out.Kind)
	require.Len(t, r.requests, 3)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.sleeps)
}

func TestTier_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	boom := errors.New("target closed")
	r := &scriptedRenderer{pages: []Page{{}}, errs: []error{boom}}
	clock := &recordingClock{}
	out := newTestTier(r, clock).Fetch(context.Background(), "https://example.com/")

	require.Equal(t, fetch.OutcomeFailed, out.Kind)
	require.ErrorIs(t, out.Err, boom)
	require.Len(t, r.requests, 3)
	require.Len(t, clock.sleeps, 2)
}

func TestTier_ShortContentFails(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{
		pages: []Page{{HTML: "<html><body><p>Hello there.</p></body></html>", StatusCode: http.StatusOK}},
		errs:  []error{nil},
	}
	tier := newTestTier(r, &recordingClock{})
	tier.retry = fetch.NewRetryPolicy(0, time.Second, 0)

	out := tier.Fetch(context.Background(), "https://example.com/")
	require.Equal(t, fetch.OutcomeFailed, out.Kind)
	require.ErrorIs(t, out.Err, fetch.ErrContentTooShort)
}

func TestTier_TruncatesContent(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{
		pages: []Page{{HTML: article(40), StatusCode: http.StatusOK}},
		errs:  []error{nil},
	}
	tier := newTestTier(r, &recordingClock{})
	tier.cfg.MaxContentSize = 500

	out := tier.Fetch(context.Background(), "https://example.com/")
	require.Equal(t, fetch.OutcomeSuccess, out.Kind)
	require.True(t, strings.HasSuffix(out.Result.Content, fetch.TruncationMarker))
}
