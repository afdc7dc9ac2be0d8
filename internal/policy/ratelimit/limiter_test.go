package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func TestLimiter_SpacingWithFakeClock(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	l := New(Config{MaxConcurrent: 2, MinDelay: time.Second, MaxDelay: time.Second}, WithClock(clk))
	ctx := context.Background()
	url := "https://Example.com/a"

	require.NoError(t, l.Acquire(ctx, url))
	l.Release(url)
	require.Empty(t, clk.recorded(), "first request to a domain does not wait")

	require.NoError(t, l.Acquire(ctx, url))
	l.Release(url)
	require.Equal(t, []time.Duration{time.Second}, clk.recorded())

	clk.advance(400 * time.Millisecond)
	require.NoError(t, l.Acquire(ctx, "https://example.com/b"))
	l.Release("https://example.com/b")
	require.Equal(t, []time.Duration{time.Second, 600 * time.Millisecond}, clk.recorded())
}

func TestLimiter_DomainsAreIndependent(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	l := New(Config{MaxConcurrent: 1, MinDelay: time.Second, MaxDelay: time.Second}, WithClock(clk))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "https://a.test"))
	require.NoError(t, l.Acquire(ctx, "https://b.test"))
	l.Release("https://a.test")
	l.Release("https://b.test")
	require.Empty(t, clk.recorded())
}

func TestLimiter_CapsConcurrencyPerDomain(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrent: 2, MinDelay: 0, MaxDelay: 0})
	ctx := context.Background()

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx, "https://busy.test/page"); err != nil {
				t.Error(err)
				return
			}
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			l.Release("https://busy.test/page")
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.Equal(t, int32(2), peak.Load())
}

func TestLimiter_RealClockSpacing(t *testing.T) {
	t.Parallel()

	minDelay := 20 * time.Millisecond
	l := New(Config{MaxConcurrent: 2, MinDelay: minDelay, MaxDelay: 30 * time.Millisecond})
	ctx := context.Background()

	var starts []time.Time
	for range 4 {
		require.NoError(t, l.Acquire(ctx, "https://spaced.test"))
		starts = append(starts, time.Now())
		l.Release("https://spaced.test")
	}

	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		require.GreaterOrEqual(t, gap, minDelay-2*time.Millisecond, "gap %d was %v", i, gap)
	}
}

func TestLimiter_AcquireCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxConcurrent: 1, MinDelay: 0, MaxDelay: 0})
	require.NoError(t, l.Acquire(context.Background(), "https://one.test"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "https://one.test")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	l.Release("https://one.test")
	require.NoError(t, l.Acquire(context.Background(), "https://one.test"))
	l.Release("https://one.test")
}
