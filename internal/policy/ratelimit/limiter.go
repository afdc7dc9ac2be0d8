// Package ratelimit caps concurrent requests per domain and spaces consecutive
// requests to the same domain by a randomized delay.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/digest-fetcher/internal/clock/system"
	"github.com/JakeFAU/digest-fetcher/internal/fetch"
	"github.com/JakeFAU/digest-fetcher/internal/metrics"
)

// Defaults applied when Config fields are zero.
const (
	DefaultMaxConcurrent = 2
	DefaultMinDelay      = time.Second
	DefaultMaxDelay      = 3 * time.Second
)

// Config holds rate limiter configuration.
type Config struct {
	MaxConcurrent int
	MinDelay      time.Duration
	MaxDelay      time.Duration
}

type hostState struct {
	sem  *semaphore.Weighted
	mu   sync.Mutex
	last time.Time
}

// Limiter manages per-domain slots and spacing. It implements fetch.Limiter.
type Limiter struct {
	cfg   Config
	clock fetch.Clock

	mu    sync.Mutex
	hosts map[string]*hostState

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock injects the clock used for spacing.
func WithClock(clock fetch.Clock) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// WithRand injects the random source for delay draws.
func WithRand(rng *rand.Rand) Option {
	return func(l *Limiter) {
		l.rng = rng
	}
}

// New creates a new Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	l := &Limiter{
		cfg:   cfg,
		clock: system.New(),
		hosts: make(map[string]*hostState),
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the URL's domain has a free slot and the spacing delay
// since the previous request to that domain has elapsed.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeSite(rawURL)
	st := l.state(host)

	if err := st.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("domain slot wait canceled: %w", err)
	}

	// Spacing is serialized per host so concurrent holders still start apart.
	st.mu.Lock()
	defer st.mu.Unlock()

	wait := l.randomDelay() - l.clock.Now().Sub(st.last)
	if wait > 0 {
		if err := l.clock.Sleep(ctx, wait); err != nil {
			st.sem.Release(1)
			return fmt.Errorf("domain spacing wait: %w", err)
		}
		metrics.ObserveRateLimitDelay(host, wait)
	}
	st.last = l.clock.Now()
	return nil
}

// Release frees the slot taken by a successful Acquire for the same URL's domain.
func (l *Limiter) Release(rawURL string) {
	l.state(metrics.SanitizeSite(rawURL)).sem.Release(1)
}

func (l *Limiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.hosts[host]
	if !ok {
		st = &hostState{sem: semaphore.NewWeighted(int64(l.cfg.MaxConcurrent))}
		l.hosts[host] = st
	}
	return st
}

func (l *Limiter) randomDelay() time.Duration {
	span := l.cfg.MaxDelay - l.cfg.MinDelay
	if span <= 0 {
		return l.cfg.MinDelay
	}
	l.rngMu.Lock()
	defer l.rngMu.Unlock()
	return l.cfg.MinDelay + time.Duration(l.rng.Int64N(int64(span)+1))
}
