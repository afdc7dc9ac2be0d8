package fetch

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Retry defaults for the browser tier.
const (
	DefaultMaxRetries     = 2
	DefaultRetryBaseDelay = time.Second
	DefaultRetryJitter    = 500 * time.Millisecond
)

// RetryPolicy decides whether and when a tier attempt is retried.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	jitter     time.Duration
}

// NewRetryPolicy builds a policy. Non-positive values fall back to defaults,
// except maxRetries where zero disables retries.
func NewRetryPolicy(maxRetries int, baseDelay, jitter time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	if jitter < 0 {
		jitter = DefaultRetryJitter
	}
	return &RetryPolicy{maxRetries: maxRetries, baseDelay: baseDelay, jitter: jitter}
}

// DefaultRetryPolicy returns 2 retries with a 1s base and up to 0.5s jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(DefaultMaxRetries, DefaultRetryBaseDelay, DefaultRetryJitter)
}

// MaxRetries returns the retry bound.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry reports whether attempt (zero based) may be followed by another.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSoftBlock) || errors.Is(err, ErrNonHTMLContent) {
		return false
	}
	if status := StatusOf(err); status != 0 && IsDefinitiveStatus(status) {
		return false
	}
	return true
}

// Backoff returns base*2^attempt plus uniform jitter.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := time.Duration(float64(p.baseDelay) * math.Pow(2, float64(attempt)))
	return delay + p.randomJitter(p.jitter)
}

func (p *RetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
