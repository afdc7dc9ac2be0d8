package fetch

import (
	"context"
	"time"
)

// Tier fetches a single normalized URL and reports a tagged outcome.
type Tier interface {
	Name() string
	Fetch(ctx context.Context, url string) Outcome
}

// Limiter gates origin requests per domain.
type Limiter interface {
	Acquire(ctx context.Context, url string) error
	Release(url string)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// BudgetProvider returns the opaque resource-budget snapshot attached to each batch.
type BudgetProvider interface {
	Snapshot(ctx context.Context) map[string]any
}

// SoftBlockDetector classifies extracted text as a block page.
type SoftBlockDetector interface {
	IsSoftBlock(text string, status int) bool
}
