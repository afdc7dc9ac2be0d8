package headless

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/digest-fetcher/internal/clock/system"
	"github.com/JakeFAU/digest-fetcher/internal/extract"
	"github.com/JakeFAU/digest-fetcher/internal/fetch"
	"github.com/JakeFAU/digest-fetcher/internal/fingerprint"
)

// TierConfig tunes a browser tier.
type TierConfig struct {
	PageTimeout      time.Duration
	SettleDelay      time.Duration
	WaitMinChars     int
	MinContentLength int
	MaxContentSize   int
}

// Tier is the first fetch tier: a real browser with rotating identities and
// bounded retries.
type Tier struct {
	renderer Renderer
	pool     *fingerprint.Pool
	detector fetch.SoftBlockDetector
	retry    *fetch.RetryPolicy
	clock    fetch.Clock
	cfg      TierConfig
	logger   *zap.Logger
}

// NewTier wires a browser tier. Nil retry policy, clock, and logger select defaults.
func NewTier(
	renderer Renderer,
	pool *fingerprint.Pool,
	detector fetch.SoftBlockDetector,
	retry *fetch.RetryPolicy,
	clock fetch.Clock,
	cfg TierConfig,
	logger *zap.Logger,
) *Tier {
	if retry == nil {
		retry = fetch.DefaultRetryPolicy()
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 100
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = fetch.MaxContentSize
	}
	return &Tier{
		renderer: renderer,
		pool:     pool,
		detector: detector,
		retry:    retry,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("tier1"),
	}
}

// Name implements fetch.Tier.
func (t *Tier) Name() string {
	return fetch.TierBrowser
}

// Fetch implements fetch.Tier.
func (t *Tier) Fetch(ctx context.Context, url string) fetch.Outcome {
	var last fetch.Outcome
	for attempt := 0; ; attempt++ {
		last = t.attempt(ctx, url)
		if last.Kind != fetch.OutcomeFailed {
			return last
		}
		if !t.retry.ShouldRetry(last.Err, attempt) {
			return last
		}
		delay := t.retry.Backoff(attempt)
		t.logger.Debug("retrying browser fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(last.Err),
		)
		if err := t.clock.Sleep(ctx, delay); err != nil {
			return last
		}
	}
}

func (t *Tier) attempt(ctx context.Context, url string) fetch.Outcome {
	base := fetch.Result{URL: url, Fetcher: fetch.FetcherBrowser}
	id := t.pool.Draw()

	pg, err := t.renderer.Render(ctx, RenderRequest{
		URL:          url,
		Identity:     id,
		PageTimeout:  t.cfg.PageTimeout,
		SettleDelay:  t.cfg.SettleDelay,
		WaitMinChars: t.cfg.WaitMinChars,
	})
	if err != nil {
		return fetch.Failed(base, fetch.ClassifyError(err))
	}

	base.StatusCode = pg.StatusCode
	if pg.FinalURL != "" && pg.FinalURL != url {
		base.RedirectedURL = pg.FinalURL
	}

	doc := extract.Main(pg.HTML, pageURL(pg.FinalURL, url))
	base.Title = doc.Title
	if base.Title == "" {
		base.Title = pg.Title
	}

	if t.detector != nil && t.detector.IsSoftBlock(doc.Text, pg.StatusCode) {
		base.IsSoftBlock = true
		return fetch.Blocked(base, fmt.Errorf("%w (status %d)", fetch.ErrSoftBlock, pg.StatusCode))
	}
	if pg.StatusCode >= http.StatusBadRequest {
		return fetch.Failed(base, fetch.NewHTTPError(pg.StatusCode))
	}
	if utf8.RuneCountInString(doc.Text) <= t.cfg.MinContentLength {
		return fetch.Failed(base, fmt.Errorf("%w: %d characters", fetch.ErrContentTooShort, utf8.RuneCountInString(doc.Text)))
	}

	base.Content = fetch.TruncateContent(doc.Text, t.cfg.MaxContentSize)
	return fetch.Succeeded(base)
}

func pageURL(finalURL, requested string) string {
	if finalURL != "" && finalURL != "about:blank" {
		return finalURL
	}
	return requested
}
