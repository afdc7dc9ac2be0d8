package lightweight

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/digest-fetcher/internal/extract"
	"github.com/JakeFAU/digest-fetcher/internal/fetch"
	"github.com/JakeFAU/digest-fetcher/internal/fingerprint"
)

// DefaultTimeout bounds a single tier request.
const DefaultTimeout = 15 * time.Second

// Config tunes the tier.
type Config struct {
	Timeout        time.Duration
	MaxContentSize int
}

// Tier is the lightweight fetch tier.
type Tier struct {
	transport Transport
	pool      *fingerprint.Pool
	detector  fetch.SoftBlockDetector
	cfg       Config
	logger    *zap.Logger
}

// NewTier wires a lightweight tier.
func NewTier(transport Transport, pool *fingerprint.Pool, detector fetch.SoftBlockDetector, cfg Config, logger *zap.Logger) *Tier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = fetch.MaxContentSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tier{
		transport: transport,
		pool:      pool,
		detector:  detector,
		cfg:       cfg,
		logger:    logger.Named("tier2"),
	}
}

// Name implements fetch.Tier.
func (t *Tier) Name() string {
	return fetch.TierLightweight
}

// Fetch implements fetch.Tier.
func (t *Tier) Fetch(ctx context.Context, url string) fetch.Outcome {
	base := fetch.Result{URL: url, Fetcher: fetch.FetcherTLSClient}
	id := t.pool.Draw()

	resp, err := t.transport.Get(ctx, Request{URL: url, Identity: id, Timeout: t.cfg.Timeout})
	if err != nil {
		return fetch.Failed(base, fetch.ClassifyError(err))
	}
	base.StatusCode = resp.StatusCode
	if resp.FinalURL != "" && resp.FinalURL != url {
		base.RedirectedURL = resp.FinalURL
	}
	t.logger.Debug("tls client response",
		zap.String("url", url),
		zap.String("tls_profile", id.Profile.TLSProfile),
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.ContentType),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		if t.detector != nil && isHTML(resp.ContentType) {
			base.IsSoftBlock = t.detector.IsSoftBlock(extract.Text(resp.Body).Text, resp.StatusCode)
		}
		return fetch.Failed(base, fetch.NewHTTPError(resp.StatusCode))
	}
	if !isHTML(resp.ContentType) {
		return fetch.Failed(base, fmt.Errorf("%w: %s", fetch.ErrNonHTMLContent, resp.ContentType))
	}

	doc := extract.Text(resp.Body)
	if doc.Fallback {
		base.Fetcher = fetch.FetcherTLSClientRegexFallback
	}
	base.Title = doc.Title

	if t.detector != nil && t.detector.IsSoftBlock(doc.Text, resp.StatusCode) {
		base.IsSoftBlock = true
		return fetch.Blocked(base, fetch.ErrSoftBlock)
	}

	base.Content = fetch.TruncateContent(doc.Text, t.cfg.MaxContentSize)
	return fetch.Succeeded(base)
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
