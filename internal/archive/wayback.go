package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/digest-fetcher/internal/extract"
	"github.com/JakeFAU/digest-fetcher/internal/fetch"
	collyfetcher "github.com/JakeFAU/digest-fetcher/internal/fetcher/colly"
)

// Wayback Machine endpoints and tier defaults.
const (
	DefaultCDXEndpoint  = "https://web.archive.org/cdx/search/cdx"
	DefaultSnapshotBase = "https://web.archive.org/web"
	DefaultMinInterval  = time.Second
	DefaultTimeout      = 20 * time.Second
)

var errNoSnapshot = errors.New("no usable snapshot in index")

// Getter performs a plain GET. Error statuses are returned, not failed.
type Getter interface {
	Get(ctx context.Context, url string, headers http.Header) (collyfetcher.Response, error)
}

// Config tunes the archive tier.
type Config struct {
	CDXEndpoint      string
	SnapshotBase     string
	MinInterval      time.Duration
	Timeout          time.Duration
	MinContentLength int
	MaxContentSize   int
}

// Tier fetches the most recent successful snapshot of a URL.
type Tier struct {
	getter  Getter
	cache   *Cache
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger
}

// NewTier wires the archive tier. A nil cache disables caching.
func NewTier(getter Getter, cache *Cache, cfg Config, logger *zap.Logger) *Tier {
	if cfg.CDXEndpoint == "" {
		cfg.CDXEndpoint = DefaultCDXEndpoint
	}
	if cfg.SnapshotBase == "" {
		cfg.SnapshotBase = DefaultSnapshotBase
	}
	cfg.SnapshotBase = strings.TrimRight(cfg.SnapshotBase, "/")
	if cfg.MinInterval < 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 100
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = fetch.MaxContentSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Tier{
		getter:  getter,
		cache:   cache,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		logger:  logger.Named("tier3"),
	}
}

// Name implements fetch.Tier.
func (t *Tier) Name() string {
	return fetch.TierArchive
}

// Fetch implements fetch.Tier.
func (t *Tier) Fetch(ctx context.Context, target string) fetch.Outcome {
	base := fetch.Result{URL: target, Fetcher: fetch.FetcherArchive}

	if t.cache != nil {
		if entry, ok := t.cache.Get(target); ok {
			t.logger.Debug("archive cache hit", zap.String("url", target))
			return fetch.Succeeded(fetch.Result{
				URL:        target,
				Title:      entry.Title,
				Content:    entry.Content,
				Fetcher:    fetch.FetcherArchiveCached,
				ArchiveURL: entry.ArchiveURL,
			})
		}
	}

	clean := stripFragment(target)
	snapshotURL, err := t.lookup(ctx, clean)
	if err != nil {
		if ctx.Err() != nil {
			return fetch.Failed(base, fmt.Errorf("archive lookup: %w", ctx.Err()))
		}
		t.logger.Debug("snapshot index unavailable, using latest redirect",
			zap.String("url", clean),
			zap.Error(err),
		)
		snapshotURL = t.cfg.SnapshotBase + "/2/" + clean
	}

	resp, err := t.get(ctx, snapshotURL)
	if err != nil {
		return fetch.Failed(base, fetch.ClassifyError(fmt.Errorf("archive snapshot: %w", err)))
	}
	base.ArchiveURL = snapshotURL
	if resp.URL != "" {
		base.ArchiveURL = resp.URL
	}
	if resp.StatusCode >= http.StatusBadRequest {
		base.StatusCode = resp.StatusCode
		return fetch.Failed(base, fmt.Errorf("archive snapshot: %w", fetch.NewHTTPError(resp.StatusCode)))
	}

	doc := extract.Text(resp.Body)
	if doc.Fallback {
		base.Fetcher = fetch.FetcherArchiveRegexFallback
	}
	if n := utf8.RuneCountInString(doc.Text); n <= t.cfg.MinContentLength {
		return fetch.Failed(base, fmt.Errorf("archived %w: %d characters", fetch.ErrContentTooShort, n))
	}
	base.Title = doc.Title
	base.Content = fetch.TruncateContent(doc.Text, t.cfg.MaxContentSize)

	if t.cache != nil {
		err := t.cache.Put(Entry{
			URL:        target,
			ArchiveURL: base.ArchiveURL,
			Title:      base.Title,
			Content:    base.Content,
		})
		if err != nil {
			t.logger.Warn("write archive cache", zap.String("url", target), zap.Error(err))
		}
	}
	return fetch.Succeeded(base)
}

// lookup returns the newest snapshot URL whose capture status was 200.
func (t *Tier) lookup(ctx context.Context, target string) (string, error) {
	query := url.Values{}
	query.Set("url", target)
	query.Set("output", "json")
	query.Set("limit", "-20")
	query.Set("fl", "timestamp,statuscode,original")

	resp, err := t.get(ctx, t.cfg.CDXEndpoint+"?"+query.Encode())
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fetch.NewHTTPError(resp.StatusCode)
	}
	timestamp, err := newestSuccessful(resp.Body)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", t.cfg.SnapshotBase, timestamp, target), nil
}

// newestSuccessful parses a CDX JSON listing: a header row followed by
// [timestamp, statuscode, original] rows in ascending time order.
func newestSuccessful(body []byte) (string, error) {
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", fmt.Errorf("%w: cdx listing: %w", fetch.ErrParseFailure, err)
	}
	for i := len(rows) - 1; i >= 1; i-- {
		row := rows[i]
		if len(row) >= 2 && row[1] == "200" && row[0] != "" {
			return row[0], nil
		}
	}
	return "", errNoSnapshot
}

// get waits for the global archive slot and issues one bounded request.
func (t *Tier) get(ctx context.Context, rawURL string) (collyfetcher.Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return collyfetcher.Response{}, fmt.Errorf("archive rate limit: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	resp, err := t.getter.Get(reqCtx, rawURL, nil)
	if err != nil {
		return collyfetcher.Response{}, fmt.Errorf("get %s: %w", rawURL, err)
	}
	return resp, nil
}

func stripFragment(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}
