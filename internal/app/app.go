// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-fetcher/internal/archive"
	"github.com/JakeFAU/digest-fetcher/internal/budget"
	"github.com/JakeFAU/digest-fetcher/internal/clock/system"
	"github.com/JakeFAU/digest-fetcher/internal/config"
	"github.com/JakeFAU/digest-fetcher/internal/detector"
	"github.com/JakeFAU/digest-fetcher/internal/fetch"
	collyfetcher "github.com/JakeFAU/digest-fetcher/internal/fetcher/colly"
	"github.com/JakeFAU/digest-fetcher/internal/fetcher/headless"
	"github.com/JakeFAU/digest-fetcher/internal/fetcher/lightweight"
	"github.com/JakeFAU/digest-fetcher/internal/fingerprint"
	"github.com/JakeFAU/digest-fetcher/internal/policy/ratelimit"
)

// App holds the shared, long-lived services built from configuration.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	engine    *fetch.Engine
	cache     *archive.Cache
	browser   *headless.Chromedp
	transport *lightweight.CloakTransport
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	fs afero.Fs
}

// WithFs overrides the filesystem used for the archive cache and budget file.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// New wires every tier and collaborator described by cfg.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	clock := system.New()
	pool := fingerprint.New()
	detect := detector.New(cfg.Detector.Phrases, cfg.Detector.MinMatches, cfg.Detector.ShortContentChars)

	engineCfg := fetch.EngineConfig{
		Limiter: ratelimit.New(ratelimit.Config{
			MaxConcurrent: cfg.RateLimit.MaxConcurrent,
			MinDelay:      cfg.RateLimit.MinDelay,
			MaxDelay:      cfg.RateLimit.MaxDelay,
		}, ratelimit.WithClock(clock)),
		Budget:      budget.NewFileProvider(o.fs, cfg.Budget.UsageFile, cfg.Budget.MaxInputTokens, logger),
		MaxParallel: cfg.Fetch.MaxParallel,
	}

	if cfg.Browser.Enabled {
		browser, err := headless.NewChromedp(headless.Config{
			MaxTabs:    cfg.Fetch.MaxParallel,
			Headless:   cfg.Browser.Headless,
			ChromePath: cfg.Browser.ChromePath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init browser: %w", err)
		}
		a.browser = browser
		engineCfg.Browser = headless.NewTier(
			browser,
			pool,
			detect,
			fetch.NewRetryPolicy(cfg.Browser.MaxRetries, cfg.Browser.RetryBaseDelay, cfg.Browser.RetryJitter),
			clock,
			headless.TierConfig{
				PageTimeout:      cfg.Browser.PageTimeout,
				SettleDelay:      cfg.Browser.SettleDelay,
				WaitMinChars:     cfg.Browser.WaitMinChars,
				MinContentLength: cfg.Fetch.MinContentLength,
				MaxContentSize:   cfg.Fetch.MaxContentSize,
			},
			logger,
		)
	}

	if cfg.Lightweight.Enabled {
		a.transport = lightweight.NewCloakTransport()
		engineCfg.Lightweight = lightweight.NewTier(a.transport, pool, detect, lightweight.Config{
			Timeout:        cfg.Lightweight.Timeout,
			MaxContentSize: cfg.Fetch.MaxContentSize,
		}, logger)
	}

	if cfg.Archive.Enabled {
		cache, err := archive.NewCache(o.fs, cfg.Archive.CacheDir, cfg.Archive.TTL,
			archive.WithClock(clock), archive.WithLogger(logger.Named("archive_cache")))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init archive cache: %w", err)
		}
		a.cache = cache
		getter := collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Archive.UserAgent,
			Timeout:   cfg.Archive.Timeout,
		})
		engineCfg.Archive = archive.NewTier(getter, cache, archive.Config{
			CDXEndpoint:      cfg.Archive.CDXEndpoint,
			SnapshotBase:     cfg.Archive.SnapshotBase,
			MinInterval:      cfg.Archive.MinInterval,
			Timeout:          cfg.Archive.Timeout,
			MinContentLength: cfg.Fetch.MinContentLength,
			MaxContentSize:   cfg.Fetch.MaxContentSize,
		}, logger)
	}

	a.engine = fetch.NewEngine(engineCfg, logger)
	logger.Info("fetch engine ready",
		zap.Bool("browser", cfg.Browser.Enabled),
		zap.Bool("lightweight", cfg.Lightweight.Enabled),
		zap.Bool("archive", cfg.Archive.Enabled),
		zap.Int("max_parallel", cfg.Fetch.MaxParallel),
	)
	return a, nil
}

// Engine returns the batch fetch engine.
func (a *App) Engine() *fetch.Engine {
	return a.engine
}

// Fetch runs a batch through the engine.
func (a *App) Fetch(ctx context.Context, urls []string, maxParallel int) fetch.Batch {
	return a.engine.Fetch(ctx, urls, maxParallel)
}

// ErrCacheDisabled is returned by PruneCache when the archive tier is off.
var ErrCacheDisabled = errors.New("archive cache disabled")

// PruneCache removes expired archive cache entries.
func (a *App) PruneCache() (int, error) {
	if a.cache == nil {
		return 0, ErrCacheDisabled
	}
	removed, err := a.cache.Prune()
	if err != nil {
		return 0, fmt.Errorf("prune archive cache: %w", err)
	}
	return removed, nil
}

// Cache returns the archive cache, or nil when the archive tier is disabled.
func (a *App) Cache() *archive.Cache {
	return a.cache
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close releases the browser and pooled connections.
func (a *App) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.transport != nil {
		a.transport.Close()
	}
}
