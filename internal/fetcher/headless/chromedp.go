package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-fetcher/internal/fingerprint"
)

// Config controls the chromedp renderer.
type Config struct {
	// MaxTabs caps concurrently open tabs across the process. Zero means unlimited.
	MaxTabs    int
	Headless   bool
	ChromePath string
}

// Chromedp implements Renderer with headless Chrome.
type Chromedp struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a renderer backed by a shared Chrome allocator. Each
// Render call opens an isolated tab.
func NewChromedp(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxTabs < 0 {
		return nil, errors.New("max tabs must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxTabs > 0 {
		limiter = make(chan struct{}, cfg.MaxTabs)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)

	return &Chromedp{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("chromedp"),
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	return opts
}

// Close shuts down the browser.
func (c *Chromedp) Close() {
	c.allocCancel()
}

// Render navigates to req.URL with the request's identity and returns the DOM
// once the page has enough text or the page timeout has elapsed.
func (c *Chromedp) Render(ctx context.Context, req RenderRequest) (Page, error) {
	if err := c.acquire(ctx); err != nil {
		return Page{}, err
	}
	defer c.release()

	tabCtx, tabCancel := chromedp.NewContext(c.allocator)
	defer tabCancel()

	// Tie the tab to the caller's context as well as the page budget.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, pageBudget(req))
	defer cancel()
	readyBy := time.Now().Add(pageTimeout(req))

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	var pg Page
	actions := []chromedp.Action{
		stealthSetupAction(req.Identity),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(interactionScript, nil, awaitPromise),
		waitForTextAction(req.WaitMinChars, readyBy),
		chromedp.Sleep(req.SettleDelay),
		chromedp.Location(&pg.FinalURL),
		chromedp.Title(&pg.Title),
		chromedp.OuterHTML("html", &pg.HTML, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return Page{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		if errors.Is(tabCtx.Err(), context.DeadlineExceeded) {
			return Page{}, fmt.Errorf("page load timeout after %s: %w", pageBudget(req), context.DeadlineExceeded)
		}
		return Page{}, fmt.Errorf("chromedp run: %w", err)
	}

	pg.StatusCode, pg.FinalURL = meta.snapshotWithFallbacks(req.URL, pg.FinalURL)
	c.logger.Debug("page rendered",
		zap.String("url", req.URL),
		zap.String("final_url", pg.FinalURL),
		zap.Int("status", pg.StatusCode),
		zap.Int("html_bytes", len(pg.HTML)),
	)
	return pg, nil
}

func pageTimeout(req RenderRequest) time.Duration {
	if req.PageTimeout <= 0 {
		return 45 * time.Second
	}
	return req.PageTimeout
}

// pageBudget bounds the whole tab: the readiness wait plus settling and extraction headroom.
func pageBudget(req RenderRequest) time.Duration {
	return pageTimeout(req) + req.SettleDelay + 15*time.Second
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func stealthSetupAction(id fingerprint.Identity) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if id.Profile.UserAgent != "" {
			override := emulation.SetUserAgentOverride(id.Profile.UserAgent)
			if id.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(id.AcceptLanguage)
			}
			if platform := navigatorPlatform(id.Profile.Platform); platform != "" {
				override = override.WithPlatform(platform)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if id.Viewport.Width > 0 && id.Viewport.Height > 0 {
			metrics := emulation.SetDeviceMetricsOverride(int64(id.Viewport.Width), int64(id.Viewport.Height), 1, false)
			if err := metrics.Do(ctx); err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if headers := navigationHeaders(id); len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// navigationHeaders returns the identity's headers minus the ones Chrome
// manages itself.
func navigationHeaders(id fingerprint.Identity) network.Headers {
	headers := network.Headers{}
	for key, value := range id.Headers() {
		switch http.CanonicalHeaderKey(key) {
		case "User-Agent", "Accept-Encoding", "Sec-Fetch-Dest", "Sec-Fetch-Mode", "Sec-Fetch-Site", "Sec-Fetch-User",
			"Sec-Ch-Ua", "Sec-Ch-Ua-Mobile", "Sec-Ch-Ua-Platform":
			continue
		}
		headers[key] = value
	}
	return headers
}

func navigatorPlatform(platform string) string {
	switch platform {
	case "Windows":
		return "Win32"
	case "macOS":
		return "MacIntel"
	case "Linux":
		return "Linux x86_64"
	default:
		return ""
	}
}

// waitForTextAction polls until the body text exceeds minChars or readyBy
// passes. readyBy is fixed when the tab opens, so navigation time counts
// against it. Running out of time is not an error; the page is used as is.
func waitForTextAction(minChars int, readyBy time.Time) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if minChars <= 0 {
			return nil
		}
		deadline := time.NewTimer(time.Until(readyBy))
		defer deadline.Stop()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			var length int
			if err := chromedp.Evaluate(innerTextLengthScript, &length).Do(ctx); err == nil && length > minChars {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("wait for content: %w", ctx.Err())
			case <-deadline.C:
				return nil
			case <-ticker.C:
			}
		}
	})
}

func (c *Chromedp) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser tab wait canceled: %w", ctx.Err())
	}
}

func (c *Chromedp) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

// capture keeps the first document response; later document responses are
// iframes or client-side navigations.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "" && finalURL != "about:blank":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
