// Package headless implements the browser tier: a stealth-configured headless
// Chrome renderer and the retrying tier that extracts and classifies its output.
package headless

import (
	"context"
	"time"

	"github.com/JakeFAU/digest-fetcher/internal/fingerprint"
)

// RenderRequest describes one browser navigation.
type RenderRequest struct {
	URL          string
	Identity     fingerprint.Identity
	PageTimeout  time.Duration
	SettleDelay  time.Duration
	WaitMinChars int
}

// Page is the settled state of a rendered document.
type Page struct {
	HTML       string
	FinalURL   string
	Title      string
	StatusCode int
}

// Renderer loads a URL in a real browser and returns the settled DOM.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (Page, error)
}
