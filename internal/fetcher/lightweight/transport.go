// Package lightweight implements the second fetch tier: a direct GET through a
// client whose TLS handshake impersonates the identity's browser.
package lightweight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sardanioss/httpcloak/client"

	"github.com/JakeFAU/digest-fetcher/internal/fingerprint"
)

// Request is one GET issued by the tier.
type Request struct {
	URL      string
	Identity fingerprint.Identity
	Timeout  time.Duration
}

// Response is what the tier needs back from a transport.
type Response struct {
	StatusCode  int
	ContentType string
	FinalURL    string
	Body        []byte
}

// Transport performs a browser-impersonating GET.
type Transport interface {
	Get(ctx context.Context, req Request) (Response, error)
}

// CloakTransport implements Transport with httpcloak clients, one per TLS preset.
type CloakTransport struct {
	mu      sync.Mutex
	clients map[string]*client.Client
}

// NewCloakTransport creates an empty transport. Clients are built lazily.
func NewCloakTransport() *CloakTransport {
	return &CloakTransport{clients: make(map[string]*client.Client)}
}

func (t *CloakTransport) clientFor(preset string) *client.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[preset]
	if !ok {
		c = client.NewClient(preset)
		t.clients[preset] = c
	}
	return c
}

// Get implements Transport.
func (t *CloakTransport) Get(ctx context.Context, req Request) (Response, error) {
	resp, err := t.clientFor(req.Identity.Profile.TLSProfile).Do(ctx, newCloakRequest(req))
	if err != nil {
		return Response{}, fmt.Errorf("tls client get: %w", err)
	}
	defer func() { _ = resp.Close() }()

	body, err := resp.Bytes()
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.GetHeader("Content-Type"),
		FinalURL:    resp.FinalURL,
		Body:        body,
	}, nil
}

// newCloakRequest maps an identity onto an httpcloak navigation request.
func newCloakRequest(req Request) *client.Request {
	headers := make(map[string][]string)
	for key, value := range req.Identity.Headers() {
		if value == "" {
			continue
		}
		headers[key] = []string{value}
	}

	fetchSite := client.FetchSiteNone
	if req.Identity.Referer != fingerprint.NoReferer {
		fetchSite = client.FetchSiteCrossSite
	}

	return &client.Request{
		Method:       "GET",
		URL:          req.URL,
		Headers:      headers,
		Timeout:      req.Timeout,
		UserAgent:    req.Identity.Profile.UserAgent,
		Referer:      req.Identity.Referer,
		FetchSite:    fetchSite,
		DisableRetry: true,
	}
}

// Close releases every pooled connection.
func (t *CloakTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for preset, c := range t.clients {
		c.Close()
		delete(t.clients, preset)
	}
}
