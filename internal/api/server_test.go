package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-fetcher/internal/config"
	"github.com/JakeFAU/digest-fetcher/internal/fetch"
)

func TestServer_Fetch_Succeeds(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	server := NewServer(fetcher, &fakeIDGen{ids: []string{"batch-1"}}, testConfig(), zap.NewNop())

	reqBody := []byte(`{"urls":["example.com","https://example.org"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		BatchID        string         `json:"batch_id"`
		Results        []fetch.Result `json:"results"`
		ResourceBudget map[string]any `json:"resource_budget_snapshot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "batch-1", body.BatchID)
	require.Len(t, body.Results, 2)
	require.Equal(t, "example.com", body.Results[0].URL)
	require.Equal(t, "ok", body.ResourceBudget["usage_warning"])
	require.Equal(t, 3, fetcher.lastParallel)
}

func TestServer_Fetch_MaxParallelOverride(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	server := NewServer(fetcher, &fakeIDGen{}, testConfig(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"urls":["a.com"],"max_parallel":7}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 7, fetcher.lastParallel)
}

func TestServer_Fetch_InvalidMaxParallel(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"urls":["a.com"],"max_parallel":0}`))
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Fetch_InvalidJSON(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Fetch_MissingURLs(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"urls":[]}`))
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "urls required")
}

func TestServer_Fetch_IDFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeFetcher{}, &fakeIDGen{err: errors.New("entropy")}, testConfig(), zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"urls":["a.com"]}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	notReady := NewServer(nil, &fakeIDGen{}, testConfig(), nil)
	rec := httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := NewServer(&fakeFetcher{}, &fakeIDGen{}, cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"urls":["a.com"]}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"urls":["a.com"]}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open so orchestrators can reach them.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeFetcher{panicWith: "boom"}, &fakeIDGen{}, testConfig(), zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"urls":["a.com"]}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer().Handler().ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	newTestServer().Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeFetcher struct {
	mu           sync.Mutex
	lastParallel int
	panicWith    any
}

func (f *fakeFetcher) Fetch(_ context.Context, urls []string, maxParallel int) fetch.Batch {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	f.mu.Lock()
	f.lastParallel = maxParallel
	f.mu.Unlock()
	results := make([]fetch.Result, len(urls))
	for i, u := range urls {
		results[i] = fetch.Result{URL: u, Status: fetch.StatusSuccess, Content: "content"}
	}
	return fetch.Batch{Results: results, ResourceBudget: map[string]any{"usage_warning": "ok"}}
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Fetch.MaxParallel = 3
	return cfg
}

func newTestServer() *Server {
	return NewServer(&fakeFetcher{}, &fakeIDGen{}, testConfig(), zap.NewNop())
}
