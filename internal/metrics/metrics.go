// Package metrics exposes Prometheus collectors for the fetch service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchResultsTotal          *prometheus.CounterVec
	fetchTierOutcomesTotal     *prometheus.CounterVec
	fetchSoftBlocksTotal       *prometheus.CounterVec
	fetchArchiveCacheTotal     *prometheus.CounterVec
	fetchBatchURLs             prometheus.Histogram
	fetchBatchDurationSeconds  prometheus.Histogram
	fetchRateLimitDelaySeconds *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_results_total",
				Help: "Total number of per-URL results, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchTierOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_tier_outcomes_total",
				Help: "Tier attempts, labeled by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		fetchSoftBlocksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_soft_blocks_total",
				Help: "Soft blocks detected, labeled by tier.",
			},
			[]string{"tier"},
		)

		fetchArchiveCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_archive_cache_total",
				Help: "Archive cache lookups, labeled by result (hit, miss, expired, corrupt).",
			},
			[]string{"result"},
		)

		fetchBatchURLs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetch_batch_urls",
				Help:    "Number of URLs per batch.",
				Buckets: []float64{1, 2, 5, 10, 20, 50},
			},
		)

		fetchBatchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetch_batch_duration_seconds",
				Help:    "Wall time of a batch fetch.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)

		fetchRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain spacing delays.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResult counts a finished URL.
func ObserveResult(rawURL, status string) {
	Init()
	fetchResultsTotal.WithLabelValues(SanitizeSite(rawURL), status).Inc()
}

// ObserveTierOutcome counts one tier attempt.
func ObserveTierOutcome(tier, outcome string) {
	Init()
	fetchTierOutcomesTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveSoftBlock counts a detected block page.
func ObserveSoftBlock(tier string) {
	Init()
	fetchSoftBlocksTotal.WithLabelValues(tier).Inc()
}

// ObserveArchiveCache records a cache lookup result.
func ObserveArchiveCache(result string) {
	Init()
	fetchArchiveCacheTotal.WithLabelValues(result).Inc()
}

// ObserveBatch records batch size and duration.
func ObserveBatch(urls int, duration time.Duration) {
	Init()
	fetchBatchURLs.Observe(float64(urls))
	fetchBatchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	fetchRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
