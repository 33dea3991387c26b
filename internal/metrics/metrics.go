// Package metrics exposes Prometheus collectors for the harvester service.
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

// Pool labels used with the in-flight gauge.
const (
	PoolItems    = "items"
	PoolSubItems = "sub_items"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	subItemsTotal              *prometheus.CounterVec
	crawlsTotal                *prometheus.CounterVec
	crawlDurationSeconds       prometheus.Histogram
	poolInFlight               *prometheus.GaugeVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	promotionsTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Fetch attempts, labeled by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Items processed, labeled by status.",
			},
			[]string{"status"},
		)

		subItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_sub_items_total",
				Help: "Sub-items processed, labeled by status.",
			},
			[]string{"status"},
		)

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_crawls_total",
				Help: "Catalog page crawls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_crawl_duration_seconds",
				Help:    "Histogram of catalog page crawl durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		poolInFlight = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_pool_in_flight",
				Help: "Tasks currently running, labeled by pool.",
			},
			[]string{"pool"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		promotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_headless_promotions_total",
				Help: "Probe responses re-fetched in a browser, labeled by outcome.",
			},
			[]string{"outcome"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(backend, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveFetchBytes adds fetched body size for the URL's host.
func ObserveFetchBytes(rawURL string, n int) {
	if n <= 0 {
		return
	}
	Init()
	fetchBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(n))
}

// ObserveItem counts one finished item pipeline.
func ObserveItem(status string) {
	Init()
	itemsTotal.WithLabelValues(status).Inc()
}

// ObserveSubItem counts one finished sub-item.
func ObserveSubItem(status string) {
	Init()
	subItemsTotal.WithLabelValues(status).Inc()
}

// ObserveCrawl records the outcome and duration of a catalog page crawl.
func ObserveCrawl(outcome string, duration time.Duration) {
	Init()
	crawlsTotal.WithLabelValues(outcome).Inc()
	crawlDurationSeconds.Observe(duration.Seconds())
}

// IncInFlight marks a task of the named pool as running.
func IncInFlight(pool string) {
	Init()
	poolInFlight.WithLabelValues(pool).Inc()
}

// DecInFlight marks a task of the named pool as finished.
func DecInFlight(pool string) {
	Init()
	poolInFlight.WithLabelValues(pool).Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePromotion counts a headless promotion: rendered or fallback.
func ObservePromotion(outcome string) {
	Init()
	promotionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
