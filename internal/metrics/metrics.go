// Package metrics exposes process-wide Prometheus collectors for the fetch
// stack, sinks, and the HTTP API.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	fetchRetriesTotal          *prometheus.CounterVec
	robotsFallbackTotal        prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	sinkWritesTotal            *prometheus.CounterVec
	headlessPromotionsTotal    *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gather_http_requests_total",
				Help: "API requests, labeled by method and status code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gather_http_request_duration_seconds",
				Help:    "API request latency, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gather_fetch_retries_total",
				Help: "Fetch attempts retried after a transient failure, labeled by site.",
			},
			[]string{"site"},
		)
		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gather_robots_fallback_total",
				Help: "robots.txt requests that timed out and fell back to allow-all.",
			},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gather_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-site rate limit token.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30},
			},
			[]string{"site"},
		)
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gather_fetch_cache_lookups_total",
				Help: "Response cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)
		sinkWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gather_sink_writes_total",
				Help: "Items written by sinks, labeled by sink kind and result.",
			},
			[]string{"sink", "result"},
		)
		headlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gather_headless_promotions_total",
				Help: "Responses re-fetched in a headless browser, labeled by site and result.",
			},
			[]string{"site", "result"},
		)
	})
}

// SanitizeSite reduces a URL or host to a lowercase hostname label, or "unknown".
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

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetchRetry counts a retried fetch.
func ObserveFetchRetry(site string) {
	Init()
	fetchRetriesTotal.WithLabelValues(site).Inc()
}

// ObserveRobotsFallback counts a robots.txt request that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a response cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveSinkWrite counts one item written (or rejected) by a sink.
func ObserveSinkWrite(sink string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	sinkWritesTotal.WithLabelValues(sink, result).Inc()
}

// ObserveHeadlessPromotion counts a plain response that was re-rendered headless.
func ObserveHeadlessPromotion(site string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	headlessPromotionsTotal.WithLabelValues(site, result).Inc()
}
