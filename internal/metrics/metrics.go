// Package metrics exposes Prometheus collectors for the monitor service.
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

// Check outcomes recorded by ObserveCheck.
const (
	OutcomeBaseline    = "baseline"
	OutcomeUnchanged   = "unchanged"
	OutcomeChanged     = "changed"
	OutcomeFetchError  = "fetch_error"
	OutcomeSystemError = "system_error"
)

var (
	checksTotal                *prometheus.CounterVec
	checksInFlight             prometheus.Gauge
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	summariesTotal             *prometheus.CounterVec
	summaryDurationSeconds     prometheus.Histogram
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmonitor_checks_total",
				Help: "Total number of link checks, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		checksInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webmonitor_checks_in_flight",
				Help: "Number of link checks currently executing.",
			},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmonitor_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webmonitor_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies including retries, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"site"},
		)

		summariesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmonitor_summaries_total",
				Help: "Total number of summarization attempts, labeled by result.",
			},
			[]string{"result"},
		)

		summaryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webmonitor_summary_duration_seconds",
				Help:    "Histogram of summarization latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webmonitor_rate_limit_delay_seconds",
				Help:    "Histogram of per-host politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
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

// ObserveCheck increments the check counter for the given outcome.
func ObserveCheck(outcome string) {
	Init()
	checksTotal.WithLabelValues(outcome).Inc()
}

// CheckStarted increments the in-flight gauge and returns its matching decrement.
func CheckStarted() func() {
	Init()
	checksInFlight.Inc()
	return checksInFlight.Dec
}

// ObserveFetchAttempt records one fetch attempt outcome.
func ObserveFetchAttempt(rawURL, result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), result).Inc()
}

// ObserveFetch records the total latency of a fetch including retries.
func ObserveFetch(rawURL string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(duration.Seconds())
}

// ObserveSummary records a summarization attempt.
func ObserveSummary(result string, duration time.Duration) {
	Init()
	summariesTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		summaryDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
