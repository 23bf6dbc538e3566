// Package metrics exposes Prometheus collectors for the notifier service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Notice outcome labels recorded by ObserveNotice.
const (
	NoticeDispatched = "dispatched"
	NoticeDuplicate  = "duplicate"
	NoticeSkipped    = "skipped"
	NoticeFailed     = "failed"
	NoticeUnrecorded = "unrecorded"
)

var (
	cyclesTotal           *prometheus.CounterVec
	cycleDurationSeconds  prometheus.Histogram
	noticesTotal          *prometheus.CounterVec
	translationsTotal     *prometheus.CounterVec
	translationCacheTotal *prometheus.CounterVec
	dispatchAttemptsTotal *prometheus.CounterVec
	fetchRetriesTotal     prometheus.Counter
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_cycles_total",
				Help: "Total number of poll cycles, labeled by outcome.",
			},
			[]string{"status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notifier_cycle_duration_seconds",
				Help:    "Histogram of poll cycle durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		noticesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_notices_total",
				Help: "Total number of notices handled, labeled by outcome.",
			},
			[]string{"status"},
		)

		translationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_translations_total",
				Help: "Total number of translation backend calls, labeled by backend and result.",
			},
			[]string{"backend", "result"},
		)

		translationCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_translation_cache_total",
				Help: "Total number of translation cache lookups, labeled hit or miss.",
			},
			[]string{"result"},
		)

		dispatchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_dispatch_attempts_total",
				Help: "Total number of dispatch attempts, labeled by result.",
			},
			[]string{"result"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "notifier_fetch_retries_total",
				Help: "Total number of circulars page fetch retries.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records one finished cycle.
func ObserveCycle(status string, duration time.Duration) {
	if cyclesTotal == nil {
		return
	}
	cyclesTotal.WithLabelValues(status).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveNotice increments the per-notice outcome counter.
func ObserveNotice(status string) {
	if noticesTotal == nil {
		return
	}
	noticesTotal.WithLabelValues(status).Inc()
}

// ObserveTranslation records one backend call.
func ObserveTranslation(backend, result string) {
	if translationsTotal == nil {
		return
	}
	translationsTotal.WithLabelValues(backend, result).Inc()
}

// ObserveCacheLookup records a translation cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if translationCacheTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	translationCacheTotal.WithLabelValues(result).Inc()
}

// ObserveDispatchAttempt records one send attempt against the Bot API.
func ObserveDispatchAttempt(result string) {
	if dispatchAttemptsTotal == nil {
		return
	}
	dispatchAttemptsTotal.WithLabelValues(result).Inc()
}

// IncFetchRetries counts a fetch retry.
func IncFetchRetries() {
	if fetchRetriesTotal == nil {
		return
	}
	fetchRetriesTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
