// Package metrics exposes Prometheus collectors for the gatekeeper service.
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

var (
	gateVerdictsTotal          *prometheus.CounterVec
	escapeAttemptsTotal        *prometheus.CounterVec
	browserDetectionsTotal     *prometheus.CounterVec
	analyticsEventsTotal       *prometheus.CounterVec
	analyticsDroppedTotal      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		gateVerdictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_gate_verdicts_total",
				Help: "Edge gatekeeper verdicts, labeled by path category, verdict, and reason.",
			},
			[]string{"category", "verdict", "reason"},
		)

		escapeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_escape_attempts_total",
				Help: "In-app browser escape attempts, labeled by method and outcome.",
			},
			[]string{"method", "outcome"},
		)

		browserDetectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_browser_detections_total",
				Help: "Runtime browser classifications, labeled by in-app flag and app.",
			},
			[]string{"in_app", "app"},
		)

		analyticsEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_analytics_events_total",
				Help: "Analytics events written, labeled by sink and status.",
			},
			[]string{"sink", "status"},
		)

		analyticsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkgate_analytics_dropped_total",
				Help: "Analytics events dropped due to recorder backpressure.",
			},
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveVerdict counts one gatekeeper decision.
func ObserveVerdict(category, verdict, reason string) {
	Init()
	gateVerdictsTotal.WithLabelValues(category, verdict, reason).Inc()
}

// ObserveEscapeAttempt counts one escape technique invocation.
func ObserveEscapeAttempt(method, outcome string) {
	Init()
	escapeAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveDetection counts one runtime browser classification.
func ObserveDetection(inApp bool, app string) {
	Init()
	browserDetectionsTotal.WithLabelValues(strconv.FormatBool(inApp), app).Inc()
}

// ObserveAnalyticsWrite counts one sink write; status is "ok" or "error".
func ObserveAnalyticsWrite(sink, status string) {
	Init()
	analyticsEventsTotal.WithLabelValues(sink, status).Inc()
}

// ObserveAnalyticsDropped counts events discarded under backpressure.
func ObserveAnalyticsDropped(n int) {
	Init()
	if n > 0 {
		analyticsDroppedTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
