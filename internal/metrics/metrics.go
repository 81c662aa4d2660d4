// Package metrics exposes Prometheus collectors for the scraping engine.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	gateInUse                  prometheus.Gauge
	gateWaitSeconds            prometheus.Histogram
	gateBusyTotal              prometheus.Counter
	activeSessions             prometheus.Gauge
	pagesProcessedTotal        *prometheus.CounterVec
	frontierItems              *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prowl_fetch_attempts_total",
				Help: "Total executor fetch attempts, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prowl_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by strategy.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		)

		gateInUse = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "prowl_gate_in_use",
				Help: "Browser slots currently held by heavy fetches.",
			},
		)

		gateWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prowl_gate_wait_seconds",
				Help:    "Histogram of admission-gate wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 120},
			},
		)

		gateBusyTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prowl_gate_busy_total",
				Help: "Total gate admissions rejected because capacity was exhausted.",
			},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "prowl_active_sessions",
				Help: "Number of crawl sessions currently running.",
			},
		)

		pagesProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prowl_pages_processed_total",
				Help: "Total frontier items finished, labeled by result.",
			},
			[]string{"result"},
		)

		frontierItems = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prowl_frontier_items",
				Help: "Frontier items by status across active sessions.",
			},
			[]string{"status"},
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

// ObserveFetch records one executor attempt.
func ObserveFetch(strategy string, success bool, duration time.Duration) {
	Init()
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	fetchAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// SetGateInUse publishes the number of held browser slots.
func SetGateInUse(n int) {
	Init()
	gateInUse.Set(float64(n))
}

// ObserveGateWait records how long a caller waited for admission.
func ObserveGateWait(duration time.Duration) {
	Init()
	gateWaitSeconds.Observe(duration.Seconds())
}

// ObserveGateBusy counts a busy rejection.
func ObserveGateBusy() {
	Init()
	gateBusyTotal.Inc()
}

// IncActiveSessions increments the running-session gauge.
func IncActiveSessions() {
	Init()
	activeSessions.Inc()
}

// DecActiveSessions decrements the running-session gauge.
func DecActiveSessions() {
	Init()
	activeSessions.Dec()
}

// ObservePage counts one finished frontier item.
func ObservePage(result string) {
	Init()
	pagesProcessedTotal.WithLabelValues(result).Inc()
}

// SetFrontierStatus publishes the item count for one frontier status.
func SetFrontierStatus(status string, count int) {
	Init()
	frontierItems.WithLabelValues(status).Set(float64(count))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
