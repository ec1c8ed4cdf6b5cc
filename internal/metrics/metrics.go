// Package metrics holds the Prometheus instrumentation shared by the
// service and the dashboard client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	PointsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_points_ingested_total",
			Help: "Telemetry points submitted for ingestion, by result",
		},
		[]string{"result"}, // "accepted", "rejected", "failed"
	)

	// Store
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_store_query_duration_seconds",
			Help:    "Duration of telemetry store reads in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Device resolution
	ResolverSourceResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_source_results_total",
			Help: "Device resolver source attempts, by source and outcome",
		},
		[]string{"source", "outcome"}, // outcome: "hit", "empty", "error", "skipped"
	)

	// Dashboard polling
	DashboardFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_fetches_total",
			Help: "Dashboard fetch cycles, by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	DashboardActiveTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashboard_active_poll_tasks",
			Help: "Currently scheduled dashboard poll tasks",
		},
	)

	// Client circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "client_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_circuit_breaker_requests_total",
			Help: "Requests passed through the client circuit breaker, by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)
)

// ObserveStoreQuery records the time elapsed since start. Intended for
// use with defer.
func ObserveStoreQuery(operation string, start time.Time) {
	StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordAPIRequest records a completed API request.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the active request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
