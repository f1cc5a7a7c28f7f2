// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package metrics exposes Prometheus instrumentation for the sync engine:
// upstream fetches, retries, cache efficiency, circuit breaker state, live
// connections and API traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream fetch metrics
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ga_fetches_total",
			Help: "Total number of upstream report fetches",
		},
		[]string{"result"}, // "success", "failure"
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ga_fetch_duration_seconds",
			Help:    "Duration of upstream report fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ga_fetch_errors_total",
			Help: "Total number of classified fetch failures",
		},
		[]string{"error_type"}, // network, authentication, timeout, rateLimit, validation, unknown
	)

	// Retry engine metrics
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts after a retryable failure",
		},
		[]string{"operation", "error_type"},
	)

	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_exhausted_total",
			Help: "Total number of operations that exhausted their retry budget",
		},
		[]string{"operation"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_cache_hits_total",
			Help: "Total number of analytics cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_cache_misses_total",
			Help: "Total number of analytics cache misses",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analytics_cache_entries",
			Help: "Current number of analytics cache entries",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_cache_evictions_total",
			Help: "Total number of analytics cache entries removed",
		},
	)

	CacheStaleWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_cache_stale_writes_total",
			Help: "Total number of cache writes rejected for being older than the stored entry",
		},
	)

	// Sync metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_batch_duration_seconds",
			Help:    "Duration of batch fetch operations in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	SyncProperties = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_properties_total",
			Help: "Per-property outcomes of batch fetches",
		},
		[]string{"result"}, // "success", "failure", "cache_hit"
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful property sync",
		},
	)

	AutoSyncActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autosync_active",
			Help: "Whether an auto-sync job is currently scheduled (0 or 1)",
		},
	)

	AutoSyncIterations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autosync_iterations_total",
			Help: "Total number of auto-sync refresh iterations",
		},
	)

	// Listener / live update metrics
	ListenerCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "update_listeners",
			Help: "Current number of registered update listeners",
		},
	)

	NotificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "update_notifications_total",
			Help: "Total number of update notifications delivered to listeners",
		},
	)

	NotificationPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "update_notification_panics_total",
			Help: "Total number of listener callbacks that panicked during delivery",
		},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections",
			Help: "Current number of active SSE connections",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordFetch records one upstream fetch outcome and its duration. An empty
// errType marks success.
func RecordFetch(duration time.Duration, errType string) {
	FetchDuration.Observe(duration.Seconds())
	if errType == "" {
		FetchesTotal.WithLabelValues("success").Inc()
		SyncLastSuccess.Set(float64(time.Now().Unix()))
		return
	}
	FetchesTotal.WithLabelValues("failure").Inc()
	FetchErrors.WithLabelValues(errType).Inc()
}

// RecordRetry records a retry attempt for an operation.
func RecordRetry(operation, errType string) {
	RetryAttempts.WithLabelValues(operation, errType).Inc()
}

// RecordAPIRequest records one API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
