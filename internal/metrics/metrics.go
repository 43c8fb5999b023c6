// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check outcomes used as the "outcome" label.
const (
	OutcomeAllowed = "allowed"
	OutcomeLimited = "limited"
	OutcomeError   = "error"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// ActiveConnections tracks current active connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	// RateLimitChecksTotal counts window checks by policy and outcome.
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Total number of rate limit checks",
		},
		[]string{"policy", "outcome"},
	)

	// BlockedRequestsTotal counts requests rejected by the block list.
	BlockedRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_blocked_requests_total",
			Help: "Total number of requests rejected from blocked addresses",
		},
	)

	// BlocksCreatedTotal counts block records written.
	BlocksCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_blocks_created_total",
			Help: "Total number of block records created",
		},
	)

	// StoreOpDuration measures store round-trip latency.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratelimit_store_op_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)

	// StoreErrorsTotal counts failed store operations.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Total number of failed store operations",
		},
		[]string{"op"},
	)

	// ViolationsRecordedTotal counts violations persisted to the audit store.
	ViolationsRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_violations_recorded_total",
			Help: "Total number of violations written to the audit store",
		},
	)

	// ViolationsDroppedTotal counts violations dropped because the buffer was full
	// or the audit store write failed.
	ViolationsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_violations_dropped_total",
			Help: "Total number of violations dropped before reaching the audit store",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request metric.
func RecordRequest(method, path string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCheck records the outcome of one policy check.
func RecordCheck(policy, outcome string) {
	RateLimitChecksTotal.WithLabelValues(policy, outcome).Inc()
}

// RecordBlockedRequest records a request rejected by the block list.
func RecordBlockedRequest() {
	BlockedRequestsTotal.Inc()
}

// RecordBlockCreated records a new block record.
func RecordBlockCreated() {
	BlocksCreatedTotal.Inc()
}

// RecordStoreOp records a store round trip.
func RecordStoreOp(op string, duration time.Duration, err error) {
	StoreOpDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}

// RecordViolationsRecorded records violations written to the audit store.
func RecordViolationsRecorded(n int) {
	ViolationsRecordedTotal.Add(float64(n))
}

// RecordViolationsDropped records violations that never reached the audit store.
func RecordViolationsDropped(n int) {
	ViolationsDroppedTotal.Add(float64(n))
}
