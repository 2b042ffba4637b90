// Package metrics exposes Prometheus collectors for fetch and import runs.
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	resp, err := session.Get(ctx, url)
//	metrics.ObserveFetch(host, status, timer.Stop())
//
//	metrics.DocumentsProcessed.WithLabelValues("Customer", metrics.OutcomeInserted).Inc()
//
// All collectors are registered with the default registry through promauto.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Document outcomes used as the "outcome" label
const (
	OutcomeInserted  = "inserted"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeDeferred  = "deferred"
	OutcomeAttached  = "attached"
	OutcomeOrphaned  = "orphaned"
	OutcomeFailed    = "failed"
)

var (
	// FetchRequests counts GETs by host and status code ("error" when no response)
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restmigrate_fetch_requests_total",
			Help: "Total number of HTTP GETs issued by fetch sessions",
		},
		[]string{"host", "status"},
	)

	// FetchLatency tracks GET round trips in seconds
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restmigrate_fetch_latency_seconds",
			Help:    "HTTP GET latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"host"},
	)

	// AuthTransitions counts fetch session state changes
	AuthTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restmigrate_session_transitions_total",
			Help: "Fetch session state machine transitions",
		},
		[]string{"from", "to"},
	)

	// RecordsFetched counts records returned by FetchAll
	RecordsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restmigrate_records_fetched_total",
			Help: "Total number of source records fetched",
		},
	)

	// DocumentsProcessed counts candidate documents by entity type and outcome
	DocumentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restmigrate_documents_processed_total",
			Help: "Candidate documents processed by import runs",
		},
		[]string{"entity_type", "outcome"},
	)

	// ImportRuns counts finished import runs by status
	ImportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restmigrate_import_runs_total",
			Help: "Import runs by final status",
		},
		[]string{"status"},
	)

	// ImportDuration tracks whole import runs in seconds
	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "restmigrate_import_duration_seconds",
			Help:    "Import run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// RateLimiterTokens is the fetch rate limiter's bucket level
	RateLimiterTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "restmigrate_rate_limiter_tokens",
			Help: "Tokens left in the fetch rate limiter bucket",
		},
	)

	// RateLimiterRequests is the limiter's running total of admitted
	// ("allowed") and cancelled ("blocked") waits
	RateLimiterRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "restmigrate_rate_limiter_requests",
			Help: "Requests admitted or refused by the fetch rate limiter",
		},
		[]string{"result"},
	)

	// RateLimiterAverageWait is the mean time an admitted request waited
	RateLimiterAverageWait = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "restmigrate_rate_limiter_average_wait_seconds",
			Help: "Average rate limiter wait of admitted requests in seconds",
		},
	)

	// ProgressDropped counts progress events discarded by full sinks
	ProgressDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restmigrate_progress_dropped_total",
			Help: "Progress events dropped because a sink was full",
		},
		[]string{"sink"},
	)
)

// ObserveFetch records one GET. status <= 0 means no response was received.
func ObserveFetch(host string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	FetchRequests.WithLabelValues(host, label).Inc()
	FetchLatency.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveRateLimiter records a rate limiter snapshot
func ObserveRateLimiter(tokens float64, allowed, blocked int64, avgWait time.Duration) {
	RateLimiterTokens.Set(tokens)
	RateLimiterRequests.WithLabelValues("allowed").Set(float64(allowed))
	RateLimiterRequests.WithLabelValues("blocked").Set(float64(blocked))
	RateLimiterAverageWait.Set(avgWait.Seconds())
}

// Timer measures an elapsed duration
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since NewTimer. It can be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
