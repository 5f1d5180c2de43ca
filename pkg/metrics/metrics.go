// Package metrics exposes the Prometheus collectors the API, worker pool,
// and maintainer register themselves against. Collectors are package-level
// so any component can record against them without threading a registry
// through its constructor.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tminus_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tminus_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Worker pool metrics
	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tminus_jobs_processed_total",
			Help: "Total number of worker jobs processed by type",
		},
		[]string{"job_type"},
	)

	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tminus_jobs_failed_total",
			Help: "Total number of worker jobs that exhausted retries by type",
		},
		[]string{"job_type"},
	)

	JobsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tminus_jobs_retried_total",
			Help: "Total number of worker job retry attempts by type",
		},
		[]string{"job_type"},
	)

	JobsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tminus_jobs_dropped_total",
			Help: "Total number of worker jobs dropped by rate limiting",
		},
		[]string{"job_type"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tminus_job_duration_seconds",
			Help:    "Worker job processing duration in seconds by type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tminus_queue_depth",
			Help: "Current worker queue depth by queue",
		},
		[]string{"queue"},
	)

	// Maintainer metrics
	ChannelsRenewedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tminus_channels_renewed_total",
			Help: "Total number of provider watch channels renewed",
		},
	)

	TokensRefreshedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tminus_tokens_refreshed_total",
			Help: "Total number of OAuth refresh-token rotations performed",
		},
	)

	HoldsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tminus_holds_expired_total",
			Help: "Total number of provisional holds garbage-collected after expiry",
		},
	)

	DriftReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tminus_drift_reconciled_total",
			Help: "Total number of users whose mirror registry drift was reconciled",
		},
	)

	MaintainerCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tminus_maintainer_cycle_duration_seconds",
			Help:    "Maintainer sweep duration in seconds by sweep kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal,
		APIRequestDuration,
		JobsProcessedTotal,
		JobsFailedTotal,
		JobsRetriedTotal,
		JobsDroppedTotal,
		JobDuration,
		QueueDepth,
		ChannelsRenewedTotal,
		TokensRefreshedTotal,
		HoldsExpiredTotal,
		DriftReconciledTotal,
		MaintainerCycleDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}
