package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backfill_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	JobsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_jobs_started_total",
			Help: "Total number of jobs started by job type",
		},
		[]string{"job_type"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backfill_job_duration_seconds",
			Help:    "Time taken for a job to reach a terminal state, in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 3600, 14400, 43200},
		},
		[]string{"job_type", "status"},
	)

	// Work unit metrics
	UnitsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_units_processed_total",
			Help: "Total number of work units processed by job type and outcome",
		},
		[]string{"job_type", "outcome"},
	)

	UnitProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backfill_unit_process_duration_seconds",
			Help:    "Time taken to process a single work unit, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	// Rate limiter metrics
	RateLimiterWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backfill_rate_limiter_wait_seconds",
			Help:    "Time spent waiting to acquire a rate limiter token",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimiterTokensInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backfill_rate_limiter_tokens_in_flight",
			Help: "Number of rate limiter tokens currently held",
		},
	)

	RateLimiterDelayMS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backfill_rate_limiter_delay_milliseconds",
			Help: "Current backoff delay applied before granting the next token",
		},
	)

	// Snapshot metrics
	SnapshotWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_snapshot_writes_total",
			Help: "Total number of snapshot writes by resulting status",
		},
		[]string{"status"},
	)

	SnapshotWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backfill_snapshot_write_duration_seconds",
			Help:    "Time taken to stage and commit a snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotDeletesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backfill_snapshot_deletes_total",
			Help: "Total number of snapshot deletions (including no-op deletes)",
		},
	)

	SnapshotsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backfill_snapshots_total",
			Help: "Total number of snapshots currently stored",
		},
	)

	// Index metrics
	IndexUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_index_updates_total",
			Help: "Total number of time-series index updates by outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_api_requests_total",
			Help: "Total number of admin API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backfill_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsStartedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(UnitsProcessedTotal)
	prometheus.MustRegister(UnitProcessDuration)
	prometheus.MustRegister(RateLimiterWait)
	prometheus.MustRegister(RateLimiterTokensInFlight)
	prometheus.MustRegister(RateLimiterDelayMS)
	prometheus.MustRegister(SnapshotWritesTotal)
	prometheus.MustRegister(SnapshotWriteDuration)
	prometheus.MustRegister(SnapshotDeletesTotal)
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(IndexUpdatesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
