/*
Package metrics defines and registers the Prometheus metrics for the
backfill and snapshot orchestration subsystem, and exposes them over
HTTP for scraping.

# Catalog

	backfill_jobs_total{status}                       gauge
	backfill_jobs_started_total{job_type}              counter
	backfill_job_duration_seconds{job_type,status}     histogram
	backfill_units_processed_total{job_type,outcome}   counter
	backfill_unit_process_duration_seconds{job_type}   histogram
	backfill_rate_limiter_wait_seconds                 histogram
	backfill_rate_limiter_tokens_in_flight              gauge
	backfill_rate_limiter_delay_milliseconds            gauge
	backfill_snapshot_writes_total{status}              counter
	backfill_snapshot_write_duration_seconds            histogram
	backfill_snapshot_deletes_total                     counter
	backfill_snapshots_total                            gauge
	backfill_index_updates_total{outcome}               counter
	backfill_api_requests_total{method,path,status}     counter
	backfill_api_request_duration_seconds{method,path}  histogram

# Usage

	timer := metrics.NewTimer()
	err := runUnit(ctx, unit)
	metrics.UnitProcessDuration.WithLabelValues(string(job.Config.JobType)).Observe(timer.Duration().Seconds())

	http.Handle("/metrics", metrics.Handler())

Collector polls the job store and snapshot store on an interval and
keeps the gauge metrics (backfill_jobs_total, backfill_snapshots_total)
current without every call site having to remember to set them.

All metrics are registered at package init via prometheus.MustRegister,
so importing this package is enough to make them visible on /metrics.
*/
package metrics
