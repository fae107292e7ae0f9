/*
Package log provides structured logging used across the backfill and
snapshot orchestration subsystem, built on zerolog.

The package wraps zerolog to give every long-running component (the job
executor, the rate limiter, the index maintainer) a consistent
JSON-or-console logger with contextual fields, without passing a logger
instance through every constructor by hand.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("executor")
	logger.Info().Str("job_id", job.JobID).Msg("job started")

WithJobID and WithSnapshotID attach the identifiers most often correlated
across a job's lifetime, mirroring WithComponent.

# Levels

Debug is for step-by-step tracing during development, Info is the
default production level, Warn flags recoverable anomalies (a retried
upstream call, a skipped index entry), and Error marks operations that
failed outright.
*/
package log
