// Package executor runs a single job to completion: it plans the ordered
// list of work units, resumes past any existing checkpoint, processes
// units one at a time under the rate limiter with retry-with-backoff on
// transient failures, and reports a final aggregate result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apierr"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/index"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/jobstore"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/ratelimit"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/snapshot"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/upstream"
	"github.com/cuemby/toaststats-backfill/pkg/log"
	"github.com/cuemby/toaststats-backfill/pkg/metrics"
)

// Config bounds retry behavior, mirroring the shape of a backfill
// service's worker/retry config: attempts per unit and the base backoff
// duration jitter is applied around.
type Config struct {
	MaxRetries int           // attempts per unit; <=0 -> 1
	RetryBase  time.Duration // base backoff for unit retries; <=0 -> 500ms
}

func (c Config) normalized() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	return c
}

// Executor runs one job at a time. A fresh Executor is constructed per
// job run by the service.
type Executor struct {
	jobs     *jobstore.Store
	store    storage.Provider
	limiter  *ratelimit.Limiter
	writer   *snapshot.Writer
	index    *index.Maintainer
	fetcher  upstream.Fetcher
	computer upstream.Computer
	catalog  upstream.EntityCatalog
	cfg      Config

	cancelRequested func() bool
}

// New creates an Executor for a single job run.
func New(
	jobs *jobstore.Store,
	store storage.Provider,
	limiter *ratelimit.Limiter,
	writer *snapshot.Writer,
	maintainer *index.Maintainer,
	fetcher upstream.Fetcher,
	computer upstream.Computer,
	catalog upstream.EntityCatalog,
	cfg Config,
	cancelRequested func() bool,
) *Executor {
	return &Executor{
		jobs:            jobs,
		store:           store,
		limiter:         limiter,
		writer:          writer,
		index:           maintainer,
		fetcher:         fetcher,
		computer:        computer,
		catalog:         catalog,
		cfg:             cfg.normalized(),
		cancelRequested: cancelRequested,
	}
}

// etaEstimate tracks an exponentially-smoothed average unit duration, used
// to report a monotonically non-increasing ETA while a job runs.
type etaEstimate struct {
	avg   time.Duration
	alpha float64
}

func (e *etaEstimate) observe(d time.Duration) {
	if e.avg == 0 {
		e.avg = d
		return
	}
	e.avg = time.Duration(e.alpha*float64(d) + (1-e.alpha)*float64(e.avg))
}

// Run executes job from its current checkpoint (or the start, if none)
// through to a terminal status, honoring cooperative cancellation at unit
// boundaries.
func (e *Executor) Run(ctx context.Context, job *types.Job) error {
	logger := log.WithJobID(job.JobID)
	timer := metrics.NewTimer()

	entityIDs, err := e.catalog.ListEntities(ctx)
	if err != nil {
		return e.fail(job.JobID, fmt.Errorf("executor: list entity catalog: %w", err))
	}

	plan, skippedExisting, err := BuildPlan(job, entityIDs, e.store)
	if err != nil {
		return e.fail(job.JobID, err)
	}

	remaining := ResumeFrom(plan, job.Checkpoint)
	total := len(plan) + skippedExisting
	processed := len(plan) - len(remaining) + skippedExisting

	result := types.Result{SkippedUnits: skippedExisting}
	eta := &etaEstimate{alpha: 0.3}
	var lastETA *time.Time

	for i, unit := range remaining {
		if e.cancelRequested != nil && e.cancelRequested() {
			logger.Info().Str("unit", unit.Key()).Msg("cancellation requested, stopping at unit boundary")
			if _, err := e.jobs.TransitionStatus(job.JobID, types.JobStatusCancelled, nil); err != nil {
				return err
			}
			return nil
		}

		unitStart := time.Now()
		outcome, unitErr := e.processUnit(ctx, job, unit)
		eta.observe(time.Since(unitStart))

		processed++
		switch outcome {
		case unitOutcomeSucceeded:
			result.SucceededUnits++
		case unitOutcomeFailed:
			result.FailedUnits++
			result.UnitErrors = append(result.UnitErrors, types.UnitError{Unit: unit.Key(), Message: unitErr.Error()})
		case unitOutcomeFatal:
			return e.fail(job.JobID, unitErr)
		}

		progress := types.Progress{
			Total:       total,
			Processed:   processed,
			Percent:     percentOf(processed, total),
			CurrentItem: unit.Key(),
			Errors:      result.FailedUnits,
		}
		if remainingUnits := len(remaining) - i - 1; remainingUnits > 0 && eta.avg > 0 {
			at := time.Now().Add(eta.avg * time.Duration(remainingUnits))
			if lastETA != nil && at.After(*lastETA) {
				at = *lastETA
			}
			lastETA = &at
			progress.ETA = &at
		}

		if err := e.jobs.UpdateProgress(job.JobID, progress, unit.Key()); err != nil {
			return err
		}

		metrics.UnitsProcessedTotal.WithLabelValues(string(job.Config.JobType), string(outcome)).Inc()
	}

	finished, err := e.jobs.TransitionStatus(job.JobID, types.JobStatusCompleted, func(j *types.Job) {
		j.Result = &result
	})
	if err != nil {
		return err
	}

	timer.ObserveDurationVec(metrics.JobDuration, string(job.Config.JobType), string(finished.Status))
	logger.Info().
		Int("succeeded", result.SucceededUnits).
		Int("skipped", result.SkippedUnits).
		Int("failed", result.FailedUnits).
		Msg("job completed")

	return nil
}

type unitOutcome string

const (
	unitOutcomeSucceeded unitOutcome = "succeeded"
	unitOutcomeFailed    unitOutcome = "failed"
	unitOutcomeFatal     unitOutcome = "fatal"
)

// processUnit executes one unit with bounded retry-with-backoff on
// transient upstream errors, following the acquire/invoke/release protocol
// from the rate limiter contract.
func (e *Executor) processUnit(ctx context.Context, job *types.Job, unit Unit) (unitOutcome, error) {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		token, err := e.limiter.Acquire(ctx)
		if err != nil {
			return unitOutcomeFailed, err
		}

		err = e.invoke(ctx, job, unit)

		if err == nil {
			e.limiter.Release(token, ratelimit.OutcomeOK)
			return unitOutcomeSucceeded, nil
		}

		if isFatal(err) {
			e.limiter.Release(token, ratelimit.OutcomeOK)
			return unitOutcomeFatal, err
		}

		if !isRetryable(err) {
			e.limiter.Release(token, ratelimit.OutcomeOK)
			return unitOutcomeFailed, err
		}

		e.limiter.Release(token, ratelimit.OutcomeRateLimitedByUpstream)
		lastErr = err

		if attempt == e.cfg.MaxRetries {
			break
		}

		backoff := e.cfg.RetryBase << (attempt - 1)
		jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		if err := sleepCtx(ctx, jittered); err != nil {
			return unitOutcomeFailed, err
		}
	}

	return unitOutcomeFailed, fmt.Errorf("executor: unit %s exhausted retries: %w", unit.Key(), lastErr)
}

func (e *Executor) invoke(ctx context.Context, job *types.Job, unit Unit) error {
	switch job.Config.JobType {
	case types.JobTypeDataCollection:
		payload, err := e.fetcher.Fetch(ctx, unit.Date, unit.EntityID)
		if err != nil {
			return err
		}
		_, err = e.writer.Write(unit.Date, []snapshot.EntityResult{{EntityID: unit.EntityID, Payload: payload}},
			1, 1)
		if err != nil {
			return err
		}
		membership, _ := payload["membership"].(float64)
		return e.index.OnSnapshotCommit(unit.Date, []index.EntityPoint{{EntityID: unit.EntityID, Membership: membership}})

	case types.JobTypeAnalyticsGenerate:
		existing, err := e.store.GetSnapshot(unit.Date)
		if err != nil {
			return err
		}
		if existing == nil {
			return apierr.Newf(apierr.CodeSnapshotNotFound, "snapshot %s not found", unit.Date)
		}
		for _, entity := range existing.Entities {
			if _, err := e.computer.Compute(ctx, unit.Date, entity.EntityID, entity.Payload); err != nil {
				return err
			}
		}
		return nil

	default:
		return apierr.Newf(apierr.CodeInvalidJobType, "unknown job type %q", job.Config.JobType)
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, upstream.ErrNotAvailable) {
		return false
	}
	if errors.Is(err, upstream.ErrRateLimited) {
		return true
	}
	return apierr.Retryable(err)
}

func isFatal(err error) bool {
	return apierr.CodeOf(err) == apierr.CodeStorageError
}

func (e *Executor) fail(jobID string, cause error) error {
	_, err := e.jobs.TransitionStatus(jobID, types.JobStatusFailed, func(j *types.Job) {
		j.Error = cause.Error()
	})
	if err != nil {
		return err
	}
	return cause
}

func percentOf(processed, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(processed) / float64(total) * 100
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
