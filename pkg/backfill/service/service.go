// Package service implements BackfillService, the facade the admin API
// delegates to. It owns job lifecycle orchestration: creating jobs,
// spawning their executor, cooperative and forced cancellation, rate
// limit configuration, and startup recovery of orphaned jobs.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apierr"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/executor"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/index"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/jobstore"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/ratelimit"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/snapshot"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/upstream"
	"github.com/cuemby/toaststats-backfill/pkg/log"
	"github.com/google/uuid"
)

// BackfillService is the single entry point the admin API and the CLI
// drive job lifecycle through. It holds every piece of process-wide
// configuration the executor needs, so tests can assemble isolated
// stacks instead of relying on package-level globals.
type BackfillService struct {
	jobs     *jobstore.Store
	store    storage.Provider
	limiter  *ratelimit.Limiter
	writer   *snapshot.Writer
	index    *index.Maintainer
	fetcher  upstream.Fetcher
	computer upstream.Computer
	catalog  upstream.EntityCatalog
	execCfg  executor.Config

	mu          sync.Mutex
	cancelFlags map[string]bool
	runningWG   sync.WaitGroup
}

// New assembles a BackfillService from its collaborators.
func New(
	jobs *jobstore.Store,
	store storage.Provider,
	limiter *ratelimit.Limiter,
	fetcher upstream.Fetcher,
	computer upstream.Computer,
	catalog upstream.EntityCatalog,
	execCfg executor.Config,
) *BackfillService {
	return &BackfillService{
		jobs:        jobs,
		store:       store,
		limiter:     limiter,
		writer:      snapshot.New(store),
		index:       index.New(store),
		fetcher:     fetcher,
		computer:    computer,
		catalog:     catalog,
		execCfg:     execCfg,
		cancelFlags: make(map[string]bool),
	}
}

// Create validates a job request's business rules, enforces "one active
// job", persists a pending record, and spawns its executor in the
// background. It returns as soon as the record is durable.
func (s *BackfillService) Create(ctx context.Context, cfg types.JobConfig) (*types.Job, error) {
	if cfg.JobType != types.JobTypeDataCollection && cfg.JobType != types.JobTypeAnalyticsGenerate {
		return nil, apierr.Newf(apierr.CodeInvalidJobType, "unknown job type %q", cfg.JobType)
	}

	job := &types.Job{
		JobID:  uuid.NewString(),
		Config: cfg,
		Status: types.JobStatusPending,
	}

	if err := s.jobs.Create(job); err != nil {
		return nil, err
	}

	if _, err := s.jobs.TransitionStatus(job.JobID, types.JobStatusRunning, func(j *types.Job) {
		now := time.Now()
		j.StartedAt = &now
	}); err != nil {
		return nil, err
	}

	s.spawn(job.JobID)

	created, err := s.jobs.Get(job.JobID)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// spawn runs job's executor on a background goroutine, tracked so a
// graceful shutdown can wait for it to return.
func (s *BackfillService) spawn(jobID string) {
	s.mu.Lock()
	s.cancelFlags[jobID] = false
	s.mu.Unlock()

	s.runningWG.Add(1)
	go func() {
		defer s.runningWG.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancelFlags, jobID)
			s.mu.Unlock()
		}()

		job, err := s.jobs.Get(jobID)
		if err != nil || job == nil {
			log.WithComponent("service").Error().Str("jobId", jobID).Msg("executor spawn: job vanished")
			return
		}

		exec := executor.New(s.jobs, s.store, s.limiter, s.writer, s.index, s.fetcher, s.computer, s.catalog,
			s.execCfg, s.cancelRequested(jobID))

		if err := exec.Run(context.Background(), job); err != nil {
			log.WithComponent("service").Error().Str("jobId", jobID).Err(err).Msg("job execution failed")
		}
	}()
}

func (s *BackfillService) cancelRequested(jobID string) func() bool {
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cancelFlags[jobID]
	}
}

// Preview computes what a job request would process without any side
// effects: total unit count, a per-date breakdown, and an estimated
// duration derived from the rate limiter's configured throughput.
func (s *BackfillService) Preview(ctx context.Context, cfg types.JobConfig) (*types.Preview, error) {
	if cfg.JobType != types.JobTypeDataCollection && cfg.JobType != types.JobTypeAnalyticsGenerate {
		return nil, apierr.Newf(apierr.CodeInvalidJobType, "unknown job type %q", cfg.JobType)
	}

	entityIDs, err := s.catalog.ListEntities(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageError, "failed to list entity catalog", err)
	}

	job := &types.Job{Config: cfg}
	plan, skipped, err := executor.BuildPlan(job, entityIDs, s.store)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidDateRange, "failed to plan job", err)
	}

	byDate := make(map[string]int)
	var dates []string
	for _, unit := range plan {
		if _, ok := byDate[unit.Date]; !ok {
			dates = append(dates, unit.Date)
		}
		byDate[unit.Date]++
	}

	breakdown := make([]types.DateSummary, 0, len(dates))
	for _, date := range dates {
		breakdown = append(breakdown, types.DateSummary{Date: date, UnitCount: byDate[date]})
	}

	limiterCfg := s.limiter.Config()
	estimatedSeconds := 0.0
	if limiterCfg.MaxRequestsPerMinute > 0 {
		estimatedSeconds = float64(len(plan)) / float64(limiterCfg.MaxRequestsPerMinute) * 60
	}

	return &types.Preview{
		JobType:          cfg.JobType,
		TotalUnits:       len(plan),
		SkippedUnits:     skipped,
		EstimatedSeconds: estimatedSeconds,
		Breakdown:        breakdown,
	}, nil
}

// Get returns job by ID, or (nil, nil) if it does not exist.
func (s *BackfillService) Get(jobID string) (*types.Job, error) {
	return s.jobs.Get(jobID)
}

// List returns jobs matching filter.
func (s *BackfillService) List(filter jobstore.Filter) ([]*types.Job, error) {
	return s.jobs.List(filter)
}

// Cancel requests cooperative cancellation of job: the flag is observed
// by the executor at its next unit boundary. It fails if job is not in
// an active status.
func (s *BackfillService) Cancel(jobID string) error {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apierr.Newf(apierr.CodeJobNotFound, "job %s not found", jobID)
	}
	if !job.Status.Active() {
		return apierr.Newf(apierr.CodeInvalidJobState, "job %s is not active (status=%s)", jobID, job.Status)
	}

	s.mu.Lock()
	_, spawned := s.cancelFlags[jobID]
	if spawned {
		s.cancelFlags[jobID] = true
	}
	s.mu.Unlock()

	if !spawned {
		// No executor goroutine is tracking this job (e.g. it is pending,
		// never spawned, or this process didn't spawn it) -- cancel it
		// directly via the state machine.
		_, err := s.jobs.TransitionStatus(jobID, types.JobStatusCancelled, nil)
		if err != nil {
			return apierr.Wrap(apierr.CodeCancellationFailed, "failed to cancel job", err)
		}
	}
	return nil
}

// ForceCancel bypasses cooperative cancellation and transitions job to
// cancelled immediately, regardless of executor state.
func (s *BackfillService) ForceCancel(jobID string, operatorContext string) error {
	logger := log.WithJobID(jobID).With().Str("operator", operatorContext).Logger()

	_, err := s.jobs.ForceCancel(jobID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, spawned := s.cancelFlags[jobID]; spawned {
		s.cancelFlags[jobID] = true
	}
	s.mu.Unlock()

	logger.Warn().Msg("job force-cancelled by operator")
	return nil
}

// GetRateLimitConfig returns the limiter's current configuration.
func (s *BackfillService) GetRateLimitConfig() types.RateLimitConfig {
	return s.limiter.Config()
}

// UpdateRateLimitConfig validates and applies a partial update to the
// rate limiter's configuration, leaving zero-valued fields in patch
// unchanged.
func (s *BackfillService) UpdateRateLimitConfig(patch types.RateLimitConfig) (types.RateLimitConfig, error) {
	current := s.limiter.Config()

	merged := current
	if patch.MaxRequestsPerMinute > 0 {
		merged.MaxRequestsPerMinute = patch.MaxRequestsPerMinute
	}
	if patch.MaxConcurrent > 0 {
		merged.MaxConcurrent = patch.MaxConcurrent
	}
	if patch.MinDelayMS > 0 {
		merged.MinDelayMS = patch.MinDelayMS
	}
	if patch.MaxDelayMS > 0 {
		merged.MaxDelayMS = patch.MaxDelayMS
	}
	if patch.BackoffMultiplier > 0 {
		merged.BackoffMultiplier = patch.BackoffMultiplier
	}

	if merged.MaxDelayMS < merged.MinDelayMS {
		return current, apierr.New(apierr.CodeValidationError, "maxDelayMs must be >= minDelayMs")
	}
	if merged.MaxConcurrent < 1 || merged.MaxRequestsPerMinute < 1 {
		return current, apierr.New(apierr.CodeValidationError, "maxConcurrent and maxRequestsPerMinute must be >= 1")
	}

	s.limiter.UpdateConfig(merged)
	return merged, nil
}

// RecoverOnStartup scans the job store for jobs orphaned by a prior
// process crash: any job left in running is transitioned to recovering,
// then resumed from its checkpoint. A job whose configuration can no
// longer be planned is failed rather than left stuck, avoiding the
// behavior of a service that leaves crashed jobs running forever.
func (s *BackfillService) RecoverOnStartup() error {
	orphaned, err := s.jobs.List(jobstore.Filter{Status: types.JobStatusRunning})
	if err != nil {
		return fmt.Errorf("service: recover on startup: list running jobs: %w", err)
	}

	for _, job := range orphaned {
		recovering, err := s.jobs.TransitionStatus(job.JobID, types.JobStatusRecovering, func(j *types.Job) {
			now := time.Now()
			j.ResumedAt = &now
		})
		if err != nil {
			log.WithComponent("service").Error().Str("jobId", job.JobID).Err(err).
				Msg("recover_on_startup: failed to mark recovering")
			continue
		}

		entityIDs, err := s.catalog.ListEntities(context.Background())
		if err != nil {
			s.failRecovery(recovering.JobID, err)
			continue
		}
		if _, _, err := executor.BuildPlan(recovering, entityIDs, s.store); err != nil {
			s.failRecovery(recovering.JobID, err)
			continue
		}

		if _, err := s.jobs.TransitionStatus(recovering.JobID, types.JobStatusRunning, nil); err != nil {
			log.WithComponent("service").Error().Str("jobId", recovering.JobID).Err(err).
				Msg("recover_on_startup: failed to resume")
			continue
		}
		s.spawn(recovering.JobID)
	}

	return nil
}

func (s *BackfillService) failRecovery(jobID string, cause error) {
	if _, err := s.jobs.TransitionStatus(jobID, types.JobStatusFailed, func(j *types.Job) {
		j.Error = fmt.Sprintf("recover_on_startup: unsupported configuration: %v", cause)
	}); err != nil {
		log.WithComponent("service").Error().Str("jobId", jobID).Err(err).Msg("recover_on_startup: failed to fail job")
	}
}

// Shutdown blocks until every in-flight executor goroutine has exited, or
// ctx is done first. It does not signal running executors to stop, so a
// running job is waited for until it reaches a terminal status.
func (s *BackfillService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runningWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
