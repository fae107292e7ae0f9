// Package jobstore is the durable, single-writer map of jobs: lifecycle
// transitions, progress updates, and the "at most one active job" global
// invariant, backed by bbolt the way the teacher's BoltStore backs
// cluster state.
package jobstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apierr"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/cuemby/toaststats-backfill/pkg/log"
	"github.com/cuemby/toaststats-backfill/pkg/metrics"
	bolt "go.etcd.io/bbolt"
)

var bucketJobs = []byte("jobs")

// validTransitions enumerates the state machine's outgoing edges.
// Force-cancel is checked separately since it bypasses this table.
var validTransitions = map[types.JobStatus][]types.JobStatus{
	types.JobStatusPending:    {types.JobStatusRunning, types.JobStatusCancelled},
	types.JobStatusRunning:    {types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled, types.JobStatusRecovering},
	types.JobStatusRecovering: {types.JobStatusRunning, types.JobStatusFailed, types.JobStatusCancelled},
}

// Store is a bbolt-backed durable map of jobs keyed by job ID, generalizing
// the teacher's bucket-per-entity BoltStore to this subsystem's single job
// record type.
type Store struct {
	db *bolt.DB

	globalMu sync.Mutex // enforces "at most one job in {running, recovering}"

	perJobMu sync.Mutex
	jobLocks map[string]*sync.Mutex
}

// New opens (creating if necessary) a bbolt database at dataDir/jobs.db
// and returns a Store backed by it.
func New(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "jobs.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("jobstore: open database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJobs)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstore: create bucket: %w", err)
	}

	return &Store{db: db, jobLocks: make(map[string]*sync.Mutex)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) lockFor(jobID string) *sync.Mutex {
	s.perJobMu.Lock()
	defer s.perJobMu.Unlock()

	lock, ok := s.jobLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		s.jobLocks[jobID] = lock
	}
	return lock
}

func (s *Store) getLocked(jobID string) (*types.Job, error) {
	var job *types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(jobID))
		if data == nil {
			return nil
		}
		var j types.Job
		if err := json.Unmarshal(data, &j); err != nil {
			return err
		}
		job = &j
		return nil
	})
	return job, err
}

func (s *Store) putLocked(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.JobID), data)
	})
}

// Get returns the job with the given ID, or (nil, nil) if it does not exist.
func (s *Store) Get(jobID string) (*types.Job, error) {
	job, err := s.getLocked(jobID)
	if err != nil {
		return nil, fmt.Errorf("jobstore: get %s: %w", jobID, err)
	}
	return job, nil
}

// Filter narrows List.
type Filter struct {
	Status  types.JobStatus
	JobType types.JobType
	Limit   int
	Offset  int
}

// List returns jobs matching filter, most-recently-created first.
func (s *Store) List(filter Filter) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(_, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if filter.Status != "" && j.Status != filter.Status {
				return nil
			}
			if filter.JobType != "" && j.Config.JobType != filter.JobType {
				return nil
			}
			jobs = append(jobs, &j)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("jobstore: list: %w", err)
	}

	sortByCreatedAtDesc(jobs)

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[filter.Offset:]
	}
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func sortByCreatedAtDesc(jobs []*types.Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].CreatedAt.After(jobs[j-1].CreatedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}

// CountByStatus supports the metrics collector's gauge polling.
func (s *Store) CountByStatus() map[string]int {
	counts := make(map[string]int)
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(_, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return nil
			}
			counts[string(j.Status)]++
			return nil
		})
	})
	return counts
}

// Create inserts a new pending job. It enforces the "at most one active
// job" invariant: if any job is already pending, running, or recovering,
// Create fails with JOB_ALREADY_RUNNING.
func (s *Store) Create(job *types.Job) error {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	active, err := s.anyActiveLocked()
	if err != nil {
		return err
	}
	if active {
		return apierr.New(apierr.CodeJobAlreadyRunning, "another job is already active")
	}

	job.Status = types.JobStatusPending
	job.CreatedAt = time.Now()
	if err := s.putLocked(job); err != nil {
		return fmt.Errorf("jobstore: create: %w", err)
	}
	metrics.JobsStartedTotal.WithLabelValues(string(job.Config.JobType)).Inc()
	return nil
}

func (s *Store) anyActiveLocked() (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(_, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return nil
			}
			if j.Status.Active() {
				found = true
			}
			return nil
		})
	})
	return found, err
}

// TransitionStatus moves a job from its current status to to, failing
// loudly on an invalid edge. The global mutex is held for the duration of
// any transition into {running, recovering} so the single-active-job
// check and the write are atomic together.
func (s *Store) TransitionStatus(jobID string, to types.JobStatus, apply func(job *types.Job)) (*types.Job, error) {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	needsGlobalLock := to == types.JobStatusRunning || to == types.JobStatusRecovering
	if needsGlobalLock {
		s.globalMu.Lock()
		defer s.globalMu.Unlock()
	}

	job, err := s.getLocked(jobID)
	if err != nil {
		return nil, fmt.Errorf("jobstore: transition: %w", err)
	}
	if job == nil {
		return nil, apierr.Newf(apierr.CodeJobNotFound, "job %s not found", jobID)
	}

	if job.Status.Terminal() {
		return nil, apierr.Newf(apierr.CodeInvalidJobState, "job %s is in terminal state %s", jobID, job.Status)
	}

	if !isValidTransition(job.Status, to) {
		return nil, apierr.Newf(apierr.CodeInvalidJobState, "cannot transition job %s from %s to %s", jobID, job.Status, to)
	}

	if needsGlobalLock {
		active, err := s.anyActiveInStatusExcluding(jobID, types.JobStatusRunning, types.JobStatusRecovering)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, apierr.New(apierr.CodeJobAlreadyRunning, "another job is already active")
		}
	}

	now := time.Now()
	switch to {
	case types.JobStatusRunning:
		if job.StartedAt == nil {
			job.StartedAt = &now
		} else {
			job.ResumedAt = &now
		}
	case types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled:
		job.CompletedAt = &now
	}
	job.Status = to

	if apply != nil {
		apply(job)
	}

	if err := s.putLocked(job); err != nil {
		return nil, fmt.Errorf("jobstore: transition: %w", err)
	}

	log.WithJobID(jobID).Info().Str("status", string(to)).Msg("job transitioned")

	return job, nil
}

func (s *Store) anyActiveInStatusExcluding(excludeJobID string, statuses ...types.JobStatus) (bool, error) {
	want := make(map[types.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			if string(k) == excludeJobID {
				return nil
			}
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return nil
			}
			if want[j.Status] {
				found = true
			}
			return nil
		})
	})
	return found, err
}

// ForceCancel is the privileged transition from {pending, running,
// recovering} to cancelled that bypasses cooperative cancellation and the
// normal edge table.
func (s *Store) ForceCancel(jobID string) (*types.Job, error) {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.getLocked(jobID)
	if err != nil {
		return nil, fmt.Errorf("jobstore: force-cancel: %w", err)
	}
	if job == nil {
		return nil, apierr.Newf(apierr.CodeJobNotFound, "job %s not found", jobID)
	}
	if job.Status.Terminal() {
		return nil, apierr.Newf(apierr.CodeInvalidJobState, "job %s is already in terminal state %s", jobID, job.Status)
	}

	now := time.Now()
	job.Status = types.JobStatusCancelled
	job.CompletedAt = &now

	if err := s.putLocked(job); err != nil {
		return nil, fmt.Errorf("jobstore: force-cancel: %w", err)
	}

	log.WithJobID(jobID).Warn().Msg("job force-cancelled")

	return job, nil
}

// UpdateProgress persists an in-place progress/checkpoint update for a
// running job, without going through the status transition table. Only
// the job's own executor is expected to call this.
func (s *Store) UpdateProgress(jobID string, progress types.Progress, checkpoint string) error {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.getLocked(jobID)
	if err != nil {
		return fmt.Errorf("jobstore: update progress: %w", err)
	}
	if job == nil {
		return apierr.Newf(apierr.CodeJobNotFound, "job %s not found", jobID)
	}

	job.Progress = progress
	job.Checkpoint = checkpoint

	if err := s.putLocked(job); err != nil {
		return fmt.Errorf("jobstore: update progress: %w", err)
	}
	return nil
}

func isValidTransition(from, to types.JobStatus) bool {
	for _, edge := range validTransitions[from] {
		if edge == to {
			return true
		}
	}
	return false
}
