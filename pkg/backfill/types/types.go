// Package types defines the data model shared across the backfill and
// snapshot orchestration subsystem: snapshots, time-series index entries,
// jobs, and rate-limit configuration.
package types

import "time"

// SnapshotStatus is the outcome recorded for a snapshot write attempt.
type SnapshotStatus string

const (
	SnapshotStatusSuccess SnapshotStatus = "success"
	SnapshotStatusPartial SnapshotStatus = "partial"
	SnapshotStatusFailed  SnapshotStatus = "failed"
)

// Snapshot is the immutable, date-keyed representation of the upstream
// dashboard at a point in time. Once written with a non-failed status its
// contents never change; it is only ever cascade-deleted whole.
type Snapshot struct {
	SnapshotID         string         `json:"snapshotId"` // YYYY-MM-DD
	CreatedAt          time.Time      `json:"createdAt"`
	SchemaVersion      int            `json:"schemaVersion"`
	CalculationVersion int            `json:"calculationVersion"`
	Status             SnapshotStatus `json:"status"`
	Errors             []string       `json:"errors,omitempty"`
	Entities           []EntityRecord `json:"entities"`
	Manifest           Manifest       `json:"manifest"`
}

// EntityRecord is one entity's payload within a snapshot.
type EntityRecord struct {
	EntityID string         `json:"entityId"`
	Payload  map[string]any `json:"payload"`
}

// Manifest lists the entity IDs a snapshot claims to contain. A reader must
// tolerate an entity listed here whose record is absent when Status is
// partial.
type Manifest struct {
	EntityIDs []string `json:"entityIds"`
}

// DataPoint is a single entry in a TimeSeriesEntry, one per snapshot that
// contributed a value for the entity.
type DataPoint struct {
	SnapshotID string  `json:"snapshotId"`
	Membership float64 `json:"membership"`
}

// Summary is the recomputed aggregate over a TimeSeriesEntry's data points.
// It is a pure function of the points: Count == len(points), and Start/End
// mirror the first/last point in snapshot order.
type Summary struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Peak  float64 `json:"peak"`
	Low   float64 `json:"low"`
	Count int     `json:"count"`
}

// TimeSeriesEntry is the per-entity, per-program-year index record. Data
// points are kept sorted by SnapshotID; Summary is recomputed on every
// commit, never hand-edited.
type TimeSeriesEntry struct {
	EntityID    string      `json:"entityId"`
	ProgramYear string      `json:"programYear"` // YYYY-YYYY
	DataPoints  []DataPoint `json:"dataPoints"`
	Summary     Summary     `json:"summary"`
}

// JobType selects the work a job performs.
type JobType string

const (
	JobTypeDataCollection    JobType = "data-collection"
	JobTypeAnalyticsGenerate JobType = "analytics-generation"
)

// JobStatus is a job's position in its lifecycle state machine.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusRecovering JobStatus = "recovering"
)

// Terminal reports whether a status has no outgoing transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether a status counts toward the "at most one active
// job" invariant.
func (s JobStatus) Active() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusRecovering:
		return true
	default:
		return false
	}
}

// JobConfig is the request-time configuration for a job: date range,
// entity filter, and per-job overrides.
type JobConfig struct {
	JobType           JobType          `json:"jobType"`
	StartDate         string           `json:"startDate"` // YYYY-MM-DD, inclusive
	EndDate           string           `json:"endDate"`   // YYYY-MM-DD, inclusive
	EntityIDs         []string         `json:"entityIds,omitempty"`
	SkipExisting      bool             `json:"skipExisting"`
	RateLimitOverride *RateLimitConfig `json:"rateLimitOverride,omitempty"`
}

// Progress is the live, monotonically-advancing state of a running job.
type Progress struct {
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Percent     float64    `json:"percent"`
	CurrentItem string     `json:"currentItem,omitempty"`
	Errors      int        `json:"errors"`
	ETA         *time.Time `json:"eta,omitempty"`
}

// UnitError records a work unit that failed, either with a non-retryable
// error or after exhausting its retry budget.
type UnitError struct {
	Unit    string `json:"unit"` // e.g. "2024-01-02/entity-a"
	Message string `json:"message"`
}

// Preview is the dry-run response for a job request: what would be
// processed without any side effects.
type Preview struct {
	JobType          JobType       `json:"jobType"`
	TotalUnits       int           `json:"totalUnits"`
	SkippedUnits     int           `json:"skippedUnits"`
	EstimatedSeconds float64       `json:"estimatedSeconds"`
	Breakdown        []DateSummary `json:"breakdown"`
}

// DateSummary is one date's contribution to a Preview's unit breakdown.
type DateSummary struct {
	Date      string `json:"date"`
	UnitCount int    `json:"unitCount"`
}

// Result is the aggregate outcome of a finished job.
type Result struct {
	SucceededUnits int         `json:"succeededUnits"`
	SkippedUnits   int         `json:"skippedUnits"`
	FailedUnits    int         `json:"failedUnits"`
	UnitErrors     []UnitError `json:"unitErrors,omitempty"`
}

// Job is the durable record of one backfill execution.
type Job struct {
	JobID       string     `json:"jobId"`
	Config      JobConfig  `json:"config"`
	Status      JobStatus  `json:"status"`
	Progress    Progress   `json:"progress"`
	Checkpoint  string     `json:"checkpoint,omitempty"` // opaque resume token
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ResumedAt   *time.Time `json:"resumedAt,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RateLimitConfig bounds upstream call rate and concurrency. It is
// process-wide, read-mostly state: components copy it on read and it is
// only ever replaced wholesale via the admin API.
type RateLimitConfig struct {
	MaxRequestsPerMinute int     `json:"maxRequestsPerMinute"`
	MaxConcurrent        int     `json:"maxConcurrent"`
	MinDelayMS           int     `json:"minDelayMs"`
	MaxDelayMS           int     `json:"maxDelayMs"`
	BackoffMultiplier    float64 `json:"backoffMultiplier"`
}

// DefaultRateLimitConfig returns sane startup defaults, overridable via the
// admin API or environment at process start.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequestsPerMinute: 60,
		MaxConcurrent:        4,
		MinDelayMS:           250,
		MaxDelayMS:           30000,
		BackoffMultiplier:    2.0,
	}
}
