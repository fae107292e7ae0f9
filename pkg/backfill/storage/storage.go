// Package storage defines the StorageProvider abstraction consumed by the
// rest of the backfill subsystem, plus its implementations: a local
// filesystem backend, a conditional-put cloud object store backend, and a
// no-op in-memory double for tests.
package storage

import (
	"encoding/json"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
)

// SnapshotFilter narrows a snapshot metadata listing.
type SnapshotFilter struct {
	StartDate          string // inclusive, YYYY-MM-DD
	EndDate            string // inclusive, YYYY-MM-DD
	Status             types.SnapshotStatus
	SchemaVersion      int // 0 means unfiltered
	CalculationVersion int // 0 means unfiltered
	MinEntityCount     int
	Limit              int // 0 means unbounded
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status  types.JobStatus
	JobType types.JobType
	Limit   int
	Offset  int
}

// ErrConflict is returned by PutSnapshot when a non-failed snapshot with
// the same ID already exists and its content differs from what is being
// written.
var ErrConflict = &conflictError{}

type conflictError struct{}

func (*conflictError) Error() string { return "storage: snapshot already exists" }

// Provider is the capability set the rest of the subsystem consumes for
// durable state: snapshots, the time-series index, and the job table. All
// writes must be atomic at the file/object level; reads of a missing key
// return (nil, nil), never an error.
type Provider interface {
	// PutSnapshot atomically writes a snapshot. If SnapshotID already
	// exists with a non-failed status, entity IDs not yet in its manifest
	// are merged into it rather than rejected; ErrConflict is returned
	// only when an entity ID already present is rewritten with different
	// payload content. Writing identical content twice is a no-op success.
	PutSnapshot(snapshot *types.Snapshot) error
	GetSnapshot(id string) (*types.Snapshot, error)
	ListSnapshotMetadata(filter SnapshotFilter) ([]*types.Snapshot, error)
	// DeleteSnapshot is idempotent: deleting a snapshot that does not
	// exist returns (false, nil).
	DeleteSnapshot(id string) (bool, error)
	ListEntitiesInSnapshot(id string) ([]string, error)

	ReadIndex(entityID, programYear string) (*types.TimeSeriesEntry, error)
	WriteIndex(entry *types.TimeSeriesEntry) error
	// DeleteSnapshotEntriesFromIndex removes every data point referencing
	// snapshotID from the index entries of entityIDs (for the snapshot's
	// program year), returning the count removed.
	DeleteSnapshotEntriesFromIndex(snapshotID string, entityIDs []string) (int, error)

	GetJob(id string) (*types.Job, error)
	PutJob(job *types.Job) error
	ListJobs(filter JobFilter) ([]*types.Job, error)

	// CountSnapshots supports the metrics collector's gauge polling.
	CountSnapshots() (int, error)

	Close() error
}

// mergeOutcome is what a PutSnapshot backend must persist after reconciling
// an incoming write against an existing non-failed snapshot: merged
// metadata/manifest, plus only the entity records that aren't already
// committed. A nil outcome (with a nil error) means the incoming write adds
// nothing new — an idempotent no-op.
type mergeOutcome struct {
	metadata    *types.Snapshot
	newEntities []types.EntityRecord
}

// mergeSnapshot reconciles an incoming snapshot write against an existing
// non-failed snapshot for the same ID. A data-collection job commits one
// entity at a time, so the common case is a new entity ID arriving for a
// date that already has a committed snapshot, not a wholesale rewrite: that
// case must append, not conflict. getEntity reads an already-committed
// entity's content; it is consulted only when the incoming write repeats an
// entity ID the existing snapshot already has, to tell an idempotent
// re-write of identical content from a genuine conflicting rewrite.
func mergeSnapshot(existing, incoming *types.Snapshot, getEntity func(entityID string) (*types.EntityRecord, error)) (*mergeOutcome, error) {
	haveID := make(map[string]bool, len(existing.Manifest.EntityIDs))
	for _, id := range existing.Manifest.EntityIDs {
		haveID[id] = true
	}

	incomingByID := make(map[string]types.EntityRecord, len(incoming.Entities))
	for _, e := range incoming.Entities {
		incomingByID[e.EntityID] = e
	}

	mergedIDs := append([]string(nil), existing.Manifest.EntityIDs...)
	mergedErrors := append([]string(nil), existing.Errors...)
	haveError := make(map[string]bool, len(mergedErrors))
	for _, e := range mergedErrors {
		haveError[e] = true
	}

	var newEntities []types.EntityRecord
	changed := false

	for _, id := range incoming.Manifest.EntityIDs {
		rec, hasPayload := incomingByID[id]

		if haveID[id] {
			if !hasPayload {
				continue // already recorded as errored before; nothing new to compare
			}
			committed, err := getEntity(id)
			if err != nil {
				return nil, err
			}
			if committed == nil || !entityPayloadEqual(*committed, rec) {
				return nil, ErrConflict
			}
			continue
		}

		mergedIDs = append(mergedIDs, id)
		changed = true
		if hasPayload {
			newEntities = append(newEntities, rec)
		}
	}

	for _, errStr := range incoming.Errors {
		if !haveError[errStr] {
			mergedErrors = append(mergedErrors, errStr)
			haveError[errStr] = true
			changed = true
		}
	}

	if !changed {
		return nil, nil
	}

	status := existing.Status
	if len(mergedErrors) > 0 {
		status = types.SnapshotStatusPartial
	}

	return &mergeOutcome{
		metadata: &types.Snapshot{
			SnapshotID:         existing.SnapshotID,
			CreatedAt:          existing.CreatedAt,
			SchemaVersion:      existing.SchemaVersion,
			CalculationVersion: existing.CalculationVersion,
			Status:             status,
			Errors:             mergedErrors,
			Manifest:           types.Manifest{EntityIDs: mergedIDs},
		},
		newEntities: newEntities,
	}, nil
}

// entityPayloadEqual compares two entity records by payload content only —
// the only thing that can make a rewrite of the same entity ID a genuine
// conflict rather than a no-op.
func entityPayloadEqual(a, b types.EntityRecord) bool {
	aBytes, errA := json.Marshal(a.Payload)
	bBytes, errB := json.Marshal(b.Payload)
	if errA != nil || errB != nil {
		return false
	}
	return string(aBytes) == string(bBytes)
}
