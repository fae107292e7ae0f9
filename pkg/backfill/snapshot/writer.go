// Package snapshot implements the write-side protocol for committing a
// Snapshot: staging per-entity records, then committing them atomically
// through the StorageProvider, with idempotent re-writes of identical
// content and a conflict signal on differing content.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apierr"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/cuemby/toaststats-backfill/pkg/log"
	"github.com/cuemby/toaststats-backfill/pkg/metrics"
	"github.com/google/uuid"
)

// EntityResult is one entity's outcome from the upstream fetch that feeds
// a Writer.Write call: either a successful payload or an error explaining
// why that entity's record is absent from an otherwise-partial snapshot.
type EntityResult struct {
	EntityID string
	Payload  map[string]any
	Err      error
}

// Writer commits snapshots through a storage.Provider. Each write-attempt
// gets its own UUID, which is logged; staging and commit are done by the
// provider's PutSnapshot.
type Writer struct {
	store storage.Provider
}

// New creates a Writer backed by store.
func New(store storage.Provider) *Writer {
	return &Writer{store: store}
}

// Write builds and commits a snapshot for snapshotID from results,
// following the protocol in the package doc: build the snapshot, commit it
// with a single call into the store, and translate a storage conflict into
// a STORAGE_ERROR whose message says the snapshot already exists with
// different content.
func (w *Writer) Write(snapshotID string, results []EntityResult, schemaVersion, calculationVersion int) (*types.Snapshot, error) {
	logger := log.WithSnapshotID(snapshotID)
	timer := metrics.NewTimer()

	attemptID := uuid.NewString()
	logger.Debug().Str("attempt", attemptID).Msg("staging snapshot write")

	entities := make([]types.EntityRecord, 0, len(results))
	entityIDs := make([]string, 0, len(results))
	var errs []string

	for _, r := range results {
		entityIDs = append(entityIDs, r.EntityID)
		if r.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.EntityID, r.Err))
			continue
		}
		entities = append(entities, types.EntityRecord{EntityID: r.EntityID, Payload: r.Payload})
	}

	status := types.SnapshotStatusSuccess
	if len(errs) > 0 {
		status = types.SnapshotStatusPartial
	}
	if len(entities) == 0 && len(results) > 0 {
		status = types.SnapshotStatusFailed
	}

	snapshot := &types.Snapshot{
		SnapshotID:         snapshotID,
		CreatedAt:          time.Now(),
		SchemaVersion:      schemaVersion,
		CalculationVersion: calculationVersion,
		Status:             status,
		Errors:             errs,
		Entities:           entities,
		Manifest:           types.Manifest{EntityIDs: entityIDs},
	}

	if err := w.store.PutSnapshot(snapshot); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			metrics.SnapshotWritesTotal.WithLabelValues("conflict").Inc()
			return nil, apierr.Wrap(apierr.CodeStorageError, "snapshot already exists with different content", err)
		}
		metrics.SnapshotWritesTotal.WithLabelValues("error").Inc()
		return nil, apierr.Wrap(apierr.CodeStorageError, "failed to write snapshot", err)
	}

	metrics.SnapshotWritesTotal.WithLabelValues(string(status)).Inc()
	timer.ObserveDuration(metrics.SnapshotWriteDuration)
	logger.Debug().Str("status", string(status)).Msg("snapshot committed")

	return snapshot, nil
}

// Delete removes a snapshot. It is idempotent: deleting a snapshot that
// never existed returns (false, nil), never an error.
func (w *Writer) Delete(snapshotID string) (bool, error) {
	deleted, err := w.store.DeleteSnapshot(snapshotID)
	if err != nil {
		return false, apierr.Wrap(apierr.CodeStorageError, "failed to delete snapshot", err)
	}
	metrics.SnapshotDeletesTotal.Inc()
	return deleted, nil
}
