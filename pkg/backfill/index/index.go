// Package index maintains the per-entity, per-program-year time-series
// index: appending a data point on snapshot commit, removing one on
// snapshot delete, and keeping each entry's summary a pure function of its
// points.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/cuemby/toaststats-backfill/pkg/log"
	"github.com/cuemby/toaststats-backfill/pkg/metrics"
)

// Maintainer keeps the time-series index in sync with snapshot
// commits and deletions, serializing updates per (entityID, programYear)
// so concurrent commits for the same key never race on read-modify-write.
type Maintainer struct {
	store storage.Provider

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex
}

// New creates a Maintainer backed by store.
func New(store storage.Provider) *Maintainer {
	return &Maintainer{
		store:    store,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Maintainer) lockFor(entityID, programYear string) *sync.Mutex {
	key := entityID + "/" + programYear

	m.keyLocksMu.Lock()
	defer m.keyLocksMu.Unlock()

	lock, ok := m.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.keyLocks[key] = lock
	}
	return lock
}

// OnSnapshotCommit updates every entity's index entry for a newly
// committed snapshot: locate or create (entityID, programYearOf(snapshotID)),
// append-or-replace the data point for snapshotID, re-sort by snapshot ID,
// recompute the summary, and write atomically.
func (m *Maintainer) OnSnapshotCommit(snapshotID string, entities []EntityPoint) error {
	logger := log.WithSnapshotID(snapshotID)

	programYear, err := types.ProgramYearOf(snapshotID)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	for _, e := range entities {
		lock := m.lockFor(e.EntityID, programYear)
		lock.Lock()
		err := m.upsertOne(snapshotID, programYear, e)
		lock.Unlock()

		if err != nil {
			metrics.IndexUpdatesTotal.WithLabelValues("error").Inc()
			logger.Warn().Str("entity_id", e.EntityID).Err(err).Msg("index update failed")
			return err
		}
		metrics.IndexUpdatesTotal.WithLabelValues("ok").Inc()
	}
	return nil
}

// EntityPoint is one entity's contribution to a snapshot commit.
type EntityPoint struct {
	EntityID   string
	Membership float64
}

func (m *Maintainer) upsertOne(snapshotID, programYear string, point EntityPoint) error {
	entry, err := m.store.ReadIndex(point.EntityID, programYear)
	if err != nil {
		return fmt.Errorf("index: read entry: %w", err)
	}
	if entry == nil {
		entry = &types.TimeSeriesEntry{EntityID: point.EntityID, ProgramYear: programYear}
	}

	replaced := false
	for i, dp := range entry.DataPoints {
		if dp.SnapshotID == snapshotID {
			entry.DataPoints[i] = types.DataPoint{SnapshotID: snapshotID, Membership: point.Membership}
			replaced = true
			break
		}
	}
	if !replaced {
		entry.DataPoints = append(entry.DataPoints, types.DataPoint{SnapshotID: snapshotID, Membership: point.Membership})
	}

	sort.Slice(entry.DataPoints, func(i, j int) bool {
		return entry.DataPoints[i].SnapshotID < entry.DataPoints[j].SnapshotID
	})
	entry.Summary = types.RecomputeSummary(entry.DataPoints)

	if err := m.store.WriteIndex(entry); err != nil {
		return fmt.Errorf("index: write entry: %w", err)
	}
	return nil
}

// OnSnapshotDelete removes every data point referencing snapshotID from
// the entities previously listed in its manifest, recomputing each
// affected entry's summary. Index failure never blocks snapshot deletion:
// errors from the underlying store are logged and swallowed, since the
// store already does the same for a missing source file.
func (m *Maintainer) OnSnapshotDelete(snapshotID string, entityIDs []string) {
	logger := log.WithSnapshotID(snapshotID)

	removed, err := m.store.DeleteSnapshotEntriesFromIndex(snapshotID, entityIDs)
	if err != nil {
		metrics.IndexUpdatesTotal.WithLabelValues("delete_error").Inc()
		logger.Warn().Err(err).Msg("index cleanup failed, snapshot deletion proceeds regardless")
		return
	}
	metrics.IndexUpdatesTotal.WithLabelValues("delete_ok").Add(float64(removed))
}
