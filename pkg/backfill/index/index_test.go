package index

import (
	"testing"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintainer_OnSnapshotCommit_CreatesAndSorts(t *testing.T) {
	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	m := New(store)
	require.NoError(t, m.OnSnapshotCommit("2024-08-01", []EntityPoint{{EntityID: "entity-a", Membership: 20}}))
	require.NoError(t, m.OnSnapshotCommit("2024-07-01", []EntityPoint{{EntityID: "entity-a", Membership: 10}}))

	entry, err := store.ReadIndex("entity-a", "2024-2025")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Len(t, entry.DataPoints, 2)
	assert.Equal(t, "2024-07-01", entry.DataPoints[0].SnapshotID)
	assert.Equal(t, "2024-08-01", entry.DataPoints[1].SnapshotID)
	assert.Equal(t, 10.0, entry.Summary.Start)
	assert.Equal(t, 20.0, entry.Summary.End)
}

func TestMaintainer_OnSnapshotCommit_ReplacesExistingPoint(t *testing.T) {
	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	m := New(store)
	require.NoError(t, m.OnSnapshotCommit("2024-07-01", []EntityPoint{{EntityID: "entity-a", Membership: 10}}))
	require.NoError(t, m.OnSnapshotCommit("2024-07-01", []EntityPoint{{EntityID: "entity-a", Membership: 99}}))

	entry, err := store.ReadIndex("entity-a", "2024-2025")
	require.NoError(t, err)
	require.Len(t, entry.DataPoints, 1)
	assert.Equal(t, 99.0, entry.DataPoints[0].Membership)
}

func TestMaintainer_OnSnapshotDelete_RemovesPointsAndRecomputesSummary(t *testing.T) {
	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	m := New(store)
	require.NoError(t, m.OnSnapshotCommit("2024-07-01", []EntityPoint{{EntityID: "entity-a", Membership: 10}}))
	require.NoError(t, m.OnSnapshotCommit("2024-08-01", []EntityPoint{{EntityID: "entity-a", Membership: 20}}))

	m.OnSnapshotDelete("2024-07-01", []string{"entity-a"})

	entry, err := store.ReadIndex("entity-a", "2024-2025")
	require.NoError(t, err)
	require.Len(t, entry.DataPoints, 1)
	assert.Equal(t, "2024-08-01", entry.DataPoints[0].SnapshotID)
	assert.Equal(t, 1, entry.Summary.Count)
}

func TestMaintainer_OnSnapshotDelete_MissingEntryIsNotAnError(t *testing.T) {
	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	m := New(store)
	m.OnSnapshotDelete("2024-07-01", []string{"never-existed"})
}
