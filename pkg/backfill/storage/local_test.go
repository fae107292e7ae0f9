package storage

import (
	"testing"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(id string, entityIDs ...string) *types.Snapshot {
	entities := make([]types.EntityRecord, 0, len(entityIDs))
	for _, eid := range entityIDs {
		entities = append(entities, types.EntityRecord{
			EntityID: eid,
			Payload:  map[string]any{"membership": 100.0},
		})
	}
	return &types.Snapshot{
		SnapshotID: id,
		CreatedAt:  time.Now(),
		Status:     types.SnapshotStatusSuccess,
		Entities:   entities,
		Manifest:   types.Manifest{EntityIDs: entityIDs},
	}
}

func TestLocalProvider_PutGetSnapshot(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	snapshot := testSnapshot("2024-07-01", "entity-a", "entity-b")
	require.NoError(t, provider.PutSnapshot(snapshot))

	got, err := provider.GetSnapshot("2024-07-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.SnapshotStatusSuccess, got.Status)
	assert.Len(t, got.Entities, 2)
}

func TestLocalProvider_GetSnapshot_Missing(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	got, err := provider.GetSnapshot("2024-07-01")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocalProvider_PutSnapshot_IdempotentSameContent(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	snapshot := testSnapshot("2024-07-01", "entity-a")
	require.NoError(t, provider.PutSnapshot(snapshot))
	require.NoError(t, provider.PutSnapshot(snapshot)) // no-op, not an error
}

func TestLocalProvider_PutSnapshot_ConflictOnDifferingContent(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	first := testSnapshot("2024-07-01", "entity-a")
	require.NoError(t, provider.PutSnapshot(first))

	second := testSnapshot("2024-07-01", "entity-a")
	second.Entities[0].Payload = map[string]any{"membership": 999.0}
	err = provider.PutSnapshot(second)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLocalProvider_PutSnapshot_AppendsNewEntityToSameDate(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	first := testSnapshot("2024-07-01", "entity-a")
	require.NoError(t, provider.PutSnapshot(first))

	second := testSnapshot("2024-07-01", "entity-b")
	require.NoError(t, provider.PutSnapshot(second))

	got, err := provider.GetSnapshot("2024-07-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.ElementsMatch(t, []string{"entity-a", "entity-b"}, got.Manifest.EntityIDs)
	assert.Len(t, got.Entities, 2)
	assert.Equal(t, types.SnapshotStatusSuccess, got.Status)
}

func TestLocalProvider_DeleteSnapshot(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, provider.PutSnapshot(testSnapshot("2024-07-01", "entity-a")))

	deleted, err := provider.DeleteSnapshot("2024-07-01")
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := provider.GetSnapshot("2024-07-01")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocalProvider_DeleteSnapshot_Missing(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	deleted, err := provider.DeleteSnapshot("does-not-exist")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestLocalProvider_IndexReadWrite(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	entry := &types.TimeSeriesEntry{
		EntityID:    "entity-a",
		ProgramYear: "2024-2025",
		DataPoints: []types.DataPoint{
			{SnapshotID: "2024-07-01", Membership: 10},
			{SnapshotID: "2024-08-01", Membership: 20},
		},
	}
	entry.Summary = types.RecomputeSummary(entry.DataPoints)
	require.NoError(t, provider.WriteIndex(entry))

	got, err := provider.ReadIndex("entity-a", "2024-2025")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Summary.Count)
	assert.Equal(t, 20.0, got.Summary.Peak)
}

func TestLocalProvider_DeleteSnapshotEntriesFromIndex(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	entry := &types.TimeSeriesEntry{
		EntityID:    "entity-a",
		ProgramYear: "2024-2025",
		DataPoints: []types.DataPoint{
			{SnapshotID: "2024-07-01", Membership: 10},
			{SnapshotID: "2024-08-01", Membership: 20},
		},
	}
	entry.Summary = types.RecomputeSummary(entry.DataPoints)
	require.NoError(t, provider.WriteIndex(entry))

	removed, err := provider.DeleteSnapshotEntriesFromIndex("2024-07-01", []string{"entity-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := provider.ReadIndex("entity-a", "2024-2025")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.DataPoints, 1)
	assert.Equal(t, 1, got.Summary.Count)
}

func TestLocalProvider_JobRoundtrip(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	job := &types.Job{
		JobID:     "job-1",
		Status:    types.JobStatusPending,
		Config:    types.JobConfig{JobType: types.JobTypeDataCollection},
		CreatedAt: time.Now(),
	}
	require.NoError(t, provider.PutJob(job))

	got, err := provider.GetJob("job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.JobStatusPending, got.Status)

	jobs, err := provider.ListJobs(JobFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestLocalProvider_ListSnapshotMetadata_DateRangeFilter(t *testing.T) {
	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, provider.PutSnapshot(testSnapshot("2024-07-01")))
	require.NoError(t, provider.PutSnapshot(testSnapshot("2024-08-01")))
	require.NoError(t, provider.PutSnapshot(testSnapshot("2024-09-01")))

	results, err := provider.ListSnapshotMetadata(SnapshotFilter{StartDate: "2024-07-15", EndDate: "2024-08-15"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2024-08-01", results[0].SnapshotID)
}
