package jobstore

import (
	"testing"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apierr"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{JobID: "job-1", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}
	require.NoError(t, store.Create(job))

	got, err := store.Get("job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.JobStatusPending, got.Status)
}

func TestStore_Create_RejectsSecondActiveJob(t *testing.T) {
	store := newTestStore(t)

	first := &types.Job{JobID: "job-1", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}
	require.NoError(t, store.Create(first))
	_, err := store.TransitionStatus("job-1", types.JobStatusRunning, nil)
	require.NoError(t, err)

	second := &types.Job{JobID: "job-2", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}
	err = store.Create(second)
	assert.Equal(t, apierr.CodeJobAlreadyRunning, apierr.CodeOf(err))
}

func TestStore_TransitionStatus_InvalidEdgeRejected(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{JobID: "job-1", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}
	require.NoError(t, store.Create(job))
	_, err := store.TransitionStatus("job-1", types.JobStatusRunning, nil)
	require.NoError(t, err)
	_, err = store.TransitionStatus("job-1", types.JobStatusCompleted, nil)
	require.NoError(t, err)

	// completed is terminal; no further transitions allowed.
	_, err = store.TransitionStatus("job-1", types.JobStatusRunning, nil)
	assert.Equal(t, apierr.CodeInvalidJobState, apierr.CodeOf(err))
}

func TestStore_TransitionStatus_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.TransitionStatus("does-not-exist", types.JobStatusRunning, nil)
	assert.Equal(t, apierr.CodeJobNotFound, apierr.CodeOf(err))
}

func TestStore_ForceCancel_BypassesNormalEdges(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{JobID: "job-1", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}
	require.NoError(t, store.Create(job))
	_, err := store.TransitionStatus("job-1", types.JobStatusRunning, nil)
	require.NoError(t, err)

	got, err := store.ForceCancel("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, got.Status)
}

func TestStore_ForceCancel_TerminalJobRejected(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{JobID: "job-1", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}
	require.NoError(t, store.Create(job))
	_, err := store.TransitionStatus("job-1", types.JobStatusCancelled, nil)
	require.NoError(t, err)

	_, err = store.ForceCancel("job-1")
	assert.Equal(t, apierr.CodeInvalidJobState, apierr.CodeOf(err))
}

func TestStore_UpdateProgress(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{JobID: "job-1", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}
	require.NoError(t, store.Create(job))
	_, err := store.TransitionStatus("job-1", types.JobStatusRunning, nil)
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress("job-1", types.Progress{Total: 10, Processed: 3}, "2024-07-02/entity-a"))

	got, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Progress.Processed)
	assert.Equal(t, "2024-07-02/entity-a", got.Checkpoint)
}

func TestStore_List_FiltersByStatus(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Create(&types.Job{JobID: "job-1", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}))
	_, err := store.TransitionStatus("job-1", types.JobStatusCancelled, nil)
	require.NoError(t, err)

	require.NoError(t, store.Create(&types.Job{JobID: "job-2", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}))

	jobs, err := store.List(Filter{Status: types.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-2", jobs[0].JobID)
}

func TestStore_CountByStatus(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Create(&types.Job{JobID: "job-1", Config: types.JobConfig{JobType: types.JobTypeDataCollection}}))

	counts := store.CountByStatus()
	assert.Equal(t, 1, counts["pending"])
}
