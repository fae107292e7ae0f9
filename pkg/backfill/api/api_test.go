package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/executor"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/index"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/jobstore"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/ratelimit"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/service"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*AdminAPI, *service.BackfillService, storage.Provider) {
	t.Helper()

	jobs, err := jobstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close() })

	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	limiter := ratelimit.New(types.RateLimitConfig{
		MaxRequestsPerMinute: 6000, MaxConcurrent: 4, MinDelayMS: 0, MaxDelayMS: 50, BackoffMultiplier: 2.0,
	})
	fetcher := upstream.NewFakeFetcher()
	catalog := upstream.NewStaticCatalog([]string{"entity-a", "entity-b"})
	svc := service.New(jobs, store, limiter, fetcher, upstream.NoopComputer{}, catalog,
		executor.Config{MaxRetries: 3, RetryBase: 5 * time.Millisecond})

	maintainer := index.New(store)
	a := New(svc, store, maintainer)
	return a, svc, store
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.NotEmpty(t, env.Metadata.OperationID)
	assert.NotEmpty(t, env.Metadata.Timestamp)
	return env
}

func TestAdminAPI_CreateJob_ValidationError(t *testing.T) {
	a, _, _ := newTestAPI(t)

	body, _ := json.Marshal(types.JobConfig{JobType: "bogus", StartDate: "2024-01-01", EndDate: "2024-01-02"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_JOB_TYPE", env.Error.Code)
}

func TestAdminAPI_CreateJob_Accepted(t *testing.T) {
	a, _, _ := newTestAPI(t)

	body, _ := json.Marshal(types.JobConfig{
		JobType: types.JobTypeDataCollection, StartDate: "2020-01-01", EndDate: "2020-01-02",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Nil(t, env.Error)
}

func TestAdminAPI_CreateJob_ConflictOnSecondActive(t *testing.T) {
	a, _, _ := newTestAPI(t)

	body, _ := json.Marshal(types.JobConfig{
		JobType: types.JobTypeDataCollection, StartDate: "2020-01-01", EndDate: "2020-01-02",
	})

	req1 := httptest.NewRequest(http.MethodPost, "/api/admin/backfill", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusAccepted, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/admin/backfill", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusConflict, rec2.Code)
	env := decodeEnvelope(t, rec2)
	require.NotNil(t, env.Error)
	assert.Equal(t, "JOB_ALREADY_RUNNING", env.Error.Code)
}

func TestAdminAPI_GetJob_NotFound(t *testing.T) {
	a, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/backfill/nonexistent", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAPI_ForceCancel_RequiresForceParam(t *testing.T) {
	a, svc, _ := newTestAPI(t)

	job, err := svc.Create(context.Background(), types.JobConfig{
		JobType: types.JobTypeDataCollection, StartDate: "2020-01-01", EndDate: "2020-01-01",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill/"+job.JobID+"/force-cancel", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORCE_REQUIRED", env.Error.Code)
}

func TestAdminAPI_ForceCancel_Succeeds(t *testing.T) {
	a, svc, _ := newTestAPI(t)

	job, err := svc.Create(context.Background(), types.JobConfig{
		JobType: types.JobTypeDataCollection, StartDate: "2020-01-01", EndDate: "2020-01-01",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill/"+job.JobID+"/force-cancel?force=true", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAPI_DeleteSnapshotRange_Unsupported(t *testing.T) {
	a, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/snapshots/range", bytes.NewReader([]byte(`{"startDate":"2024-01-01","endDate":"2024-01-02"}`)))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestAdminAPI_DeleteSnapshotAll_Unsupported(t *testing.T) {
	a, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/snapshots/all", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestAdminAPI_DeleteSnapshots_NotFoundIsNotAnError(t *testing.T) {
	a, _, _ := newTestAPI(t)

	body, _ := json.Marshal(deleteSnapshotsRequest{SnapshotIDs: []string{"2099-01-01"}})
	req := httptest.NewRequest(http.MethodDelete, "/api/admin/snapshots", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data []deleteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data, 1)
	assert.False(t, env.Data[0].Deleted)
}

func TestAdminAPI_RateLimit_GetAndPut(t *testing.T) {
	a, _, _ := newTestAPI(t)

	getReq := httptest.NewRequest(http.MethodGet, "/api/admin/backfill/config/rate-limit", nil)
	getRec := httptest.NewRecorder()
	a.Handler().ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)

	body, _ := json.Marshal(types.RateLimitConfig{MaxConcurrent: 2})
	putReq := httptest.NewRequest(http.MethodPut, "/api/admin/backfill/config/rate-limit", bytes.NewReader(body))
	putRec := httptest.NewRecorder()
	a.Handler().ServeHTTP(putRec, putReq)
	assert.Equal(t, http.StatusOK, putRec.Code)
}

func TestAdminAPI_Preview_ReturnsUnitBreakdown(t *testing.T) {
	a, _, _ := newTestAPI(t)

	body, _ := json.Marshal(types.JobConfig{
		JobType: types.JobTypeDataCollection, StartDate: "2020-01-01", EndDate: "2020-01-02",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill/preview", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data types.Preview `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, 4, env.Data.TotalUnits)
}
