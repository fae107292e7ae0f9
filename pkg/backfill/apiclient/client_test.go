package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateJob_DecodesSuccessEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/admin/backfill", r.URL.Path)

		var cfg types.JobConfig
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cfg))
		assert.Equal(t, types.JobTypeDataCollection, cfg.JobType)

		job := types.Job{JobID: "job-1", Config: cfg, Status: types.JobStatusRunning}
		data, _ := json.Marshal(job)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(envelope{Data: data})
	}))
	defer srv.Close()

	c := New(srv.URL)
	job, err := c.CreateJob(types.JobConfig{JobType: types.JobTypeDataCollection, StartDate: "2024-01-01", EndDate: "2024-01-02"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, types.JobStatusRunning, job.Status)
}

func TestClient_CreateJob_SurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(envelope{Error: &errorBody{Code: "JOB_ALREADY_RUNNING", Message: "a job is already active"}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.CreateJob(types.JobConfig{JobType: types.JobTypeDataCollection, StartDate: "2024-01-01", EndDate: "2024-01-02"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOB_ALREADY_RUNNING")
}

func TestClient_ForceCancelJob_SendsForceQueryAndOperatorBody(t *testing.T) {
	var gotQuery, gotOperator string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("force")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotOperator = body["operator"]
		_ = json.NewEncoder(w).Encode(envelope{Data: json.RawMessage(`{"jobId":"job-1","status":"cancelled"}`)})
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.NoError(t, c.ForceCancelJob("job-1", "alice"))
	assert.Equal(t, "true", gotQuery)
	assert.Equal(t, "alice", gotOperator)
}

func TestClient_ListJobs_EncodesFilterQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "running", r.URL.Query().Get("status"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		data, _ := json.Marshal([]*types.Job{})
		_ = json.NewEncoder(w).Encode(envelope{Data: data})
	}))
	defer srv.Close()

	c := New(srv.URL)
	jobs, err := c.ListJobs("running", "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestClient_GetRateLimitConfig_Roundtrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := json.Marshal(types.RateLimitConfig{MaxRequestsPerMinute: 120, MaxConcurrent: 3})
		_ = json.NewEncoder(w).Encode(envelope{Data: data})
	}))
	defer srv.Close()

	c := New(srv.URL)
	cfg, err := c.GetRateLimitConfig()
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.MaxRequestsPerMinute)
	assert.Equal(t, 3, cfg.MaxConcurrent)
}
