package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apierr"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/jobstore"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
)

// handleCreateJob validates a job request and delegates to
// BackfillService.Create, responding 202 Accepted since the executor runs
// asynchronously.
func (a *AdminAPI) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var cfg types.JobConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := validateJobConfig(cfg); err != nil {
		writeError(w, err)
		return
	}

	job, err := a.svc.Create(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, job)
}

// handlePreview validates a job request and returns what it would
// process without creating or running anything.
func (a *AdminAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	var cfg types.JobConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := validateJobConfig(cfg); err != nil {
		writeError(w, err)
		return
	}

	preview, err := a.svc.Preview(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, preview)
}

// handleListJobs supports limit, offset, status, and jobType query
// filters.
func (a *AdminAPI) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := jobstore.Filter{
		Status:  types.JobStatus(q.Get("status")),
		JobType: types.JobType(q.Get("jobType")),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, apierr.New(apierr.CodeValidationError, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, apierr.New(apierr.CodeValidationError, "offset must be a non-negative integer"))
			return
		}
		filter.Offset = offset
	}

	jobs, err := a.svc.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, jobs)
}

// handleGetJob returns a single job's full status, including progress
// and checkpoint.
func (a *AdminAPI) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if err := nonEmpty("jobId", jobID); err != nil {
		writeError(w, err)
		return
	}

	job, err := a.svc.Get(jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeError(w, apierr.Newf(apierr.CodeJobNotFound, "job %s not found", jobID))
		return
	}
	writeData(w, http.StatusOK, job)
}

// handleCancelJob requests cooperative cancellation.
func (a *AdminAPI) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if err := nonEmpty("jobId", jobID); err != nil {
		writeError(w, err)
		return
	}

	if err := a.svc.Cancel(jobID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"jobId": jobID, "status": "cancel_requested"})
}

type forceCancelRequest struct {
	Operator string `json:"operator,omitempty"`
}

// handleForceCancelJob requires the force=true query parameter as an
// explicit confirmation before bypassing cooperative cancellation.
func (a *AdminAPI) handleForceCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if err := nonEmpty("jobId", jobID); err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("force") != "true" {
		writeError(w, apierr.New(apierr.CodeForceRequired, "force=true query parameter is required to force-cancel a job"))
		return
	}

	var body forceCancelRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.Operator == "" {
		body.Operator = "unknown"
	}

	if err := a.svc.ForceCancel(jobID, body.Operator); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"jobId": jobID, "status": "cancelled"})
}

// handleGetRateLimit returns the live rate limiter configuration.
func (a *AdminAPI) handleGetRateLimit(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, a.svc.GetRateLimitConfig())
}

// handlePutRateLimit applies a validated partial update.
func (a *AdminAPI) handlePutRateLimit(w http.ResponseWriter, r *http.Request) {
	var patch types.RateLimitConfig
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := validateRateLimitConfig(patch, true); err != nil {
		writeError(w, err)
		return
	}

	updated, err := a.svc.UpdateRateLimitConfig(patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

// handleListSnapshots supports the same filter set as §4.A's
// SnapshotFilter.
func (a *AdminAPI) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.SnapshotFilter{
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Status:    types.SnapshotStatus(q.Get("status")),
	}
	if v := q.Get("schemaVersion"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.New(apierr.CodeValidationError, "schemaVersion must be an integer"))
			return
		}
		filter.SchemaVersion = n
	}
	if v := q.Get("calculationVersion"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.New(apierr.CodeValidationError, "calculationVersion must be an integer"))
			return
		}
		filter.CalculationVersion = n
	}
	if v := q.Get("minEntityCount"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.New(apierr.CodeValidationError, "minEntityCount must be an integer"))
			return
		}
		filter.MinEntityCount = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.New(apierr.CodeValidationError, "limit must be an integer"))
			return
		}
		filter.Limit = n
	}

	metas, err := a.store.ListSnapshotMetadata(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, metas)
}

// handleGetSnapshot returns a snapshot's metadata and manifest, but not
// its full entity payloads (see handleGetSnapshotPayload).
func (a *AdminAPI) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := nonEmpty("id", id); err != nil {
		writeError(w, err)
		return
	}

	snap, err := a.store.GetSnapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if snap == nil {
		writeError(w, apierr.Newf(apierr.CodeSnapshotNotFound, "snapshot %s not found", id))
		return
	}
	writeData(w, http.StatusOK, struct {
		SnapshotID         string               `json:"snapshotId"`
		CreatedAt          string               `json:"createdAt"`
		SchemaVersion      int                  `json:"schemaVersion"`
		CalculationVersion int                  `json:"calculationVersion"`
		Status             types.SnapshotStatus `json:"status"`
		Errors             []string             `json:"errors,omitempty"`
		Manifest           types.Manifest       `json:"manifest"`
	}{
		SnapshotID:         snap.SnapshotID,
		CreatedAt:          snap.CreatedAt.UTC().Format(time.RFC3339),
		SchemaVersion:      snap.SchemaVersion,
		CalculationVersion: snap.CalculationVersion,
		Status:             snap.Status,
		Errors:             snap.Errors,
		Manifest:           snap.Manifest,
	})
}

// handleGetSnapshotPayload returns the full entity payload set.
func (a *AdminAPI) handleGetSnapshotPayload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := nonEmpty("id", id); err != nil {
		writeError(w, err)
		return
	}

	snap, err := a.store.GetSnapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if snap == nil {
		writeError(w, apierr.Newf(apierr.CodeSnapshotNotFound, "snapshot %s not found", id))
		return
	}
	writeData(w, http.StatusOK, snap.Entities)
}

type deleteSnapshotsRequest struct {
	SnapshotIDs []string `json:"snapshotIds"`
}

type deleteResult struct {
	SnapshotID string `json:"snapshotId"`
	Deleted    bool   `json:"deleted"`
}

// handleDeleteSnapshots cascades deletion for an explicit list of
// snapshot IDs: each is removed from storage and its data points purged
// from every time-series entry that referenced it.
func (a *AdminAPI) handleDeleteSnapshots(w http.ResponseWriter, r *http.Request) {
	var body deleteSnapshotsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if len(body.SnapshotIDs) == 0 {
		writeError(w, apierr.New(apierr.CodeValidationError, "snapshotIds must not be empty"))
		return
	}

	results := make([]deleteResult, 0, len(body.SnapshotIDs))
	for _, id := range body.SnapshotIDs {
		entityIDs, err := a.store.ListEntitiesInSnapshot(id)
		if err != nil {
			writeError(w, err)
			return
		}

		deleted, err := a.store.DeleteSnapshot(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if deleted {
			a.index.OnSnapshotDelete(id, entityIDs)
		}
		results = append(results, deleteResult{SnapshotID: id, Deleted: deleted})
	}
	writeData(w, http.StatusOK, results)
}

// handleDeleteSnapshotRange and handleDeleteAllSnapshots are both
// unsupported: deleting an unbounded filter of snapshots is O(snapshots)
// and isn't part of the subsystem's testable invariants, so both
// backends reject it uniformly rather than one silently accepting it.
func (a *AdminAPI) handleDeleteSnapshotRange(w http.ResponseWriter, r *http.Request) {
	writeError(w, apierr.New(apierr.CodeUnsupported, "deleting a date range of snapshots is not supported; delete by explicit snapshotIds instead"))
}

func (a *AdminAPI) handleDeleteAllSnapshots(w http.ResponseWriter, r *http.Request) {
	writeError(w, apierr.New(apierr.CodeUnsupported, "deleting all snapshots is not supported; delete by explicit snapshotIds instead"))
}
