// Package apiclient wraps the admin HTTP API for CLI usage, the way the
// teacher stack wraps its RPC surface in a typed client the command-line
// tool drives instead of hand-rolling requests per command.
package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apierr"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
)

// Client talks to a running AdminAPI over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client targeting baseURL, e.g. "http://127.0.0.1:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}

	if env.Error != nil {
		return apierr.New(apierr.Code(env.Error.Code), env.Error.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("apiclient: unmarshal data: %w", err)
		}
	}
	return nil
}

// CreateJob submits a new backfill job.
func (c *Client) CreateJob(cfg types.JobConfig) (*types.Job, error) {
	var job types.Job
	if err := c.do(http.MethodPost, "/api/admin/backfill", nil, cfg, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Preview dry-runs a job request.
func (c *Client) Preview(cfg types.JobConfig) (*types.Preview, error) {
	var preview types.Preview
	if err := c.do(http.MethodPost, "/api/admin/backfill/preview", nil, cfg, &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// ListJobs lists jobs matching the given filters.
func (c *Client) ListJobs(status, jobType string, limit, offset int) ([]*types.Job, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if jobType != "" {
		q.Set("jobType", jobType)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}

	var jobs []*types.Job
	if err := c.do(http.MethodGet, "/api/admin/backfill/jobs", q, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches a single job's status.
func (c *Client) GetJob(jobID string) (*types.Job, error) {
	var job types.Job
	if err := c.do(http.MethodGet, "/api/admin/backfill/"+jobID, nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob requests cooperative cancellation.
func (c *Client) CancelJob(jobID string) error {
	return c.do(http.MethodDelete, "/api/admin/backfill/"+jobID, nil, nil, nil)
}

// ForceCancelJob bypasses cooperative cancellation.
func (c *Client) ForceCancelJob(jobID, operator string) error {
	q := url.Values{"force": []string{"true"}}
	return c.do(http.MethodPost, "/api/admin/backfill/"+jobID+"/force-cancel", q,
		map[string]string{"operator": operator}, nil)
}

// GetRateLimitConfig fetches the live rate limiter configuration.
func (c *Client) GetRateLimitConfig() (*types.RateLimitConfig, error) {
	var cfg types.RateLimitConfig
	if err := c.do(http.MethodGet, "/api/admin/backfill/config/rate-limit", nil, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateRateLimitConfig applies a partial update.
func (c *Client) UpdateRateLimitConfig(patch types.RateLimitConfig) (*types.RateLimitConfig, error) {
	var cfg types.RateLimitConfig
	if err := c.do(http.MethodPut, "/api/admin/backfill/config/rate-limit", nil, patch, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListSnapshots lists snapshot metadata with the standard filter set.
func (c *Client) ListSnapshots(startDate, endDate string, limit int) ([]*types.Snapshot, error) {
	q := url.Values{}
	if startDate != "" {
		q.Set("startDate", startDate)
	}
	if endDate != "" {
		q.Set("endDate", endDate)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}

	var snaps []*types.Snapshot
	if err := c.do(http.MethodGet, "/api/admin/snapshots", q, nil, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// GetSnapshot fetches a single snapshot's metadata and manifest.
func (c *Client) GetSnapshot(id string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(http.MethodGet, "/api/admin/snapshots/"+id, nil, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// GetSnapshotPayload fetches a snapshot's full entity payload set.
func (c *Client) GetSnapshotPayload(id string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(http.MethodGet, "/api/admin/snapshots/"+id+"/payload", nil, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DeleteResult is one snapshot's deletion outcome.
type DeleteResult struct {
	SnapshotID string `json:"snapshotId"`
	Deleted    bool   `json:"deleted"`
}

// DeleteSnapshots cascades deletion for an explicit list of snapshot IDs.
func (c *Client) DeleteSnapshots(ids []string) ([]DeleteResult, error) {
	var results []DeleteResult
	body := map[string][]string{"snapshotIds": ids}
	if err := c.do(http.MethodDelete, "/api/admin/snapshots", nil, body, &results); err != nil {
		return nil, err
	}
	return results, nil
}
