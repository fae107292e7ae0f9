// Package upstream defines the two external collaborators the executor
// invokes per work unit: the scraper that fetches raw data for a
// (date, entity) pair, and the analytics computer that derives analytics
// from an already-stored snapshot. Neither's internals are in scope here;
// only their interface to the core is specified.
package upstream

import (
	"context"
	"errors"
)

// ErrRateLimited signals the upstream fetch was rejected due to rate
// limiting (HTTP 429 or equivalent); the executor retries with backoff.
var ErrRateLimited = errors.New("upstream: rate limited")

// ErrNotAvailable signals the upstream has no data for this unit (e.g. the
// entity didn't exist yet on that date); the executor records it as a
// per-unit error rather than retrying.
var ErrNotAvailable = errors.New("upstream: not available")

// Fetcher replays the scraper for a single (date, entity) pair.
type Fetcher interface {
	Fetch(ctx context.Context, date, entityID string) (map[string]any, error)
}

// Computer derives an analytics payload from an already-stored snapshot's
// entity payload. The concrete per-domain math (membership trends, Borda
// rankings, DCP classification) lives entirely behind this interface.
type Computer interface {
	Compute(ctx context.Context, snapshotID, entityID string, payload map[string]any) (map[string]any, error)
}
