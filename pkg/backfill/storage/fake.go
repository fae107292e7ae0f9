package storage

import "github.com/cuemby/toaststats-backfill/pkg/backfill/types"

// NoopProvider discards every write and reports every read as absent. It
// exists for tests that need a Provider to satisfy a constructor but never
// touch durable state, analogous to the teacher's pattern of a single
// interface with a production and a test-only implementation.
type NoopProvider struct{}

func (NoopProvider) PutSnapshot(*types.Snapshot) error                 { return nil }
func (NoopProvider) GetSnapshot(string) (*types.Snapshot, error)       { return nil, nil }
func (NoopProvider) ListSnapshotMetadata(SnapshotFilter) ([]*types.Snapshot, error) {
	return nil, nil
}
func (NoopProvider) DeleteSnapshot(string) (bool, error)      { return false, nil }
func (NoopProvider) ListEntitiesInSnapshot(string) ([]string, error) { return nil, nil }

func (NoopProvider) ReadIndex(string, string) (*types.TimeSeriesEntry, error) { return nil, nil }
func (NoopProvider) WriteIndex(*types.TimeSeriesEntry) error                  { return nil }
func (NoopProvider) DeleteSnapshotEntriesFromIndex(string, []string) (int, error) {
	return 0, nil
}

func (NoopProvider) GetJob(string) (*types.Job, error)            { return nil, nil }
func (NoopProvider) PutJob(*types.Job) error                      { return nil }
func (NoopProvider) ListJobs(JobFilter) ([]*types.Job, error)      { return nil, nil }

func (NoopProvider) CountSnapshots() (int, error) { return 0, nil }

func (NoopProvider) Close() error { return nil }

var _ Provider = NoopProvider{}
