package storage

import (
	"encoding/json"
	"sync"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
)

// CloudProvider is an in-process stand-in for an object-store-backed
// Provider (S3-compatible or similar). It models the cloud backend's
// consistency contract — conditional put instead of temp-then-rename,
// object keys instead of file paths — without depending on a specific
// vendor SDK, so it can be selected by the same backend switch as
// LocalProvider and exercised in tests without network access. A
// production deployment swaps this for a real SDK client behind the same
// Provider interface.
type CloudProvider struct {
	bucket string
	prefix string

	mu      sync.Mutex
	objects map[string][]byte
}

// NewCloudProvider creates a CloudProvider addressing the given bucket and
// key prefix.
func NewCloudProvider(bucket, prefix string) *CloudProvider {
	return &CloudProvider{
		bucket:  bucket,
		prefix:  prefix,
		objects: make(map[string][]byte),
	}
}

func (p *CloudProvider) key(parts ...string) string {
	key := p.prefix
	for _, part := range parts {
		key += "/" + part
	}
	return key
}

func (p *CloudProvider) putConditional(key string, content []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Conditional put: an object at this key is simply overwritten with
	// the new bytes. Unlike the local backend's rename, object stores
	// make the final PUT itself the atomic commit point — there is no
	// partially-written object visible to readers mid-request.
	p.objects[key] = content
	return nil
}

func (p *CloudProvider) get(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[key]
	return data, ok
}

func (p *CloudProvider) delete(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[key]; !ok {
		return false
	}
	delete(p.objects, key)
	return true
}

// PutSnapshot mirrors LocalProvider's merge-on-collision protocol: a new
// entity ID arriving for an already-committed, non-failed snapshot is
// appended rather than rejected, and only a differing rewrite of an entity
// ID already present is a conflict.
func (p *CloudProvider) PutSnapshot(snapshot *types.Snapshot) error {
	metadataKey := p.key("snapshots", snapshot.SnapshotID, "metadata.json")

	toWrite := snapshot
	entitiesToWrite := snapshot.Entities

	if existing, ok := p.get(metadataKey); ok {
		var prior types.Snapshot
		if err := json.Unmarshal(existing, &prior); err == nil && prior.Status != types.SnapshotStatusFailed {
			outcome, err := mergeSnapshot(&prior, snapshot, func(entityID string) (*types.EntityRecord, error) {
				data, ok := p.get(p.key("snapshots", snapshot.SnapshotID, "entity_"+sanitizeID(entityID)+".json"))
				if !ok {
					return nil, nil
				}
				var record types.EntityRecord
				if err := json.Unmarshal(data, &record); err != nil {
					return nil, err
				}
				return &record, nil
			})
			if err != nil {
				return err
			}
			if outcome == nil {
				return nil
			}
			toWrite = outcome.metadata
			entitiesToWrite = outcome.newEntities
		}
	}

	metadata := *toWrite
	metadata.Entities = nil
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	manifestBytes, err := json.Marshal(toWrite.Manifest)
	if err != nil {
		return err
	}

	if err := p.putConditional(metadataKey, metadataBytes); err != nil {
		return err
	}
	if err := p.putConditional(p.key("snapshots", snapshot.SnapshotID, "manifest.json"), manifestBytes); err != nil {
		return err
	}
	for _, entity := range entitiesToWrite {
		entityBytes, err := json.Marshal(entity)
		if err != nil {
			return err
		}
		entityKey := p.key("snapshots", snapshot.SnapshotID, "entity_"+sanitizeID(entity.EntityID)+".json")
		if err := p.putConditional(entityKey, entityBytes); err != nil {
			return err
		}
	}
	return nil
}

func (p *CloudProvider) GetSnapshot(id string) (*types.Snapshot, error) {
	metaBytes, ok := p.get(p.key("snapshots", id, "metadata.json"))
	if !ok {
		return nil, nil
	}
	var snapshot types.Snapshot
	if err := json.Unmarshal(metaBytes, &snapshot); err != nil {
		return nil, err
	}

	if manifestBytes, ok := p.get(p.key("snapshots", id, "manifest.json")); ok {
		var manifest types.Manifest
		if err := json.Unmarshal(manifestBytes, &manifest); err == nil {
			snapshot.Manifest = manifest
		}
	}

	entities := make([]types.EntityRecord, 0, len(snapshot.Manifest.EntityIDs))
	for _, entityID := range snapshot.Manifest.EntityIDs {
		entityBytes, ok := p.get(p.key("snapshots", id, "entity_"+sanitizeID(entityID)+".json"))
		if !ok {
			continue
		}
		var record types.EntityRecord
		if err := json.Unmarshal(entityBytes, &record); err == nil {
			entities = append(entities, record)
		}
	}
	snapshot.Entities = entities

	return &snapshot, nil
}

func (p *CloudProvider) ListSnapshotMetadata(filter SnapshotFilter) ([]*types.Snapshot, error) {
	p.mu.Lock()
	ids := make(map[string]struct{})
	prefix := p.key("snapshots") + "/"
	for key := range p.objects {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			rest := key[len(prefix):]
			for i, c := range rest {
				if c == '/' {
					ids[rest[:i]] = struct{}{}
					break
				}
			}
		}
	}
	p.mu.Unlock()

	var results []*types.Snapshot
	for id := range ids {
		snapshot, err := p.GetSnapshot(id)
		if err != nil || snapshot == nil {
			continue
		}
		if !matchesFilter(snapshot, filter) {
			continue
		}
		results = append(results, snapshot)
	}
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func (p *CloudProvider) DeleteSnapshot(id string) (bool, error) {
	snapshot, err := p.GetSnapshot(id)
	if err != nil || snapshot == nil {
		return false, err
	}

	deleted := p.delete(p.key("snapshots", id, "metadata.json"))
	p.delete(p.key("snapshots", id, "manifest.json"))
	for _, entityID := range snapshot.Manifest.EntityIDs {
		p.delete(p.key("snapshots", id, "entity_"+sanitizeID(entityID)+".json"))
	}
	return deleted, nil
}

func (p *CloudProvider) ListEntitiesInSnapshot(id string) ([]string, error) {
	snapshot, err := p.GetSnapshot(id)
	if err != nil || snapshot == nil {
		return nil, err
	}
	return snapshot.Manifest.EntityIDs, nil
}

func (p *CloudProvider) ReadIndex(entityID, programYear string) (*types.TimeSeriesEntry, error) {
	data, ok := p.get(p.key("time-series", "entity_"+sanitizeID(entityID), programYear+".json"))
	if !ok {
		return nil, nil
	}
	var entry types.TimeSeriesEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (p *CloudProvider) WriteIndex(entry *types.TimeSeriesEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := p.key("time-series", "entity_"+sanitizeID(entry.EntityID), entry.ProgramYear+".json")
	return p.putConditional(key, data)
}

func (p *CloudProvider) DeleteSnapshotEntriesFromIndex(snapshotID string, entityIDs []string) (int, error) {
	programYear, err := types.ProgramYearOf(snapshotID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entityID := range entityIDs {
		entry, err := p.ReadIndex(entityID, programYear)
		if err != nil || entry == nil {
			continue
		}
		filtered := entry.DataPoints[:0]
		for _, dp := range entry.DataPoints {
			if dp.SnapshotID == snapshotID {
				removed++
				continue
			}
			filtered = append(filtered, dp)
		}
		entry.DataPoints = filtered
		entry.Summary = types.RecomputeSummary(entry.DataPoints)
		_ = p.WriteIndex(entry)
	}
	return removed, nil
}

func (p *CloudProvider) GetJob(id string) (*types.Job, error) {
	data, ok := p.get(p.key("jobs", id+".json"))
	if !ok {
		return nil, nil
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (p *CloudProvider) PutJob(job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.putConditional(p.key("jobs", job.JobID+".json"), data)
}

func (p *CloudProvider) ListJobs(filter JobFilter) ([]*types.Job, error) {
	p.mu.Lock()
	prefix := p.key("jobs") + "/"
	var keys []string
	for key := range p.objects {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	p.mu.Unlock()

	var jobs []*types.Job
	for _, key := range keys {
		data, ok := p.get(key)
		if !ok {
			continue
		}
		var job types.Job
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.JobType != "" && job.Config.JobType != filter.JobType {
			continue
		}
		jobs = append(jobs, &job)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[filter.Offset:]
	}
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (p *CloudProvider) CountSnapshots() (int, error) {
	metas, err := p.ListSnapshotMetadata(SnapshotFilter{})
	if err != nil {
		return 0, err
	}
	return len(metas), nil
}

func (p *CloudProvider) Close() error { return nil }

var _ Provider = (*CloudProvider)(nil)
