package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/google/uuid"
)

// LocalProvider is a filesystem-backed Provider. Each snapshot lives under
// snapshots/{id}/{metadata,manifest,entity_{entityId}}.json, each index
// entry under time-series/entity_{id}/{programYear}.json, and each job
// under jobs/{id}.json. Each file is staged under a temp name and
// committed with its own rename; a snapshot's entity files are committed
// before the metadata and manifest that list them, so a crash mid-write
// never leaves a manifest naming an entity file that was not written.
type LocalProvider struct {
	baseDir string

	// mu serializes all writes, across every key, so that concurrent
	// writers for the same snapshot or index entry don't race on the
	// stage-then-rename sequence. StorageProvider is presumed
	// thread-safe at the operation level; this is the mechanism that
	// makes it so for the local backend.
	mu sync.Mutex
}

// NewLocalProvider creates a filesystem-backed Provider rooted at baseDir,
// creating the directory layout if it does not already exist.
func NewLocalProvider(baseDir string) (*LocalProvider, error) {
	for _, dir := range []string{
		baseDir,
		filepath.Join(baseDir, "snapshots"),
		filepath.Join(baseDir, "time-series"),
		filepath.Join(baseDir, "jobs"),
		filepath.Join(baseDir, ".staging"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	return &LocalProvider{baseDir: baseDir}, nil
}

func (p *LocalProvider) snapshotDir(id string) string {
	return filepath.Join(p.baseDir, "snapshots", id)
}

func (p *LocalProvider) entityFilename(entityID string) string {
	return "entity_" + sanitizeID(entityID) + ".json"
}

func (p *LocalProvider) indexDir(entityID string) string {
	return filepath.Join(p.baseDir, "time-series", "entity_"+sanitizeID(entityID))
}

func (p *LocalProvider) jobPath(id string) string {
	return filepath.Join(p.baseDir, "jobs", sanitizeID(id)+".json")
}

// sanitizeID strips path separators from identifiers before they're used to
// build filesystem paths, since entity and job IDs are free-form strings
// that cross the admin API boundary.
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, "..", "_")
	return id
}

// writeFileAtomic stages content under .staging/<uuid> and renames it into
// place, the same temp-then-rename protocol the executor relies on for
// snapshot and index commits.
func writeFileAtomic(baseDir, finalPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("storage: create parent dir: %w", err)
	}

	stagingDir := filepath.Join(baseDir, ".staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("storage: create staging dir: %w", err)
	}

	tmpPath := filepath.Join(stagingDir, uuid.NewString()+".tmp")
	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return fmt.Errorf("storage: stage write: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: commit rename: %w", err)
	}
	return nil
}

func readJSONFile[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return &v, nil
}

// PutSnapshot implements the SnapshotWriter commit protocol described in
// the writer package: stage metadata, manifest, and every entity record
// under a per-attempt prefix, then rename each into its final name. Since
// renames are per-file (not a single directory swap), we take the package
// mutex for the duration so concurrent writers to the same snapshot ID
// can't interleave partial states.
//
// A data-collection job writes one entity at a time, so a second write for
// a date that already has a committed snapshot is the common case, not an
// error: a genuinely new entity ID is merged into the existing manifest,
// and only a differing rewrite of an entity ID already present is a
// conflict.
func (p *LocalProvider) PutSnapshot(snapshot *types.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := p.snapshotDir(snapshot.SnapshotID)
	metadataPath := filepath.Join(dir, "metadata.json")

	existing, err := readJSONFile[types.Snapshot](metadataPath)
	if err != nil {
		return err
	}

	toWrite := snapshot
	entitiesToWrite := snapshot.Entities

	if existing != nil && existing.Status != types.SnapshotStatusFailed {
		outcome, err := mergeSnapshot(existing, snapshot, func(entityID string) (*types.EntityRecord, error) {
			return readJSONFile[types.EntityRecord](filepath.Join(dir, p.entityFilename(entityID)))
		})
		if err != nil {
			return err
		}
		if outcome == nil {
			return nil // idempotent re-write of identical content
		}
		toWrite = outcome.metadata
		entitiesToWrite = outcome.newEntities
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create snapshot dir: %w", err)
	}

	metadata := *toWrite
	metadata.Entities = nil // metadata.json excludes entity payloads
	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal metadata: %w", err)
	}

	manifestBytes, err := json.MarshalIndent(toWrite.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal manifest: %w", err)
	}

	for _, entity := range entitiesToWrite {
		entityBytes, err := json.MarshalIndent(entity, "", "  ")
		if err != nil {
			return fmt.Errorf("storage: marshal entity %s: %w", entity.EntityID, err)
		}
		entityPath := filepath.Join(dir, p.entityFilename(entity.EntityID))
		if err := writeFileAtomic(p.baseDir, entityPath, entityBytes); err != nil {
			return err
		}
	}

	if err := writeFileAtomic(p.baseDir, metadataPath, metadataBytes); err != nil {
		return err
	}
	if err := writeFileAtomic(p.baseDir, filepath.Join(dir, "manifest.json"), manifestBytes); err != nil {
		return err
	}

	return nil
}

func (p *LocalProvider) GetSnapshot(id string) (*types.Snapshot, error) {
	dir := p.snapshotDir(id)
	metadata, err := readJSONFile[types.Snapshot](filepath.Join(dir, "metadata.json"))
	if err != nil || metadata == nil {
		return nil, err
	}

	manifest, err := readJSONFile[types.Manifest](filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	if manifest != nil {
		metadata.Manifest = *manifest
	}

	entities := make([]types.EntityRecord, 0, len(metadata.Manifest.EntityIDs))
	for _, entityID := range metadata.Manifest.EntityIDs {
		record, err := readJSONFile[types.EntityRecord](filepath.Join(dir, p.entityFilename(entityID)))
		if err != nil {
			return nil, err
		}
		if record == nil {
			// Tolerated for partial snapshots; the manifest may list
			// entities whose record never committed.
			continue
		}
		entities = append(entities, *record)
	}
	metadata.Entities = entities

	return metadata, nil
}

func (p *LocalProvider) ListSnapshotMetadata(filter SnapshotFilter) ([]*types.Snapshot, error) {
	root := filepath.Join(p.baseDir, "snapshots")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list snapshots: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	var results []*types.Snapshot
	for _, id := range ids {
		metadata, err := readJSONFile[types.Snapshot](filepath.Join(root, id, "metadata.json"))
		if err != nil || metadata == nil {
			continue
		}
		if !matchesFilter(metadata, filter) {
			continue
		}
		results = append(results, metadata)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

func matchesFilter(s *types.Snapshot, f SnapshotFilter) bool {
	if f.StartDate != "" && s.SnapshotID < f.StartDate {
		return false
	}
	if f.EndDate != "" && s.SnapshotID > f.EndDate {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.SchemaVersion != 0 && s.SchemaVersion != f.SchemaVersion {
		return false
	}
	if f.CalculationVersion != 0 && s.CalculationVersion != f.CalculationVersion {
		return false
	}
	if f.MinEntityCount != 0 && len(s.Manifest.EntityIDs) < f.MinEntityCount {
		return false
	}
	return true
}

func (p *LocalProvider) DeleteSnapshot(id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := p.snapshotDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat %s: %w", dir, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("storage: delete snapshot %s: %w", id, err)
	}
	return true, nil
}

func (p *LocalProvider) ListEntitiesInSnapshot(id string) ([]string, error) {
	manifest, err := readJSONFile[types.Manifest](filepath.Join(p.snapshotDir(id), "manifest.json"))
	if err != nil || manifest == nil {
		return nil, err
	}
	return manifest.EntityIDs, nil
}

func (p *LocalProvider) ReadIndex(entityID, programYear string) (*types.TimeSeriesEntry, error) {
	path := filepath.Join(p.indexDir(entityID), programYear+".json")
	return readJSONFile[types.TimeSeriesEntry](path)
}

func (p *LocalProvider) WriteIndex(entry *types.TimeSeriesEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal index entry: %w", err)
	}

	path := filepath.Join(p.indexDir(entry.EntityID), entry.ProgramYear+".json")
	return writeFileAtomic(p.baseDir, path, data)
}

func (p *LocalProvider) DeleteSnapshotEntriesFromIndex(snapshotID string, entityIDs []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	programYear, err := types.ProgramYearOf(snapshotID)
	if err != nil {
		return 0, fmt.Errorf("storage: %w", err)
	}

	removed := 0
	for _, entityID := range entityIDs {
		path := filepath.Join(p.indexDir(entityID), programYear+".json")
		entry, err := readJSONFile[types.TimeSeriesEntry](path)
		if err != nil || entry == nil {
			// Missing source file: skipped silently, index failure
			// must never block snapshot deletion.
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

		data, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			continue
		}
		_ = writeFileAtomic(p.baseDir, path, data)
	}

	return removed, nil
}

func (p *LocalProvider) GetJob(id string) (*types.Job, error) {
	return readJSONFile[types.Job](p.jobPath(id))
}

func (p *LocalProvider) PutJob(job *types.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal job: %w", err)
	}
	return writeFileAtomic(p.baseDir, p.jobPath(job.JobID), data)
}

func (p *LocalProvider) ListJobs(filter JobFilter) ([]*types.Job, error) {
	root := filepath.Join(p.baseDir, "jobs")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list jobs: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var jobs []*types.Job
	for _, name := range names {
		job, err := readJSONFile[types.Job](filepath.Join(root, name))
		if err != nil || job == nil {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.JobType != "" && job.Config.JobType != filter.JobType {
			continue
		}
		jobs = append(jobs, job)
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

func (p *LocalProvider) CountSnapshots() (int, error) {
	root := filepath.Join(p.baseDir, "snapshots")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("storage: count snapshots: %w", err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() {
			count++
		}
	}
	return count, nil
}

func (p *LocalProvider) Close() error { return nil }

var _ Provider = (*LocalProvider)(nil)
