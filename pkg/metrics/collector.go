package metrics

import "time"

// JobCounter reports the current job table state for gauge collection.
// Implemented by pkg/backfill/jobstore.Store.
type JobCounter interface {
	CountByStatus() map[string]int
}

// SnapshotCounter reports the current snapshot store state for gauge
// collection. Implemented by the pkg/backfill/storage.Provider
// implementations, which can cheaply report a count.
type SnapshotCounter interface {
	CountSnapshots() (int, error)
}

// Collector polls the job store and snapshot store on an interval and
// publishes the results as gauges, mirroring the teacher's manager-polling
// collector but against the backfill domain's own stores.
type Collector struct {
	jobs      JobCounter
	snapshots SnapshotCounter
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCollector creates a new metrics collector. snapshots may be nil if
// the configured storage backend does not support cheap counting.
func NewCollector(jobs JobCounter, snapshots SnapshotCounter) *Collector {
	return &Collector{
		jobs:      jobs,
		snapshots: snapshots,
		interval:  15 * time.Second,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics on a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectJobMetrics()
	c.collectSnapshotMetrics()
}

func (c *Collector) collectJobMetrics() {
	if c.jobs == nil {
		return
	}

	counts := c.jobs.CountByStatus()
	for _, status := range []string{
		"pending", "running", "recovering", "completed", "failed", "cancelled",
	} {
		JobsTotal.WithLabelValues(status).Set(float64(counts[status]))
	}
}

func (c *Collector) collectSnapshotMetrics() {
	if c.snapshots == nil {
		return
	}

	count, err := c.snapshots.CountSnapshots()
	if err != nil {
		return
	}

	SnapshotsTotal.Set(float64(count))
}
