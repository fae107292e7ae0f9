package executor

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
)

// Unit is one indivisible piece of a job's plan: one (date, entity) pair
// for data-collection, one snapshot for analytics-generation.
type Unit struct {
	Date     string // YYYY-MM-DD
	EntityID string // empty for analytics-generation units keyed by snapshot only
}

// Key is the checkpoint-comparable identity of a unit, e.g. "2024-07-02/entity-a".
func (u Unit) Key() string {
	if u.EntityID == "" {
		return u.Date
	}
	return u.Date + "/" + u.EntityID
}

const dayLayout = "2006-01-02"

// BuildPlan computes the ordered list of work units for job, in
// chronological date order with entity IDs ascending within a date, as
// required for checkpoint monotonicity. The second return value counts
// units omitted by skip_existing, which never enter the plan but still
// count toward the job's final skipped-unit total.
func BuildPlan(job *types.Job, entityIDs []string, store storage.Provider) ([]Unit, int, error) {
	start, err := time.Parse(dayLayout, job.Config.StartDate)
	if err != nil {
		return nil, 0, fmt.Errorf("executor: invalid start date %q: %w", job.Config.StartDate, err)
	}
	end, err := time.Parse(dayLayout, job.Config.EndDate)
	if err != nil {
		return nil, 0, fmt.Errorf("executor: invalid end date %q: %w", job.Config.EndDate, err)
	}

	filterEntities := entityIDs
	if len(job.Config.EntityIDs) > 0 {
		filterEntities = job.Config.EntityIDs
	}
	sorted := append([]string(nil), filterEntities...)
	sort.Strings(sorted)

	var units []Unit
	skipped := 0

	switch job.Config.JobType {
	case types.JobTypeDataCollection:
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			date := d.Format(dayLayout)
			for _, entityID := range sorted {
				if job.Config.SkipExisting {
					exists, err := entityExistsInSnapshot(store, date, entityID)
					if err != nil {
						return nil, 0, err
					}
					if exists {
						skipped++
						continue
					}
				}
				units = append(units, Unit{Date: date, EntityID: entityID})
			}
		}
	case types.JobTypeAnalyticsGenerate:
		metas, err := store.ListSnapshotMetadata(storage.SnapshotFilter{
			StartDate: job.Config.StartDate,
			EndDate:   job.Config.EndDate,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("executor: list snapshots for plan: %w", err)
		}
		for _, meta := range metas {
			units = append(units, Unit{Date: meta.SnapshotID})
		}
		sort.Slice(units, func(i, j int) bool { return units[i].Date < units[j].Date })
	default:
		return nil, 0, fmt.Errorf("executor: unknown job type %q", job.Config.JobType)
	}

	return units, skipped, nil
}

func entityExistsInSnapshot(store storage.Provider, date, entityID string) (bool, error) {
	entities, err := store.ListEntitiesInSnapshot(date)
	if err != nil {
		return false, fmt.Errorf("executor: check existing entities: %w", err)
	}
	for _, id := range entities {
		if id == entityID {
			return true, nil
		}
	}
	return false, nil
}

// ResumeFrom advances plan past every unit up to and including checkpoint,
// returning the remaining units in order. An empty checkpoint returns the
// full plan. A checkpoint not found in the plan (stale config change)
// returns the full plan, since there's nothing safe to skip.
func ResumeFrom(plan []Unit, checkpoint string) []Unit {
	if checkpoint == "" {
		return plan
	}
	for i, u := range plan {
		if u.Key() == checkpoint {
			return plan[i+1:]
		}
	}
	return plan
}
