package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ProgramYearOf returns the YYYY-YYYY program-year label for a YYYY-MM-DD
// snapshot ID. Program years run July 1 through June 30: a date in
// July-December belongs to the year starting that calendar year, a date in
// January-June belongs to the year that started the previous calendar year.
func ProgramYearOf(snapshotID string) (string, error) {
	parts := strings.Split(snapshotID, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("types: malformed snapshot id %q", snapshotID)
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("types: malformed snapshot id %q: %w", snapshotID, err)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("types: malformed snapshot id %q: %w", snapshotID, err)
	}

	if month >= 7 {
		return fmt.Sprintf("%d-%d", year, year+1), nil
	}
	return fmt.Sprintf("%d-%d", year-1, year), nil
}

// RecomputeSummary derives Summary as a pure function of points. Points must
// already be sorted by SnapshotID. An empty slice yields a zeroed summary.
func RecomputeSummary(points []DataPoint) Summary {
	if len(points) == 0 {
		return Summary{}
	}

	peak := points[0].Membership
	low := points[0].Membership
	for _, p := range points[1:] {
		if p.Membership > peak {
			peak = p.Membership
		}
		if p.Membership < low {
			low = p.Membership
		}
	}

	return Summary{
		Start: points[0].Membership,
		End:   points[len(points)-1].Membership,
		Peak:  peak,
		Low:   low,
		Count: len(points),
	}
}
