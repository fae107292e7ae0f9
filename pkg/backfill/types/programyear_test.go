package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramYearOf(t *testing.T) {
	tests := []struct {
		name       string
		snapshotID string
		expected   string
	}{
		{name: "july starts new program year", snapshotID: "2024-07-01", expected: "2024-2025"},
		{name: "december still in same program year", snapshotID: "2024-12-31", expected: "2024-2025"},
		{name: "january belongs to prior calendar year start", snapshotID: "2025-01-15", expected: "2024-2025"},
		{name: "june closes the program year", snapshotID: "2025-06-30", expected: "2024-2025"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProgramYearOf(tt.snapshotID)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestProgramYearOf_Malformed(t *testing.T) {
	_, err := ProgramYearOf("not-a-date")
	assert.Error(t, err)
}

func TestRecomputeSummary(t *testing.T) {
	t.Run("empty yields zeroed summary", func(t *testing.T) {
		assert.Equal(t, Summary{}, RecomputeSummary(nil))
	})

	t.Run("single point", func(t *testing.T) {
		points := []DataPoint{{SnapshotID: "2024-07-01", Membership: 42}}
		assert.Equal(t, Summary{Start: 42, End: 42, Peak: 42, Low: 42, Count: 1}, RecomputeSummary(points))
	})

	t.Run("multiple points sorted by snapshot id", func(t *testing.T) {
		points := []DataPoint{
			{SnapshotID: "2024-07-01", Membership: 10},
			{SnapshotID: "2024-08-01", Membership: 30},
			{SnapshotID: "2024-09-01", Membership: 5},
		}
		summary := RecomputeSummary(points)
		assert.Equal(t, 10.0, summary.Start)
		assert.Equal(t, 5.0, summary.End)
		assert.Equal(t, 30.0, summary.Peak)
		assert.Equal(t, 5.0, summary.Low)
		assert.Equal(t, 3, summary.Count)
	})
}
