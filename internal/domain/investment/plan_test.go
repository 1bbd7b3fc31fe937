package investment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTranches(t *testing.T) {
	testCases := []struct {
		name     string
		total    string
		expected []string
	}{
		{"Even split", "5000", []string{"1000", "1000", "1000", "1000", "1000"}},
		{"Remainder goes to last week", "1000.01", []string{"200", "200", "200", "200", "200.01"}},
		{"Paise truncation", "100.03", []string{"20", "20", "20", "20", "20.03"}},
		{"Smallest splittable amount", "0.05", []string{"0.01", "0.01", "0.01", "0.01", "0.01"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			total := decimal.RequireFromString(tc.total)
			parts, err := SplitTranches(total)
			require.NoError(t, err)
			require.Len(t, parts, WeeksPerCycle)

			sum := decimal.Zero
			for i, p := range parts {
				assert.True(t, p.Equal(decimal.RequireFromString(tc.expected[i])), "week %d: got %s", i+1, p)
				sum = sum.Add(p)
			}
			assert.True(t, sum.Equal(total), "parts must sum to total, got %s", sum)
		})
	}
}

func TestSplitTranches_Rejects(t *testing.T) {
	testCases := []struct {
		name  string
		total string
	}{
		{"Zero", "0"},
		{"Negative", "-10"},
		{"Too many decimals", "100.001"},
		{"Too small to split", "0.04"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SplitTranches(decimal.RequireFromString(tc.total))
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestPlanEntries_NiftyBeesScenario(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	start := time.Date(2024, 1, 1, 15, 0, 0, 0, ist)

	entries, err := PlanEntries(decimal.NewFromInt(5000), start)
	require.NoError(t, err)
	require.Len(t, entries, WeeksPerCycle)
	assert.True(t, CheckWeeks(entries))

	expectedDates := []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22", "2024-01-29"}
	for i, e := range entries {
		assert.Equal(t, i+1, e.WeekNumber)
		assert.Equal(t, expectedDates[i], e.ExecutionDate.Format(DateLayout))
		assert.Equal(t, "15:00:00", e.ExecutionTime.String())
		assert.True(t, e.Amount.Equal(decimal.NewFromInt(1000)))
		assert.Equal(t, ScheduleStatusPending, e.Status)
		assert.Equal(t, int64(0), e.Quantity)
		assert.True(t, e.ExecuteAt(ist).Equal(start.AddDate(0, 0, 7*i)))
		if i > 0 {
			gap := e.ExecuteAt(ist).Sub(entries[i-1].ExecuteAt(ist))
			assert.Equal(t, 7*24*time.Hour, gap)
		}
	}
	assert.True(t, SumAmounts(entries).Equal(decimal.NewFromInt(5000)))
}

func TestCheckWeeks(t *testing.T) {
	mk := func(weeks ...int) []*ScheduleEntry {
		out := make([]*ScheduleEntry, 0, len(weeks))
		for _, w := range weeks {
			out = append(out, &ScheduleEntry{WeekNumber: w})
		}
		return out
	}

	assert.True(t, CheckWeeks(mk(1, 2, 3, 4, 5)))
	assert.True(t, CheckWeeks(mk(5, 4, 3, 2, 1)))
	assert.False(t, CheckWeeks(mk(1, 2, 3, 4)))
	assert.False(t, CheckWeeks(mk(1, 2, 3, 4, 4)))
	assert.False(t, CheckWeeks(mk(0, 1, 2, 3, 4)))
}
