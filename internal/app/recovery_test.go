package app

import (
	"context"
	"testing"
	"time"

	"tranche_investor/internal/domain/investment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecoveryFixture(now time.Time) (*memoryRepo, *fakeTimers, *RecoveryLoader) {
	repo := newMemoryRepo()
	timers := newFakeTimers()
	clock := &testClock{t: now}
	loader := NewRecoveryLoader(repo, timers, NewCycleLocks(), Settings{Location: ist, Now: clock.Now}, testLogger())
	return repo, timers, loader
}

func TestRecover_ExpiresPastAndArmsFuture(t *testing.T) {
	repo, timers, loader := newRecoveryFixture(time.Date(2024, 1, 16, 9, 0, 0, 0, ist))
	cycle, entries := repo.seedCycle(investment.CycleStatusActive, decimal.NewFromInt(5000), time.Date(2024, 1, 1, 15, 0, 0, 0, ist))
	repo.setScheduleStatus(entries[0].ID, investment.ScheduleStatusExecuted)

	report, err := loader.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Expired)
	assert.Equal(t, 2, report.Armed)
	assert.Empty(t, report.Anomalies)

	detail := make(map[int]investment.ScheduleStatus)
	stored, err := repo.ListSchedulesByCycle(context.Background(), cycle.ID)
	require.NoError(t, err)
	for _, e := range stored {
		detail[e.WeekNumber] = e.Status
	}
	assert.Equal(t, investment.ScheduleStatusExecuted, detail[1])
	assert.Equal(t, investment.ScheduleStatusExpired, detail[2])
	assert.Equal(t, investment.ScheduleStatusExpired, detail[3])
	assert.Equal(t, investment.ScheduleStatusPending, detail[4])
	assert.Equal(t, investment.ScheduleStatusPending, detail[5])

	armed := timers.snapshot()
	require.Len(t, armed, 2)
	for _, e := range entries[1:3] {
		_, ok := armed[e.TimerKey()]
		assert.False(t, ok, "expired week %d must not be armed", e.WeekNumber)
	}
	week4, ok := armed[entries[3].TimerKey()]
	require.True(t, ok)
	assert.True(t, week4.FireAt.Equal(time.Date(2024, 1, 22, 15, 0, 0, 0, ist)))
	assert.Equal(t, "2024-01-22", week4.Job.TargetDate)
	assert.Equal(t, "10576", week4.Job.SecurityID)
}

func TestRecover_AllPastEntriesExpireWithNoTimers(t *testing.T) {
	repo, timers, loader := newRecoveryFixture(time.Date(2024, 3, 1, 9, 0, 0, 0, ist))
	cycle, _ := repo.seedCycle(investment.CycleStatusActive, decimal.NewFromInt(5000), time.Date(2024, 1, 1, 15, 0, 0, 0, ist))

	report, err := loader.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, investment.WeeksPerCycle, report.Expired)
	assert.Equal(t, 0, report.Armed)
	assert.Equal(t, 0, timers.Len())

	stored, err := repo.ListSchedulesByCycle(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, investment.WeeksPerCycle, investment.CountByStatus(stored, investment.ScheduleStatusExpired))
}

func TestRecover_IgnoresNonActiveCycles(t *testing.T) {
	repo, timers, loader := newRecoveryFixture(time.Date(2024, 1, 16, 9, 0, 0, 0, ist))
	paused, _ := repo.seedCycle(investment.CycleStatusPaused, decimal.NewFromInt(5000), time.Date(2024, 1, 1, 15, 0, 0, 0, ist))

	report, err := loader.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Armed)
	assert.Equal(t, 0, report.Expired)
	assert.Equal(t, 0, timers.Len())

	stored, err := repo.ListSchedulesByCycle(context.Background(), paused.ID)
	require.NoError(t, err)
	assert.Equal(t, investment.WeeksPerCycle, investment.CountByStatus(stored, investment.ScheduleStatusPending))
}

func TestRecover_LogsIncompleteCycles(t *testing.T) {
	repo, _, loader := newRecoveryFixture(time.Date(2023, 12, 1, 9, 0, 0, 0, ist))
	_, entries := repo.seedCycle(investment.CycleStatusActive, decimal.NewFromInt(5000), time.Date(2024, 1, 1, 15, 0, 0, 0, ist))
	repo.mu.Lock()
	delete(repo.schedules, entries[4].ID)
	repo.mu.Unlock()

	report, err := loader.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Armed)
	require.Len(t, report.Anomalies, 1)
	assert.Contains(t, report.Anomalies[0], "has 4 schedules")
}

func TestRecover_ReportsBrokenCycleWithNothingPending(t *testing.T) {
	repo, timers, loader := newRecoveryFixture(time.Date(2024, 2, 1, 9, 0, 0, 0, ist))
	_, entries := repo.seedCycle(investment.CycleStatusActive, decimal.NewFromInt(5000), time.Date(2024, 1, 1, 15, 0, 0, 0, ist))
	for _, e := range entries[:3] {
		repo.setScheduleStatus(e.ID, investment.ScheduleStatusExecuted)
	}
	repo.setScheduleStatus(entries[3].ID, investment.ScheduleStatusFailed)
	repo.mu.Lock()
	delete(repo.schedules, entries[4].ID)
	repo.mu.Unlock()

	report, err := loader.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Armed)
	assert.Zero(t, report.Expired)
	assert.Equal(t, 0, timers.Len())
	require.Len(t, report.Anomalies, 1)
	assert.Contains(t, report.Anomalies[0], "has 4 schedules")
}

func TestRecover_StoreFailure(t *testing.T) {
	repo, timers, loader := newRecoveryFixture(time.Date(2024, 1, 16, 9, 0, 0, 0, ist))
	repo.seedCycle(investment.CycleStatusActive, decimal.NewFromInt(5000), time.Date(2024, 1, 1, 15, 0, 0, 0, ist))
	repo.failOn["ListPendingSchedules"] = assert.AnError

	_, err := loader.Recover(context.Background())
	assert.ErrorIs(t, err, investment.ErrPersistence)
	assert.Equal(t, 0, timers.Len())
}
