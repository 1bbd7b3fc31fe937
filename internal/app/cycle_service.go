// internal/app/cycle_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tranche_investor/internal/domain/broker"
	"tranche_investor/internal/domain/investment"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CreateCycleResult is returned by CreateCycle.
type CreateCycleResult struct {
	Cycle        *investment.Cycle
	Entries      []*investment.ScheduleEntry
	ScheduledAt  []time.Time
	WeeklyAmount decimal.Decimal
}

// PauseResult is returned by PauseCycle.
type PauseResult struct {
	Cycle         *investment.Cycle
	TimersRemoved int
}

// ResumeResult is returned by ResumeCycle. Overdue entries stay pending and are not fired.
type ResumeResult struct {
	Cycle   *investment.Cycle
	Rearmed []*investment.ScheduleEntry
	Overdue []*investment.ScheduleEntry
}

// ScheduleEdit holds the optional fields of an EditSchedule call. Empty means unchanged.
type ScheduleEdit struct {
	Amount string
	Date   string // YYYY-MM-DD
	Time   string // HH:MM:SS or HH:MM
}

// EditResult is returned by EditSchedule.
type EditResult struct {
	Entry      *investment.ScheduleEntry
	CycleTotal decimal.Decimal
	Rearmed    bool
	FireAt     time.Time
}

// ScheduleDetail is an entry with its execution history.
type ScheduleDetail struct {
	Entry      *investment.ScheduleEntry
	Executions []*investment.ExecutionRecord
}

// OverdueEntry is a pending entry whose time has passed without it being fired.
type OverdueEntry struct {
	Cycle *investment.Cycle
	Entry *investment.ScheduleEntry
	DueAt time.Time
}

// CycleService is the cycle controller: it keeps the schedule store and the timer
// registry consistent across create, pause, resume and edit.
type CycleService struct {
	repo     investment.Repository
	broker   broker.Broker
	resolver broker.SecurityResolver
	timers   Timers
	locks    *CycleLocks
	settings Settings
	logger   *logrus.Entry
}

func NewCycleService(
	repo investment.Repository,
	b broker.Broker,
	resolver broker.SecurityResolver,
	timers Timers,
	locks *CycleLocks,
	settings Settings,
	logger *logrus.Entry,
) *CycleService {
	return &CycleService{
		repo:     repo,
		broker:   b,
		resolver: resolver,
		timers:   timers,
		locks:    locks,
		settings: settings.withDefaults(),
		logger:   logger.WithField("component", "cycle_controller"),
	}
}

// CreateCycle splits total into five weekly tranches starting at start, persists the
// cycle with its entries and arms one timer per entry.
func (s *CycleService) CreateCycle(ctx context.Context, symbol string, total decimal.Decimal, start time.Time) (*CreateCycleResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", investment.ErrValidation)
	}
	if err := investment.ValidateAmount(total); err != nil {
		return nil, err
	}
	start = start.In(s.settings.Location)
	if start.Before(s.settings.now()) {
		return nil, fmt.Errorf("%w: start %s is in the past", investment.ErrValidation, start.Format(time.RFC3339))
	}

	callCtx, cancel := s.settings.callContext(ctx)
	balance, err := s.broker.GetWithdrawableBalance(callCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: withdrawable balance: %v", investment.ErrDataUnavailable, err)
	}
	if total.GreaterThan(balance) {
		return nil, fmt.Errorf("%w: requested %s, withdrawable %s", investment.ErrFundsInsufficient, total.StringFixed(2), balance.StringFixed(2))
	}

	callCtx, cancel = s.settings.callContext(ctx)
	security, err := s.resolver.ResolveSecurity(callCtx, symbol)
	cancel()
	if err != nil {
		if errors.Is(err, broker.ErrSecurityNotFound) {
			return nil, fmt.Errorf("%w: %s", investment.ErrSecurityNotFound, symbol)
		}
		return nil, fmt.Errorf("%w: resolving %s: %v", investment.ErrDataUnavailable, symbol, err)
	}

	entries, err := investment.PlanEntries(total, start)
	if err != nil {
		return nil, err
	}
	cycle := &investment.Cycle{
		Symbol:      symbol,
		SecurityID:  security.ID,
		DisplayName: security.DisplayName,
		TotalAmount: total,
		StartDate:   investment.CivilDate(start),
		Status:      investment.CycleStatusActive,
	}
	if err := s.repo.CreateCycle(ctx, cycle, entries); err != nil {
		return nil, fmt.Errorf("failed to create cycle for %s: %w", symbol, err)
	}

	unlock := s.locks.Lock(cycle.ID)
	defer unlock()

	// a pause may have slipped in between commit and lock
	current, err := s.repo.GetCycleByID(ctx, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload cycle %d: %w", cycle.ID, err)
	}
	result := &CreateCycleResult{
		Cycle:        current,
		Entries:      entries,
		WeeklyAmount: entries[0].Amount,
	}
	for _, e := range entries {
		at := e.ExecuteAt(s.settings.Location)
		result.ScheduledAt = append(result.ScheduledAt, at)
		if current.IsActive() {
			s.timers.Arm(e.TimerKey(), at, investment.NewTradeJob(current, e))
		}
	}

	s.logger.WithFields(logrus.Fields{
		"cycle_id":    cycle.ID,
		"symbol":      symbol,
		"security_id": security.ID,
		"total":       total.StringFixed(2),
		"start":       start.Format(time.RFC3339),
	}).Info("Investment cycle created")
	return result, nil
}

// PauseCycle marks an active cycle paused and disarms its timers.
func (s *CycleService) PauseCycle(ctx context.Context, cycleID int64) (*PauseResult, error) {
	unlock := s.locks.Lock(cycleID)
	defer unlock()

	cycle, err := s.repo.GetCycleByID(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle %d: %w", cycleID, err)
	}
	switch cycle.Status {
	case investment.CycleStatusPaused:
		return nil, fmt.Errorf("cycle %d: %w", cycleID, investment.ErrAlreadyPaused)
	case investment.CycleStatusCompleted:
		return nil, fmt.Errorf("cycle %d: %w", cycleID, investment.ErrCycleCompleted)
	}

	if err := s.repo.UpdateCycleStatus(ctx, cycleID, investment.CycleStatusPaused); err != nil {
		return nil, fmt.Errorf("failed to pause cycle %d: %w", cycleID, err)
	}
	cycle.Status = investment.CycleStatusPaused
	removed := s.timers.DisarmCycle(cycleID)

	s.logger.WithFields(logrus.Fields{
		"cycle_id":       cycleID,
		"timers_removed": removed,
	}).Info("Investment cycle paused")
	return &PauseResult{Cycle: cycle, TimersRemoved: removed}, nil
}

// ResumeCycle reactivates a paused cycle and re-arms its future pending entries.
// Pending entries whose time passed while paused are returned as overdue and left alone.
func (s *CycleService) ResumeCycle(ctx context.Context, cycleID int64) (*ResumeResult, error) {
	unlock := s.locks.Lock(cycleID)
	defer unlock()

	cycle, err := s.repo.GetCycleByID(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle %d: %w", cycleID, err)
	}
	if cycle.Status != investment.CycleStatusPaused {
		return nil, fmt.Errorf("cycle %d is %s: %w", cycleID, cycle.Status, investment.ErrNotPaused)
	}
	entries, err := s.repo.ListSchedulesByCycle(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules of cycle %d: %w", cycleID, err)
	}

	if err := s.repo.UpdateCycleStatus(ctx, cycleID, investment.CycleStatusActive); err != nil {
		return nil, fmt.Errorf("failed to resume cycle %d: %w", cycleID, err)
	}
	cycle.Status = investment.CycleStatusActive

	result := &ResumeResult{Cycle: cycle}
	now := s.settings.now()
	for _, e := range entries {
		if e.Status != investment.ScheduleStatusPending {
			continue
		}
		at := e.ExecuteAt(s.settings.Location)
		if !at.After(now) {
			result.Overdue = append(result.Overdue, e)
			continue
		}
		s.timers.Arm(e.TimerKey(), at, investment.NewTradeJob(cycle, e))
		result.Rearmed = append(result.Rearmed, e)
	}

	log := s.logger.WithFields(logrus.Fields{
		"cycle_id": cycleID,
		"rearmed":  len(result.Rearmed),
		"overdue":  len(result.Overdue),
	})
	if len(result.Overdue) > 0 {
		log.Warn("Investment cycle resumed with overdue schedules left pending")
	} else {
		log.Info("Investment cycle resumed")
	}
	return result, nil
}

// EditSchedule changes the amount, date or time of an entry, recomputes the cycle
// total and replaces the entry's timer.
func (s *CycleService) EditSchedule(ctx context.Context, scheduleID int64, edit ScheduleEdit) (*EditResult, error) {
	if edit.Amount == "" && edit.Date == "" && edit.Time == "" {
		return nil, fmt.Errorf("%w: nothing to edit", investment.ErrValidation)
	}
	var (
		amount   decimal.Decimal
		date     time.Time
		clock    investment.ClockTime
		err      error
		hasClock bool
	)
	if edit.Amount != "" {
		amount, err = decimal.NewFromString(edit.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid amount %q", investment.ErrValidation, edit.Amount)
		}
		if err := investment.ValidateAmount(amount); err != nil {
			return nil, err
		}
	}
	if edit.Date != "" {
		if date, err = investment.ParseDate(edit.Date); err != nil {
			return nil, err
		}
	}
	if edit.Time != "" {
		if clock, err = investment.ParseClockTime(edit.Time); err != nil {
			return nil, err
		}
		hasClock = true
	}

	located, err := s.repo.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %d: %w", scheduleID, err)
	}
	unlock := s.locks.Lock(located.CycleID)
	defer unlock()

	entry, err := s.repo.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %d: %w", scheduleID, err)
	}
	cycle, err := s.repo.GetCycleByID(ctx, entry.CycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle %d: %w", entry.CycleID, err)
	}

	updated := *entry
	if edit.Amount != "" {
		updated.Amount = amount
	}
	if edit.Date != "" {
		updated.ExecutionDate = date
	}
	if hasClock {
		updated.ExecutionTime = clock
	}

	total, err := s.repo.UpdateSchedule(ctx, &updated)
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule %d: %w", scheduleID, err)
	}

	result := &EditResult{Entry: &updated, CycleTotal: total}
	key := updated.TimerKey()
	s.timers.Disarm(key)
	at := updated.ExecuteAt(s.settings.Location)
	if updated.Status.Executable() && at.After(s.settings.now()) && cycle.IsActive() {
		s.timers.Arm(key, at, investment.NewTradeJob(cycle, &updated))
		result.Rearmed = true
		result.FireAt = at
	}

	s.logger.WithFields(logrus.Fields{
		"schedule_id": scheduleID,
		"cycle_id":    cycle.ID,
		"amount":      updated.Amount.StringFixed(2),
		"execute_at":  at.Format(time.RFC3339),
		"cycle_total": total.StringFixed(2),
		"rearmed":     result.Rearmed,
	}).Info("Schedule edited")
	return result, nil
}

// GetCycle returns a cycle with its entries ordered by week.
func (s *CycleService) GetCycle(ctx context.Context, cycleID int64) (*investment.CycleDetail, error) {
	cycle, err := s.repo.GetCycleByID(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle %d: %w", cycleID, err)
	}
	entries, err := s.repo.ListSchedulesByCycle(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules of cycle %d: %w", cycleID, err)
	}
	return &investment.CycleDetail{Cycle: cycle, Entries: entries}, nil
}

func (s *CycleService) ListCycles(ctx context.Context) ([]*investment.Cycle, error) {
	cycles, err := s.repo.ListCycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	return cycles, nil
}

// GetSchedule returns an entry with its execution records.
func (s *CycleService) GetSchedule(ctx context.Context, scheduleID int64) (*ScheduleDetail, error) {
	entry, err := s.repo.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %d: %w", scheduleID, err)
	}
	records, err := s.repo.ListExecutions(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of schedule %d: %w", scheduleID, err)
	}
	return &ScheduleDetail{Entry: entry, Executions: records}, nil
}

// ListOverdue returns pending entries of active or paused cycles whose time has passed.
func (s *CycleService) ListOverdue(ctx context.Context) ([]OverdueEntry, error) {
	pending, err := s.repo.ListPendingSchedules(ctx, investment.CycleStatusActive, investment.CycleStatusPaused)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending schedules: %w", err)
	}
	now := s.settings.now()
	cycles := make(map[int64]*investment.Cycle)
	var out []OverdueEntry
	for _, e := range pending {
		at := e.ExecuteAt(s.settings.Location)
		if at.After(now) {
			continue
		}
		cycle, ok := cycles[e.CycleID]
		if !ok {
			cycle, err = s.repo.GetCycleByID(ctx, e.CycleID)
			if err != nil {
				return nil, fmt.Errorf("failed to load cycle %d: %w", e.CycleID, err)
			}
			cycles[e.CycleID] = cycle
		}
		out = append(out, OverdueEntry{Cycle: cycle, Entry: e, DueAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}
