// internal/app/execution_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tranche_investor/internal/domain/broker"
	"tranche_investor/internal/domain/investment"
	"tranche_investor/internal/domain/notification"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ExecutionOutcome describes what a single ExecuteTrade call did.
type ExecutionOutcome struct {
	ScheduleID     int64
	Status         investment.ScheduleStatus // entry status after the call
	Attempted      bool                      // false when the entry was skipped without an attempt
	Record         *investment.ExecutionRecord
	CycleCompleted bool
}

// ExecutionService performs trade attempts for schedule entries.
type ExecutionService struct {
	repo     investment.Repository
	broker   broker.Broker
	notifier notification.Notifier
	locks    *CycleLocks
	settings Settings
	logger   *logrus.Entry
}

func NewExecutionService(
	repo investment.Repository,
	b broker.Broker,
	notifier notification.Notifier,
	locks *CycleLocks,
	settings Settings,
	logger *logrus.Entry,
) *ExecutionService {
	return &ExecutionService{
		repo:     repo,
		broker:   b,
		notifier: notifier,
		locks:    locks,
		settings: settings.withDefaults(),
		logger:   logger.WithField("component", "execution_engine"),
	}
}

// HandleTimer is the timer registry callback. A timer that fires on any day other
// than its target date is ignored.
func (s *ExecutionService) HandleTimer(ctx context.Context, job investment.TradeJob) {
	log := s.logger.WithFields(logrus.Fields{
		"tag":         investment.TimerKey{CycleID: job.CycleID, WeekIndex: job.WeekIndex}.String(),
		"schedule_id": job.ScheduleID,
		"target_date": job.TargetDate,
	})

	today := s.settings.now().Format(investment.DateLayout)
	if today != job.TargetDate {
		log.WithField("today", today).Info("Timer fired outside its target date; ignoring")
		return
	}

	outcome, err := s.ExecuteTrade(ctx, job)
	if err != nil {
		log.WithError(err).Error("Trade execution failed")
		return
	}
	log.WithFields(logrus.Fields{
		"status":    outcome.Status,
		"attempted": outcome.Attempted,
	}).Info("Trade execution finished")
}

// RerunSchedule attempts a pending or failed entry immediately, without the target date check.
// Entries of a cycle that is not active are rejected and keep their status.
func (s *ExecutionService) RerunSchedule(ctx context.Context, scheduleID int64) (*ExecutionOutcome, error) {
	entry, err := s.repo.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %d: %w", scheduleID, err)
	}
	if !entry.Status.Executable() {
		return nil, fmt.Errorf("schedule %d is %s: %w", scheduleID, entry.Status, investment.ErrNotExecutable)
	}
	cycle, err := s.repo.GetCycleByID(ctx, entry.CycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle %d: %w", entry.CycleID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"schedule_id": scheduleID,
		"cycle_id":    cycle.ID,
	}).Info("Operator re-run requested")
	return s.execute(ctx, investment.NewTradeJob(cycle, entry), true)
}

// ExecuteTrade makes one attempt for the entry referenced by job. Stored entry and
// cycle fields are authoritative; the payload only locates them.
// Attempt failures are recorded and reported in the outcome, not returned as errors.
func (s *ExecutionService) ExecuteTrade(ctx context.Context, job investment.TradeJob) (*ExecutionOutcome, error) {
	return s.execute(ctx, job, false)
}

// execute runs one attempt under the cycle lock. A timer fire on a non-active cycle
// skips the entry; an operator re-run is rejected instead.
func (s *ExecutionService) execute(ctx context.Context, job investment.TradeJob, rerun bool) (*ExecutionOutcome, error) {
	unlock := s.locks.Lock(job.CycleID)
	defer unlock()

	entry, err := s.repo.GetScheduleByID(ctx, job.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %d: %w", job.ScheduleID, err)
	}
	log := s.logger.WithFields(logrus.Fields{
		"schedule_id": entry.ID,
		"cycle_id":    entry.CycleID,
		"week":        entry.WeekNumber,
	})

	if !entry.Status.Executable() {
		log.WithField("status", entry.Status).Info("Schedule no longer executable; skipping")
		return &ExecutionOutcome{ScheduleID: entry.ID, Status: entry.Status}, nil
	}

	cycle, err := s.repo.GetCycleByID(ctx, entry.CycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle %d: %w", entry.CycleID, err)
	}
	if !cycle.IsActive() && rerun {
		return nil, fmt.Errorf("cycle %d is %s: %w", cycle.ID, cycle.Status, investment.ErrCycleNotActive)
	}
	if !cycle.IsActive() {
		err := s.repo.TransitionSchedule(ctx, entry.ID, investment.ScheduleStatusSkipped, investment.ExecutableStatuses...)
		if errors.Is(err, investment.ErrNotExecutable) {
			return &ExecutionOutcome{ScheduleID: entry.ID, Status: entry.Status}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to skip schedule %d: %w", entry.ID, err)
		}
		log.WithField("cycle_status", cycle.Status).Info("Cycle is not active; schedule skipped")
		return &ExecutionOutcome{ScheduleID: entry.ID, Status: investment.ScheduleStatusSkipped}, nil
	}

	if !job.Amount.IsZero() && !job.Amount.Equal(entry.Amount) {
		log.WithFields(logrus.Fields{
			"armed_amount":  job.Amount.String(),
			"stored_amount": entry.Amount.String(),
		}).Warn("Armed amount differs from stored amount; using stored amount")
	}

	record := &investment.ExecutionRecord{
		ScheduleID:    entry.ID,
		ExecutedAt:    s.settings.Now(),
		Amount:        entry.Amount,
		CorrelationID: uuid.NewString(),
	}

	balance, err := s.withdrawableBalance(ctx)
	if err != nil {
		return s.fail(ctx, log, cycle, entry, record, investment.ReasonDataUnavailable, err.Error())
	}
	ltp, err := s.quote(ctx, cycle.SecurityID)
	if err != nil {
		return s.fail(ctx, log, cycle, entry, record, investment.ReasonDataUnavailable, err.Error())
	}
	record.LTP = ltp

	quantity := entry.Amount.Div(ltp).Floor().IntPart()
	if quantity <= 0 {
		msg := fmt.Sprintf("amount %s is below the unit price %s", entry.Amount.StringFixed(2), ltp.String())
		return s.fail(ctx, log, cycle, entry, record, investment.ReasonAmountBelowUnitPrice, msg)
	}
	if entry.Amount.GreaterThan(balance) {
		msg := fmt.Sprintf("amount %s exceeds withdrawable balance %s", entry.Amount.StringFixed(2), balance.StringFixed(2))
		return s.fail(ctx, log, cycle, entry, record, investment.ReasonFundsInsufficient, msg)
	}

	callCtx, cancel := s.settings.callContext(ctx)
	result, err := s.broker.PlaceMarketBuy(callCtx, broker.MarketOrder{
		SecurityID:    cycle.SecurityID,
		Quantity:      quantity,
		CorrelationID: record.CorrelationID,
	})
	cancel()
	if err != nil {
		return s.fail(ctx, log, cycle, entry, record, investment.ReasonBrokerError, err.Error())
	}

	record.Status = investment.ExecutionStatusSuccess
	record.Quantity = quantity
	record.OrderID = result.OrderID
	entry.Status = investment.ScheduleStatusExecuted
	entry.Quantity = quantity

	completed, err := s.repo.RecordExecution(ctx, entry, record)
	if err != nil {
		log.WithError(err).WithField("order_id", result.OrderID).Error("Order placed but outcome could not be recorded")
		return nil, fmt.Errorf("failed to record execution of schedule %d: %w", entry.ID, err)
	}

	log.WithFields(logrus.Fields{
		"order_id": result.OrderID,
		"quantity": quantity,
		"ltp":      ltp.String(),
	}).Info("Order placed")
	if completed {
		log.Info("All weeks executed; cycle completed")
	}

	s.notifier.NotifyTradeOutcome(ctx, s.event(cycle, entry, record, notification.OutcomeSuccess, completed))
	return &ExecutionOutcome{
		ScheduleID:     entry.ID,
		Status:         entry.Status,
		Attempted:      true,
		Record:         record,
		CycleCompleted: completed,
	}, nil
}

func (s *ExecutionService) fail(
	ctx context.Context,
	log *logrus.Entry,
	cycle *investment.Cycle,
	entry *investment.ScheduleEntry,
	record *investment.ExecutionRecord,
	reason investment.FailureReason,
	message string,
) (*ExecutionOutcome, error) {
	previous := entry.Status
	record.Status = investment.ExecutionStatusFailed
	record.Reason = reason
	record.ErrorMessage = sql.NullString{String: message, Valid: true}
	entry.Status = investment.ScheduleStatusFailed

	if _, err := s.repo.RecordExecution(ctx, entry, record); err != nil {
		entry.Status = previous
		return nil, fmt.Errorf("failed to record failed attempt of schedule %d: %w", entry.ID, err)
	}

	log.WithFields(logrus.Fields{
		"reason": reason,
		"error":  message,
	}).Warn("Trade attempt failed")

	s.notifier.NotifyTradeOutcome(ctx, s.event(cycle, entry, record, notification.OutcomeError, false))
	return &ExecutionOutcome{
		ScheduleID: entry.ID,
		Status:     entry.Status,
		Attempted:  true,
		Record:     record,
	}, nil
}

func (s *ExecutionService) withdrawableBalance(ctx context.Context) (decimal.Decimal, error) {
	callCtx, cancel := s.settings.callContext(ctx)
	defer cancel()
	balance, err := s.broker.GetWithdrawableBalance(callCtx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: withdrawable balance: %v", investment.ErrDataUnavailable, err)
	}
	return balance, nil
}

func (s *ExecutionService) quote(ctx context.Context, securityID string) (decimal.Decimal, error) {
	callCtx, cancel := s.settings.callContext(ctx)
	defer cancel()
	ltp, err := s.broker.GetQuote(callCtx, securityID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: last traded price of %s: %v", investment.ErrDataUnavailable, securityID, err)
	}
	if !ltp.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive last traded price %s for %s", investment.ErrDataUnavailable, ltp.String(), securityID)
	}
	return ltp, nil
}

func (s *ExecutionService) event(
	cycle *investment.Cycle,
	entry *investment.ScheduleEntry,
	record *investment.ExecutionRecord,
	status notification.OutcomeStatus,
	completed bool,
) notification.TradeEvent {
	return notification.TradeEvent{
		Type:        notification.EventTradeUpdate,
		Status:      status,
		CycleID:     cycle.ID,
		ScheduleID:  entry.ID,
		WeekNumber:  entry.WeekNumber,
		Symbol:      cycle.Symbol,
		DisplayName: cycle.DisplayName,
		SecurityID:  cycle.SecurityID,
		OrderID:     record.OrderID,
		Quantity:    record.Quantity,
		Amount:      record.Amount,
		LTP:         record.LTP,
		Reason:      string(record.Reason),
		Message:     record.ErrorMessage.String,
		CycleDone:   completed,
		At:          record.ExecutedAt,
	}
}
