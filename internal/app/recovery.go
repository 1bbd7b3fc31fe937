// internal/app/recovery.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tranche_investor/internal/domain/investment"

	"github.com/sirupsen/logrus"
)

// RecoveryReport summarises one recovery run.
type RecoveryReport struct {
	Armed     int
	Expired   int
	Anomalies []string
}

// RecoveryLoader rebuilds the timer registry from the schedule store at startup.
type RecoveryLoader struct {
	repo     investment.Repository
	timers   Timers
	locks    *CycleLocks
	settings Settings
	logger   *logrus.Entry
}

func NewRecoveryLoader(repo investment.Repository, timers Timers, locks *CycleLocks, settings Settings, logger *logrus.Entry) *RecoveryLoader {
	return &RecoveryLoader{
		repo:     repo,
		timers:   timers,
		locks:    locks,
		settings: settings.withDefaults(),
		logger:   logger.WithField("component", "recovery_loader"),
	}
}

// Recover expires every pending entry of an active cycle whose time has passed and
// arms a timer for every one still in the future. Every active cycle's week set is
// checked, including cycles with nothing pending. It must run before the timer
// driver starts. Per-entry failures are logged and do not stop the run.
func (r *RecoveryLoader) Recover(ctx context.Context) (*RecoveryReport, error) {
	pending, err := r.repo.ListPendingSchedules(ctx, investment.CycleStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending schedules: %w", err)
	}

	byCycle := make(map[int64][]*investment.ScheduleEntry)
	var order []int64
	for _, e := range pending {
		if _, ok := byCycle[e.CycleID]; !ok {
			order = append(order, e.CycleID)
		}
		byCycle[e.CycleID] = append(byCycle[e.CycleID], e)
	}

	report := &RecoveryReport{}
	now := r.settings.now()
	for _, cycleID := range order {
		r.recoverCycle(ctx, cycleID, byCycle[cycleID], now, report)
	}
	r.checkSettledCycles(ctx, byCycle, report)

	r.logger.WithFields(logrus.Fields{
		"cycles":    len(order),
		"armed":     report.Armed,
		"expired":   report.Expired,
		"anomalies": len(report.Anomalies),
	}).Info("Recovery complete")
	return report, nil
}

func (r *RecoveryLoader) recoverCycle(ctx context.Context, cycleID int64, pending []*investment.ScheduleEntry, now time.Time, report *RecoveryReport) {
	unlock := r.locks.Lock(cycleID)
	defer unlock()

	log := r.logger.WithField("cycle_id", cycleID)
	cycle, err := r.repo.GetCycleByID(ctx, cycleID)
	if err != nil {
		log.WithError(err).Error("Failed to load cycle during recovery")
		report.Anomalies = append(report.Anomalies, fmt.Sprintf("cycle %d: %v", cycleID, err))
		return
	}

	r.checkWeeks(ctx, cycleID, log, report)

	for _, e := range pending {
		at := e.ExecuteAt(r.settings.Location)
		entryLog := log.WithFields(logrus.Fields{
			"schedule_id": e.ID,
			"week":        e.WeekNumber,
			"execute_at":  at.Format(time.RFC3339),
		})
		if at.After(now) {
			r.timers.Arm(e.TimerKey(), at, investment.NewTradeJob(cycle, e))
			report.Armed++
			continue
		}
		err := r.repo.TransitionSchedule(ctx, e.ID, investment.ScheduleStatusExpired, investment.ScheduleStatusPending)
		switch {
		case errors.Is(err, investment.ErrNotExecutable):
			entryLog.Info("Schedule changed state before it could be expired")
		case err != nil:
			entryLog.WithError(err).Error("Failed to expire schedule")
			report.Anomalies = append(report.Anomalies, fmt.Sprintf("schedule %d: %v", e.ID, err))
		default:
			entryLog.Info("Schedule expired during recovery")
			report.Expired++
		}
	}
}

// checkSettledCycles validates the week set of active cycles that had nothing pending.
func (r *RecoveryLoader) checkSettledCycles(ctx context.Context, seen map[int64][]*investment.ScheduleEntry, report *RecoveryReport) {
	cycles, err := r.repo.ListCycles(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list cycles during recovery")
		report.Anomalies = append(report.Anomalies, fmt.Sprintf("cycle scan: %v", err))
		return
	}
	for _, c := range cycles {
		if _, ok := seen[c.ID]; ok || !c.IsActive() {
			continue
		}
		unlock := r.locks.Lock(c.ID)
		r.checkWeeks(ctx, c.ID, r.logger.WithField("cycle_id", c.ID), report)
		unlock()
	}
}

func (r *RecoveryLoader) checkWeeks(ctx context.Context, cycleID int64, log *logrus.Entry, report *RecoveryReport) {
	all, err := r.repo.ListSchedulesByCycle(ctx, cycleID)
	if err != nil {
		log.WithError(err).Error("Failed to list schedules during recovery")
		return
	}
	if !investment.CheckWeeks(all) {
		msg := fmt.Sprintf("cycle %d has %d schedules, expected weeks 1..%d", cycleID, len(all), investment.WeeksPerCycle)
		log.Warn(msg)
		report.Anomalies = append(report.Anomalies, msg)
	}
}
