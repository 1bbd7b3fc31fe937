package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tranche_investor/internal/app"
	domainTelegram "tranche_investor/internal/domain/telegram"
	"tranche_investor/internal/infra/timers"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// OverdueLister is the cycle controller read used by the overdue report.
type OverdueLister interface {
	ListOverdue(ctx context.Context) ([]app.OverdueEntry, error)
}

// InvestmentScheduler drives the timer registry and runs the housekeeping cron jobs.
type InvestmentScheduler struct {
	cronEngine         *cron.Cron
	registry           *timers.Registry
	overdue            OverdueLister
	messenger          domainTelegram.Client // nil disables the overdue report message
	adminID            int64
	logger             *logrus.Entry
	location           *time.Location
	pollInterval       time.Duration
	cronSpecOverdue    string
	cronSpecTimerAudit string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewInvestmentScheduler(
	registry *timers.Registry,
	overdue OverdueLister,
	messenger domainTelegram.Client,
	adminID int64,
	logger *logrus.Entry,
	location *time.Location,
	pollInterval time.Duration,
	cronSpecOverdue string, // e.g., "0 18 * * *" (6 PM daily)
	cronSpecTimerAudit string, // e.g., "0 * * * *" (hourly)
) *InvestmentScheduler {
	return &InvestmentScheduler{
		cronEngine:         cron.New(cron.WithLocation(location)),
		registry:           registry,
		overdue:            overdue,
		messenger:          messenger,
		adminID:            adminID,
		logger:             logger.WithField("component", "scheduler"),
		location:           location,
		pollInterval:       pollInterval,
		cronSpecOverdue:    cronSpecOverdue,
		cronSpecTimerAudit: cronSpecTimerAudit,
	}
}

// Start registers the cron jobs and starts the timer driver. Recovery must have run before.
func (s *InvestmentScheduler) Start() error {
	s.logger.Info("Starting investment scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecOverdue, func() {
		s.logger.Info("Cron job triggered for overdue schedule report.")
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		if err := s.ReportOverdue(ctx); err != nil {
			s.logger.WithError(err).Error("Error during overdue schedule report")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add overdue report cron job: %w", err)
	}

	_, err = s.cronEngine.AddFunc(s.cronSpecTimerAudit, s.AuditTimers)
	if err != nil {
		return fmt.Errorf("could not add timer audit cron job: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.registry.Run(ctx, s.pollInterval)
	}()

	s.cronEngine.Start()
	s.logger.WithField("armed_timers", s.registry.Len()).Info("Investment scheduler started with jobs.")
	return nil
}

// ReportOverdue sends the admin the pending schedules whose time passed without firing.
func (s *InvestmentScheduler) ReportOverdue(ctx context.Context) error {
	overdue, err := s.overdue.ListOverdue(ctx)
	if err != nil {
		return fmt.Errorf("failed to list overdue schedules: %w", err)
	}
	if len(overdue) == 0 {
		s.logger.Info("No overdue schedules.")
		return nil
	}
	s.logger.WithField("count", len(overdue)).Warn("Overdue schedules found")
	if s.messenger == nil || s.adminID == 0 {
		return nil
	}
	if err := s.messenger.SendMessage(s.adminID, FormatOverdue(overdue, s.location), nil); err != nil {
		return fmt.Errorf("failed to send overdue report: %w", err)
	}
	return nil
}

// AuditTimers logs the armed timers.
func (s *InvestmentScheduler) AuditTimers() {
	snapshot := s.registry.Snapshot()
	fields := logrus.Fields{"armed_timers": len(snapshot)}
	if len(snapshot) > 0 {
		fields["next_tag"] = snapshot[0].Key.String()
		fields["next_fire_at"] = snapshot[0].FireAt.In(s.location).Format(time.RFC3339)
	}
	s.logger.WithFields(fields).Info("Timer audit")
	for _, t := range snapshot {
		s.logger.WithFields(logrus.Fields{
			"tag":         t.Key.String(),
			"schedule_id": t.Job.ScheduleID,
			"fire_at":     t.FireAt.In(s.location).Format(time.RFC3339),
		}).Debug("Armed timer")
	}
}

// FormatOverdue renders the overdue report message.
func FormatOverdue(overdue []app.OverdueEntry, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d overdue schedule(s) left pending:\n", len(overdue)))
	for _, o := range overdue {
		b.WriteString(fmt.Sprintf("- #%d %s week %d, ₹%s due %s (cycle %d, %s)\n",
			o.Entry.ID,
			o.Cycle.Symbol,
			o.Entry.WeekNumber,
			o.Entry.Amount.StringFixed(2),
			o.DueAt.In(loc).Format("2006-01-02 15:04"),
			o.Cycle.ID,
			o.Cycle.Status,
		))
	}
	b.WriteString("Use /edit to reschedule or /rerun to execute now.")
	return b.String()
}

func (s *InvestmentScheduler) Stop() {
	s.logger.Info("Stopping investment scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait() // the driver finishes any in-flight execution before returning
	s.logger.Info("Investment scheduler gracefully stopped.")
}
