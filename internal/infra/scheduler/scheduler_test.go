package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"tranche_investor/internal/app"
	"tranche_investor/internal/domain/investment"
	domainTelegram "tranche_investor/internal/domain/telegram"
	"tranche_investor/internal/infra/timers"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type stubLister struct {
	entries []app.OverdueEntry
	err     error
}

func (s *stubLister) ListOverdue(context.Context) ([]app.OverdueEntry, error) {
	return s.entries, s.err
}

type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	args := m.Called(recipientChatID, text, options)
	return args.Error(0)
}

func overdueFixture() []app.OverdueEntry {
	cycle := &investment.Cycle{ID: 7, Symbol: "NIFTYBEES", Status: investment.CycleStatusPaused}
	entry := &investment.ScheduleEntry{
		ID:            31,
		CycleID:       7,
		WeekNumber:    2,
		ExecutionDate: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		ExecutionTime: investment.ClockTime{Hour: 15},
		Amount:        decimal.NewFromInt(1000),
	}
	return []app.OverdueEntry{{Cycle: cycle, Entry: entry, DueAt: entry.ExecuteAt(ist)}}
}

func newTestScheduler(lister OverdueLister, messenger *MockMessenger) *InvestmentScheduler {
	registry := timers.NewRegistry(time.Now, testLogger())
	var client domainTelegram.Client
	if messenger != nil {
		client = messenger
	}
	return NewInvestmentScheduler(registry, lister, client, 42, testLogger(), ist, 10*time.Millisecond, "0 18 * * *", "0 * * * *")
}

func TestFormatOverdue(t *testing.T) {
	text := FormatOverdue(overdueFixture(), ist)

	assert.Contains(t, text, "1 overdue schedule(s)")
	assert.Contains(t, text, "#31 NIFTYBEES week 2, ₹1000.00 due 2024-01-08 15:00 (cycle 7, paused)")
	assert.Contains(t, text, "/rerun")
}

func TestReportOverdue_SendsToAdmin(t *testing.T) {
	messenger := new(MockMessenger)
	messenger.On("SendMessage", int64(42), mock.MatchedBy(func(text string) bool {
		return len(text) > 0
	}), (*telebot.SendOptions)(nil)).Return(nil).Once()

	s := newTestScheduler(&stubLister{entries: overdueFixture()}, messenger)
	require.NoError(t, s.ReportOverdue(context.Background()))
	messenger.AssertExpectations(t)
}

func TestReportOverdue_NothingOverdue(t *testing.T) {
	messenger := new(MockMessenger)
	s := newTestScheduler(&stubLister{}, messenger)

	require.NoError(t, s.ReportOverdue(context.Background()))
	messenger.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestReportOverdue_Errors(t *testing.T) {
	s := newTestScheduler(&stubLister{err: errors.New("db down")}, new(MockMessenger))
	assert.Error(t, s.ReportOverdue(context.Background()))

	messenger := new(MockMessenger)
	messenger.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("blocked"))
	s = newTestScheduler(&stubLister{entries: overdueFixture()}, messenger)
	assert.Error(t, s.ReportOverdue(context.Background()))
}

func TestReportOverdue_WithoutMessenger(t *testing.T) {
	s := newTestScheduler(&stubLister{entries: overdueFixture()}, nil)
	assert.NoError(t, s.ReportOverdue(context.Background()))
}

func TestStartStop_DrivesRegistry(t *testing.T) {
	s := newTestScheduler(&stubLister{}, nil)

	fired := make(chan investment.TradeJob, 1)
	s.registry.OnFire(func(_ context.Context, job investment.TradeJob) {
		fired <- job
	})
	s.registry.Arm(investment.TimerKey{CycleID: 1, WeekIndex: 0}, time.Now().Add(-time.Second), investment.TradeJob{ScheduleID: 5})

	require.NoError(t, s.Start())
	select {
	case job := <-fired:
		assert.Equal(t, int64(5), job.ScheduleID)
	case <-time.After(2 * time.Second):
		t.Fatal("timer was not fired by the driver")
	}
	s.AuditTimers()
	s.Stop()
	assert.Zero(t, s.registry.Len())
}

func TestStart_InvalidCronSpec(t *testing.T) {
	registry := timers.NewRegistry(time.Now, testLogger())
	s := NewInvestmentScheduler(registry, &stubLister{}, nil, 0, testLogger(), ist, time.Second, "every tuesday", "0 * * * *")
	assert.Error(t, s.Start())
}
