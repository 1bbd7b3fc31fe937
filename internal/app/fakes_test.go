package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"tranche_investor/internal/domain/broker"
	"tranche_investor/internal/domain/investment"
	"tranche_investor/internal/domain/notification"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// memoryRepo is an in-memory investment.Repository. Set failOn to make the named
// method return an error without changing any state.
type memoryRepo struct {
	mu         sync.Mutex
	cycles     map[int64]*investment.Cycle
	schedules  map[int64]*investment.ScheduleEntry
	executions []*investment.ExecutionRecord
	nextID     int64
	failOn     map[string]error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		cycles:    make(map[int64]*investment.Cycle),
		schedules: make(map[int64]*investment.ScheduleEntry),
		failOn:    make(map[string]error),
	}
}

func (r *memoryRepo) fail(method string) error {
	if err, ok := r.failOn[method]; ok {
		return fmt.Errorf("%w: %v", investment.ErrPersistence, err)
	}
	return nil
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) CreateCycle(_ context.Context, cycle *investment.Cycle, entries []*investment.ScheduleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CreateCycle"); err != nil {
		return err
	}
	cycle.ID = r.id()
	c := *cycle
	r.cycles[c.ID] = &c
	for _, e := range entries {
		e.ID = r.id()
		e.CycleID = cycle.ID
		cp := *e
		r.schedules[cp.ID] = &cp
	}
	return nil
}

func (r *memoryRepo) GetCycleByID(_ context.Context, id int64) (*investment.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetCycleByID"); err != nil {
		return nil, err
	}
	c, ok := r.cycles[id]
	if !ok {
		return nil, investment.ErrCycleNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memoryRepo) ListCycles(_ context.Context) ([]*investment.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*investment.Cycle
	for _, c := range r.cycles {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListCyclesBySymbol(ctx context.Context, symbol string) ([]*investment.Cycle, error) {
	all, _ := r.ListCycles(ctx)
	var out []*investment.Cycle
	for _, c := range all {
		if c.Symbol == symbol {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) UpdateCycleStatus(_ context.Context, id int64, status investment.CycleStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpdateCycleStatus"); err != nil {
		return err
	}
	c, ok := r.cycles[id]
	if !ok {
		return investment.ErrCycleNotFound
	}
	c.Status = status
	return nil
}

func (r *memoryRepo) GetScheduleByID(_ context.Context, id int64) (*investment.ScheduleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.schedules[id]
	if !ok {
		return nil, investment.ErrScheduleNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memoryRepo) ListSchedulesByCycle(_ context.Context, cycleID int64) ([]*investment.ScheduleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*investment.ScheduleEntry
	for _, e := range r.schedules {
		if e.CycleID == cycleID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekNumber < out[j].WeekNumber })
	return out, nil
}

func (r *memoryRepo) ListPendingSchedules(_ context.Context, cycleStatuses ...investment.CycleStatus) ([]*investment.ScheduleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ListPendingSchedules"); err != nil {
		return nil, err
	}
	var out []*investment.ScheduleEntry
	for _, e := range r.schedules {
		if e.Status != investment.ScheduleStatusPending {
			continue
		}
		c := r.cycles[e.CycleID]
		for _, s := range cycleStatuses {
			if c.Status == s {
				cp := *e
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].ExecuteAt(time.UTC), out[j].ExecuteAt(time.UTC)
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryRepo) TransitionSchedule(_ context.Context, id int64, to investment.ScheduleStatus, from ...investment.ScheduleStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("TransitionSchedule"); err != nil {
		return err
	}
	e, ok := r.schedules[id]
	if !ok {
		return investment.ErrScheduleNotFound
	}
	for _, f := range from {
		if e.Status == f {
			e.Status = to
			return nil
		}
	}
	return fmt.Errorf("schedule %d is %s: %w", id, e.Status, investment.ErrNotExecutable)
}

func (r *memoryRepo) UpdateSchedule(_ context.Context, entry *investment.ScheduleEntry) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpdateSchedule"); err != nil {
		return decimal.Zero, err
	}
	e, ok := r.schedules[entry.ID]
	if !ok {
		return decimal.Zero, investment.ErrScheduleNotFound
	}
	e.Amount = entry.Amount
	e.ExecutionDate = entry.ExecutionDate
	e.ExecutionTime = entry.ExecutionTime

	total := decimal.Zero
	for _, s := range r.schedules {
		if s.CycleID == e.CycleID {
			total = total.Add(s.Amount)
		}
	}
	r.cycles[e.CycleID].TotalAmount = total
	return total, nil
}

func (r *memoryRepo) RecordExecution(_ context.Context, entry *investment.ScheduleEntry, record *investment.ExecutionRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("RecordExecution"); err != nil {
		return false, err
	}
	e, ok := r.schedules[entry.ID]
	if !ok {
		return false, investment.ErrScheduleNotFound
	}
	if !e.Status.Executable() {
		return false, fmt.Errorf("schedule %d is %s: %w", e.ID, e.Status, investment.ErrNotExecutable)
	}
	e.Status = entry.Status
	e.Quantity = entry.Quantity
	record.ID = r.id()
	cp := *record
	r.executions = append(r.executions, &cp)

	executed := 0
	for _, s := range r.schedules {
		if s.CycleID == e.CycleID && s.Status == investment.ScheduleStatusExecuted {
			executed++
		}
	}
	if executed == investment.WeeksPerCycle {
		r.cycles[e.CycleID].Status = investment.CycleStatusCompleted
		return true, nil
	}
	return false, nil
}

func (r *memoryRepo) ListExecutions(_ context.Context, scheduleID int64) ([]*investment.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*investment.ExecutionRecord
	for _, rec := range r.executions {
		if rec.ScheduleID == scheduleID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryRepo) executionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.executions)
}

// seedCycle stores a cycle with five entries starting at start and returns it.
func (r *memoryRepo) seedCycle(status investment.CycleStatus, total decimal.Decimal, start time.Time) (*investment.Cycle, []*investment.ScheduleEntry) {
	entries, err := investment.PlanEntries(total, start)
	if err != nil {
		panic(err)
	}
	c := &investment.Cycle{
		Symbol:      "NIFTYBEES",
		SecurityID:  "10576",
		DisplayName: "Nippon India ETF Nifty 50 BeES",
		TotalAmount: total,
		StartDate:   investment.CivilDate(start),
		Status:      status,
	}
	if err := r.CreateCycle(context.Background(), c, entries); err != nil {
		panic(err)
	}
	return c, entries
}

func (r *memoryRepo) setScheduleStatus(id int64, status investment.ScheduleStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[id].Status = status
}

// MockBroker is a testify mock of broker.Broker.
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) GetQuote(ctx context.Context, securityID string) (decimal.Decimal, error) {
	args := m.Called(ctx, securityID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockBroker) GetWithdrawableBalance(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockBroker) PlaceMarketBuy(ctx context.Context, order broker.MarketOrder) (broker.OrderResult, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(broker.OrderResult), args.Error(1)
}

func (m *MockBroker) GetHoldings(ctx context.Context) ([]broker.Holding, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.Holding), args.Error(1)
}

// MockResolver is a testify mock of broker.SecurityResolver.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) ResolveSecurity(ctx context.Context, symbol string) (broker.Security, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(broker.Security), args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.TradeEvent
}

func (n *recordingNotifier) NotifyTradeOutcome(_ context.Context, event notification.TradeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []notification.TradeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.TradeEvent(nil), n.events...)
}

// fakeTimers records armed timers keyed like the real registry.
type fakeTimers struct {
	mu    sync.Mutex
	armed map[investment.TimerKey]armedTimer
}

type armedTimer struct {
	FireAt time.Time
	Job    investment.TradeJob
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{armed: make(map[investment.TimerKey]armedTimer)}
}

func (f *fakeTimers) Arm(key investment.TimerKey, fireAt time.Time, job investment.TradeJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[key] = armedTimer{FireAt: fireAt, Job: job}
}

func (f *fakeTimers) Disarm(key investment.TimerKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[key]
	delete(f.armed, key)
	return ok
}

func (f *fakeTimers) DisarmCycle(cycleID int64) int {
	n := 0
	for w := 0; w < investment.WeeksPerCycle; w++ {
		if f.Disarm(investment.TimerKey{CycleID: cycleID, WeekIndex: w}) {
			n++
		}
	}
	return n
}

func (f *fakeTimers) snapshot() map[investment.TimerKey]armedTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[investment.TimerKey]armedTimer, len(f.armed))
	for k, v := range f.armed {
		out[k] = v
	}
	return out
}

func (f *fakeTimers) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.armed)
}
