package timers

import (
	"context"
	"io"
	"testing"
	"time"

	"tranche_investor/internal/domain/investment"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestRegistry(clock *fakeClock) *Registry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewRegistry(clock.Now, logrus.NewEntry(l))
}

func key(cycle int64, week int) investment.TimerKey {
	return investment.TimerKey{CycleID: cycle, WeekIndex: week}
}

func TestRegistry_ArmSupersedesSameKey(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	r := newTestRegistry(clock)

	r.Arm(key(1, 0), clock.t.Add(time.Hour), investment.TradeJob{ScheduleID: 10})
	r.Arm(key(1, 0), clock.t.Add(2*time.Hour), investment.TradeJob{ScheduleID: 11})

	require.Equal(t, 1, r.Len())
	timer, ok := r.Get(key(1, 0))
	require.True(t, ok)
	assert.Equal(t, int64(11), timer.Job.ScheduleID)
	assert.Equal(t, clock.t.Add(2*time.Hour), timer.FireAt)
}

func TestRegistry_DisarmIsIdempotent(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(clock)
	r.Arm(key(1, 0), clock.t.Add(time.Hour), investment.TradeJob{})

	assert.True(t, r.Disarm(key(1, 0)))
	assert.False(t, r.Disarm(key(1, 0)))
	assert.False(t, r.Disarm(key(99, 3)))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DisarmCycle(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(clock)
	for w := 2; w < investment.WeeksPerCycle; w++ {
		r.Arm(key(7, w), clock.t.Add(time.Duration(w)*time.Hour), investment.TradeJob{})
	}
	r.Arm(key(8, 0), clock.t.Add(time.Hour), investment.TradeJob{})

	assert.Equal(t, 3, r.DisarmCycle(7))
	assert.Equal(t, 0, r.DisarmCycle(7))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_FireDueOrderAndRemoval(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)}
	r := newTestRegistry(clock)

	var fired []int64
	r.OnFire(func(ctx context.Context, job investment.TradeJob) {
		// the timer is already gone while its callback runs
		_, still := r.Get(key(job.CycleID, job.WeekIndex))
		assert.False(t, still)
		fired = append(fired, job.ScheduleID)
	})

	r.Arm(key(2, 0), clock.t, investment.TradeJob{ScheduleID: 2, CycleID: 2})
	r.Arm(key(1, 0), clock.t.Add(-time.Minute), investment.TradeJob{ScheduleID: 1, CycleID: 1})
	r.Arm(key(3, 0), clock.t, investment.TradeJob{ScheduleID: 3, CycleID: 3})
	r.Arm(key(4, 0), clock.t.Add(time.Second), investment.TradeJob{ScheduleID: 4, CycleID: 4})

	n := r.FireDue(context.Background())
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, fired)
	assert.Equal(t, 1, r.Len())

	assert.Equal(t, 0, r.FireDue(context.Background()))

	clock.t = clock.t.Add(time.Second)
	assert.Equal(t, 1, r.FireDue(context.Background()))
	assert.Equal(t, []int64{1, 2, 3, 4}, fired)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_FireDueRecoversPanics(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(clock)

	calls := 0
	r.OnFire(func(ctx context.Context, job investment.TradeJob) {
		calls++
		if job.ScheduleID == 1 {
			panic("boom")
		}
	})
	r.Arm(key(1, 0), clock.t.Add(-2*time.Second), investment.TradeJob{ScheduleID: 1})
	r.Arm(key(1, 1), clock.t.Add(-time.Second), investment.TradeJob{ScheduleID: 2})

	assert.NotPanics(t, func() { r.FireDue(context.Background()) })
	assert.Equal(t, 2, calls)
}

func TestRegistry_SnapshotSorted(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(clock)
	r.Arm(key(1, 4), clock.t.Add(4*time.Hour), investment.TradeJob{})
	r.Arm(key(1, 1), clock.t.Add(1*time.Hour), investment.TradeJob{})
	r.Arm(key(1, 2), clock.t.Add(2*time.Hour), investment.TradeJob{})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 1, snap[0].Key.WeekIndex)
	assert.Equal(t, 2, snap[1].Key.WeekIndex)
	assert.Equal(t, 4, snap[2].Key.WeekIndex)
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(clock)

	fired := make(chan int64, 1)
	r.OnFire(func(ctx context.Context, job investment.TradeJob) { fired <- job.ScheduleID })
	r.Arm(key(1, 0), clock.t, investment.TradeJob{ScheduleID: 42})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case id := <-fired:
		assert.Equal(t, int64(42), id)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
}
