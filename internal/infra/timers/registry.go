// internal/infra/timers/registry.go
package timers

import (
	"context"
	"sort"
	"sync"
	"time"

	"tranche_investor/internal/domain/investment"

	"github.com/sirupsen/logrus"
)

const DefaultPollInterval = 500 * time.Millisecond

// FireFunc is invoked with the payload captured when the timer was armed.
type FireFunc func(ctx context.Context, job investment.TradeJob)

// Timer is a read-only view of one armed timer.
type Timer struct {
	Key    investment.TimerKey
	FireAt time.Time
	Job    investment.TradeJob
	seq    uint64
}

// Registry holds one-shot timers addressed by TimerKey. It owns no authoritative
// state: everything in it can be rebuilt from the schedule store.
type Registry struct {
	mu     sync.Mutex
	timers map[investment.TimerKey]Timer
	seq    uint64
	onFire FireFunc
	now    func() time.Time
	logger *logrus.Entry
}

func NewRegistry(now func() time.Time, logger *logrus.Entry) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		timers: make(map[investment.TimerKey]Timer),
		now:    now,
		logger: logger.WithField("component", "timer_registry"),
	}
}

// OnFire sets the callback used by FireDue. It must be set before the driver starts.
func (r *Registry) OnFire(fn FireFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFire = fn
}

// Arm registers a timer for key, superseding any timer already armed under it.
func (r *Registry) Arm(key investment.TimerKey, fireAt time.Time, job investment.TradeJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	_, replaced := r.timers[key]
	r.timers[key] = Timer{Key: key, FireAt: fireAt, Job: job, seq: r.seq}
	r.logger.WithFields(logrus.Fields{
		"tag":         key.String(),
		"fire_at":     fireAt.Format(time.RFC3339),
		"schedule_id": job.ScheduleID,
		"replaced":    replaced,
	}).Debug("Timer armed")
}

// Disarm removes the timer for key. Disarming an unknown key is a no-op.
func (r *Registry) Disarm(key investment.TimerKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[key]; !ok {
		return false
	}
	delete(r.timers, key)
	r.logger.WithField("tag", key.String()).Debug("Timer disarmed")
	return true
}

// DisarmCycle removes every timer of cycleID and returns how many were removed.
func (r *Registry) DisarmCycle(cycleID int64) int {
	removed := 0
	for week := 0; week < investment.WeeksPerCycle; week++ {
		if r.Disarm(investment.TimerKey{CycleID: cycleID, WeekIndex: week}) {
			removed++
		}
	}
	return removed
}

// Get returns the timer armed under key, if any.
func (r *Registry) Get(key investment.TimerKey) (Timer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[key]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Snapshot returns all armed timers in firing order.
func (r *Registry) Snapshot() []Timer {
	r.mu.Lock()
	out := make([]Timer, 0, len(r.timers))
	for _, t := range r.timers {
		out = append(out, t)
	}
	r.mu.Unlock()
	sortTimers(out)
	return out
}

// FireDue removes every timer whose fire time has passed and invokes the callback
// for each, one at a time, in (fire time, arm order) order. It returns the number fired.
func (r *Registry) FireDue(ctx context.Context) int {
	now := r.now()

	r.mu.Lock()
	var due []Timer
	for key, t := range r.timers {
		if !t.FireAt.After(now) {
			due = append(due, t)
			delete(r.timers, key)
		}
	}
	fn := r.onFire
	r.mu.Unlock()

	if len(due) == 0 {
		return 0
	}
	sortTimers(due)

	for _, t := range due {
		if ctx.Err() != nil {
			r.logger.WithField("tag", t.Key.String()).Warn("Context cancelled before timer could fire; dropping")
			continue
		}
		if fn == nil {
			r.logger.WithField("tag", t.Key.String()).Error("Timer fired with no callback registered")
			continue
		}
		r.fire(ctx, fn, t)
	}
	return len(due)
}

func (r *Registry) fire(ctx context.Context, fn FireFunc, t Timer) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"tag":   t.Key.String(),
				"panic": rec,
			}).Error("Recovered from panic in timer callback")
		}
	}()
	r.logger.WithFields(logrus.Fields{
		"tag":         t.Key.String(),
		"schedule_id": t.Job.ScheduleID,
		"target_date": t.Job.TargetDate,
	}).Info("Timer fired")
	fn(ctx, t.Job)
}

// Run polls FireDue every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.WithField("interval", interval.String()).Info("Timer driver started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Timer driver stopped")
			return
		case <-ticker.C:
			r.FireDue(ctx)
		}
	}
}

func sortTimers(ts []Timer) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].FireAt.Equal(ts[j].FireAt) {
			return ts[i].FireAt.Before(ts[j].FireAt)
		}
		return ts[i].seq < ts[j].seq
	})
}
