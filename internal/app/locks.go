package app

import (
	"context"
	"sync"
	"time"

	"tranche_investor/internal/domain/investment"
)

// CycleLocks serializes every store and timer mutation of a single cycle.
// Operations on different cycles proceed in parallel.
type CycleLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewCycleLocks() *CycleLocks {
	return &CycleLocks{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the lock of cycleID and returns its release func.
func (l *CycleLocks) Lock(cycleID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[cycleID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[cycleID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Timers is the subset of the timer registry the services arm and disarm through.
type Timers interface {
	Arm(key investment.TimerKey, fireAt time.Time, job investment.TradeJob)
	Disarm(key investment.TimerKey) bool
	DisarmCycle(cycleID int64) int
}

const DefaultCallTimeout = 10 * time.Second

// Settings carries the clock, zone and collaborator timeout shared by the services.
type Settings struct {
	Location    *time.Location
	Now         func() time.Time
	CallTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = DefaultCallTimeout
	}
	return s
}

func (s Settings) now() time.Time {
	return s.Now().In(s.Location)
}

// callContext bounds a single collaborator call.
func (s Settings) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.CallTimeout)
}
