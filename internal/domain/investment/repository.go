// internal/domain/investment/repository.go
package investment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository is the durable Schedule Store for cycles, entries and execution records.
// Methods documented as atomic run in a single transaction.
type Repository interface {
	// CreateCycle inserts the cycle and its entries atomically, filling in generated IDs.
	CreateCycle(ctx context.Context, cycle *Cycle, entries []*ScheduleEntry) error
	GetCycleByID(ctx context.Context, id int64) (*Cycle, error)
	ListCycles(ctx context.Context) ([]*Cycle, error)
	ListCyclesBySymbol(ctx context.Context, symbol string) ([]*Cycle, error)
	UpdateCycleStatus(ctx context.Context, id int64, status CycleStatus) error

	GetScheduleByID(ctx context.Context, id int64) (*ScheduleEntry, error)
	ListSchedulesByCycle(ctx context.Context, cycleID int64) ([]*ScheduleEntry, error)
	// ListPendingSchedules returns pending entries whose cycle is in one of cycleStatuses.
	ListPendingSchedules(ctx context.Context, cycleStatuses ...CycleStatus) ([]*ScheduleEntry, error)
	// TransitionSchedule moves an entry to status `to` only if it is currently in one of `from`.
	// Returns ErrNotExecutable-style ErrStateConflict when no row matched.
	TransitionSchedule(ctx context.Context, id int64, to ScheduleStatus, from ...ScheduleStatus) error
	// UpdateSchedule persists amount/date/time of entry and recomputes the owning cycle's
	// total as the sum of its entries, atomically. Returns the new total.
	UpdateSchedule(ctx context.Context, entry *ScheduleEntry) (decimal.Decimal, error)

	// RecordExecution atomically writes entry.Status/Quantity (guarded by the entry still being
	// pending or failed), appends record, and completes the cycle when all weeks are executed.
	RecordExecution(ctx context.Context, entry *ScheduleEntry, record *ExecutionRecord) (cycleCompleted bool, err error)
	ListExecutions(ctx context.Context, scheduleID int64) ([]*ExecutionRecord, error)
}
