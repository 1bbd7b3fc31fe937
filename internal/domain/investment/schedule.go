// internal/domain/investment/schedule.go
package investment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ScheduleStatus is the state of one weekly tranche.
type ScheduleStatus string

const (
	ScheduleStatusPending  ScheduleStatus = "pending"
	ScheduleStatusExecuted ScheduleStatus = "executed"
	ScheduleStatusFailed   ScheduleStatus = "failed"
	ScheduleStatusSkipped  ScheduleStatus = "skipped"
	ScheduleStatusExpired  ScheduleStatus = "expired"
)

// ExecutableStatuses are the only states an execution attempt may start from.
var ExecutableStatuses = []ScheduleStatus{ScheduleStatusPending, ScheduleStatusFailed}

// Executable reports whether an attempt may be made from this status.
func (s ScheduleStatus) Executable() bool {
	return s == ScheduleStatusPending || s == ScheduleStatusFailed
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// ScheduleEntry is one week's planned trade within a cycle.
// Corresponds to the 'investment_schedules' table.
type ScheduleEntry struct {
	ID            int64
	CycleID       int64
	WeekNumber    int       // 1..WeeksPerCycle
	ExecutionDate time.Time // civil date, UTC midnight
	ExecutionTime ClockTime
	Amount        decimal.Decimal
	Quantity      int64 // set only on success
	Status        ScheduleStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExecuteAt combines the civil execution date and time-of-day in loc.
func (e *ScheduleEntry) ExecuteAt(loc *time.Location) time.Time {
	d := e.ExecutionDate
	t := e.ExecutionTime
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, t.Second, 0, loc)
}

// TimerKey returns the registry key for this entry.
func (e *ScheduleEntry) TimerKey() TimerKey {
	return TimerKey{CycleID: e.CycleID, WeekIndex: e.WeekNumber - 1}
}

// ClockTime is a wall-clock time of day without a date.
type ClockTime struct {
	Hour   int
	Minute int
	Second int
}

// ParseClockTime accepts HH:MM:SS or HH:MM.
func ParseClockTime(s string) (ClockTime, error) {
	for _, layout := range []string{TimeLayout, "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return ClockTime{}, fmt.Errorf("%w: invalid time %q, expected HH:MM:SS", ErrValidation, s)
}

// ClockTimeOf extracts the time-of-day of t.
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrValidation, s)
	}
	return d, nil
}

// CivilDate drops the clock and zone of t, keeping its calendar date as UTC midnight.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TimerKey identifies the timer slot of one entry: (cycle, zero-based week index).
type TimerKey struct {
	CycleID   int64
	WeekIndex int
}

func (k TimerKey) String() string {
	return fmt.Sprintf("trade:%d:%d", k.CycleID, k.WeekIndex)
}

// TradeJob is the immutable payload captured when a timer is armed.
type TradeJob struct {
	ScheduleID int64
	CycleID    int64
	WeekIndex  int
	SecurityID string
	Symbol     string
	Amount     decimal.Decimal
	TargetDate string // YYYY-MM-DD in the scheduling zone
}

// NewTradeJob builds the payload for entry e of cycle c.
func NewTradeJob(c *Cycle, e *ScheduleEntry) TradeJob {
	return TradeJob{
		ScheduleID: e.ID,
		CycleID:    c.ID,
		WeekIndex:  e.WeekNumber - 1,
		SecurityID: c.SecurityID,
		Symbol:     c.Symbol,
		Amount:     e.Amount,
		TargetDate: e.ExecutionDate.Format(DateLayout),
	}
}
