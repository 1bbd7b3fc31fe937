// internal/domain/investment/cycle.go
package investment

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleStatus is the lifecycle state of an investment cycle.
type CycleStatus string

const (
	CycleStatusActive    CycleStatus = "active"
	CycleStatusPaused    CycleStatus = "paused"
	CycleStatusCompleted CycleStatus = "completed"
)

// WeeksPerCycle is the number of weekly tranches a cycle is split into.
const WeeksPerCycle = 5

// Cycle is one staged-investment plan for a single security.
// Corresponds to the 'investment_cycles' table.
type Cycle struct {
	ID          int64
	Symbol      string // exchange symbol, e.g. NIFTYBEES
	SecurityID  string // broker security reference
	DisplayName string
	TotalAmount decimal.Decimal
	StartDate   time.Time // civil date, UTC midnight
	Status      CycleStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Cycle) IsActive() bool {
	return c.Status == CycleStatusActive
}

// CycleDetail is a cycle together with its schedule entries ordered by week.
type CycleDetail struct {
	Cycle   *Cycle
	Entries []*ScheduleEntry
}

// SumAmounts returns the total of all entry amounts.
func SumAmounts(entries []*ScheduleEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// CountByStatus returns how many entries are in the given status.
func CountByStatus(entries []*ScheduleEntry, status ScheduleStatus) int {
	n := 0
	for _, e := range entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

// CheckWeeks reports whether the entries cover exactly weeks 1..WeeksPerCycle.
func CheckWeeks(entries []*ScheduleEntry) bool {
	if len(entries) != WeeksPerCycle {
		return false
	}
	seen := make(map[int]bool, WeeksPerCycle)
	for _, e := range entries {
		if e.WeekNumber < 1 || e.WeekNumber > WeeksPerCycle || seen[e.WeekNumber] {
			return false
		}
		seen[e.WeekNumber] = true
	}
	return true
}
