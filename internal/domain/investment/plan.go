package investment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var weeksDivisor = decimal.NewFromInt(WeeksPerCycle)

// ValidateAmount checks that an amount is positive with at most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrValidation, amount.String())
	}
	if !amount.Equal(amount.Truncate(2)) {
		return fmt.Errorf("%w: amount %s has more than two decimal places", ErrValidation, amount.String())
	}
	return nil
}

// SplitTranches divides total into WeeksPerCycle amounts truncated to paise.
// The truncation remainder goes to the last week so the parts always sum to total.
func SplitTranches(total decimal.Decimal) ([]decimal.Decimal, error) {
	if err := ValidateAmount(total); err != nil {
		return nil, err
	}
	weekly := total.Div(weeksDivisor).Truncate(2)
	if !weekly.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s is too small to split into %d tranches", ErrValidation, total.String(), WeeksPerCycle)
	}
	parts := make([]decimal.Decimal, WeeksPerCycle)
	for i := 0; i < WeeksPerCycle-1; i++ {
		parts[i] = weekly
	}
	parts[WeeksPerCycle-1] = total.Sub(weekly.Mul(decimal.NewFromInt(WeeksPerCycle - 1)))
	return parts, nil
}

// PlanEntries builds the five pending entries of a new cycle starting at start.
// Week n runs 7*(n-1) days after start at the same time of day.
func PlanEntries(total decimal.Decimal, start time.Time) ([]*ScheduleEntry, error) {
	parts, err := SplitTranches(total)
	if err != nil {
		return nil, err
	}
	clock := ClockTimeOf(start)
	entries := make([]*ScheduleEntry, 0, WeeksPerCycle)
	for i, amount := range parts {
		entries = append(entries, &ScheduleEntry{
			WeekNumber:    i + 1,
			ExecutionDate: CivilDate(start.AddDate(0, 0, 7*i)),
			ExecutionTime: clock,
			Amount:        amount,
			Status:        ScheduleStatusPending,
		})
	}
	return entries, nil
}
