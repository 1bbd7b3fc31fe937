// internal/domain/investment/execution.go
package investment

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus is the outcome of one trade attempt.
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// FailureReason classifies a failed attempt.
type FailureReason string

const (
	ReasonDataUnavailable      FailureReason = "DataUnavailable"
	ReasonAmountBelowUnitPrice FailureReason = "AmountBelowUnitPrice"
	ReasonFundsInsufficient    FailureReason = "FundsInsufficient"
	ReasonBrokerError          FailureReason = "BrokerError"
)

// ExecutionRecord is the append-only audit row of a single attempt.
// Corresponds to the 'execution_history' table.
type ExecutionRecord struct {
	ID            int64
	ScheduleID    int64
	ExecutedAt    time.Time
	Amount        decimal.Decimal
	Status        ExecutionStatus
	Reason        FailureReason // empty on success
	ErrorMessage  sql.NullString
	LTP           decimal.Decimal
	Quantity      int64
	OrderID       string
	CorrelationID string
	CreatedAt     time.Time
}

