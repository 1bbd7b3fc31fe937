// internal/domain/notification/event.go
package notification

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names the channel an event is published on.
type EventType string

const EventTradeUpdate EventType = "trade_update"

// OutcomeStatus is the outcome carried by a trade update.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// TradeEvent describes the outcome of one execution attempt.
type TradeEvent struct {
	Type        EventType       `json:"type"`
	Status      OutcomeStatus   `json:"status"`
	CycleID     int64           `json:"cycle_id"`
	ScheduleID  int64           `json:"schedule_id"`
	WeekNumber  int             `json:"week_number"`
	Symbol      string          `json:"symbol"`
	DisplayName string          `json:"display_name,omitempty"`
	SecurityID  string          `json:"security_id"`
	OrderID     string          `json:"order_id,omitempty"`
	Quantity    int64           `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	LTP         decimal.Decimal `json:"ltp"`
	Reason      string          `json:"reason,omitempty"`
	Message     string          `json:"message,omitempty"`
	CycleDone   bool            `json:"cycle_completed,omitempty"`
	At          time.Time       `json:"at"`
}

// Notifier receives trade outcomes. Delivery is best-effort and must never block
// or fail the caller's bookkeeping.
type Notifier interface {
	NotifyTradeOutcome(ctx context.Context, event TradeEvent)
}

// Sink is a single delivery channel behind a Notifier.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event TradeEvent) error
}
