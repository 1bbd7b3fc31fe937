// internal/domain/broker/broker.go
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnavailable marks a failed or timed-out data lookup (quote, balance, holdings).
var ErrUnavailable = errors.New("broker data unavailable")

// ErrSecurityNotFound is returned by resolvers when a symbol has no listing.
var ErrSecurityNotFound = errors.New("security not found")

// OrderError is a rejected or failed order placement.
type OrderError struct {
	Code    string
	Message string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("order rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("order rejected: %s", e.Message)
}

func (e *OrderError) Unwrap() error { return e.Err }

// Security is a resolved listing.
type Security struct {
	ID          string
	Symbol      string
	DisplayName string
	Exchange    string
}

// MarketOrder is a market buy request for a whole number of units.
type MarketOrder struct {
	SecurityID    string
	Quantity      int64
	CorrelationID string
}

// OrderResult is the broker's acknowledgement of a placed order.
type OrderResult struct {
	OrderID string
	Status  string
}

// Holding is one position in the demat account.
type Holding struct {
	SecurityID      string
	Symbol          string
	Quantity        int64
	AvgCostPrice    decimal.Decimal
	LastTradedPrice decimal.Decimal
}

// SecurityResolver maps an exchange symbol to a security reference.
type SecurityResolver interface {
	ResolveSecurity(ctx context.Context, symbol string) (Security, error)
}

// Broker is the brokerage account the tranches are executed against.
type Broker interface {
	GetQuote(ctx context.Context, securityID string) (decimal.Decimal, error)
	GetWithdrawableBalance(ctx context.Context) (decimal.Decimal, error)
	PlaceMarketBuy(ctx context.Context, order MarketOrder) (OrderResult, error)
	GetHoldings(ctx context.Context) ([]Holding, error)
}
