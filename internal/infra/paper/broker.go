package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tranche_investor/internal/domain/broker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// QuoteSource supplies the last traded prices fills are simulated at.
type QuoteSource interface {
	GetQuote(ctx context.Context, securityID string) (decimal.Decimal, error)
}

type position struct {
	symbol   string
	quantity int64
	cost     decimal.Decimal // total paid
	lastFill decimal.Decimal
}

// Broker simulates a cash account: market buys fill immediately at the live quote and
// are debited from an in-memory balance. Nothing is sent to the exchange.
type Broker struct {
	quotes QuoteSource
	logger *logrus.Entry

	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]*position
	symbols   map[string]string
}

func NewBroker(quotes QuoteSource, startingCash decimal.Decimal, logger *logrus.Entry) *Broker {
	return &Broker{
		quotes:    quotes,
		logger:    logger.WithField("component", "paper_broker"),
		cash:      startingCash,
		positions: make(map[string]*position),
		symbols:   make(map[string]string),
	}
}

// RegisterSymbol names a security id in the simulated holdings.
func (b *Broker) RegisterSymbol(securityID, symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols[securityID] = symbol
}

func (b *Broker) GetQuote(ctx context.Context, securityID string) (decimal.Decimal, error) {
	return b.quotes.GetQuote(ctx, securityID)
}

func (b *Broker) GetWithdrawableBalance(_ context.Context) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash, nil
}

// PlaceMarketBuy fills the whole quantity at the current quote.
func (b *Broker) PlaceMarketBuy(ctx context.Context, order broker.MarketOrder) (broker.OrderResult, error) {
	if order.Quantity <= 0 {
		return broker.OrderResult{}, &broker.OrderError{Code: "PAPER-QTY", Message: fmt.Sprintf("invalid quantity %d", order.Quantity)}
	}
	price, err := b.quotes.GetQuote(ctx, order.SecurityID)
	if err != nil {
		return broker.OrderResult{}, &broker.OrderError{Code: "PAPER-LTP", Message: "no price to fill at", Err: err}
	}
	cost := price.Mul(decimal.NewFromInt(order.Quantity))

	b.mu.Lock()
	defer b.mu.Unlock()

	if cost.GreaterThan(b.cash) {
		return broker.OrderResult{}, &broker.OrderError{
			Code:    "PAPER-FUNDS",
			Message: fmt.Sprintf("fill cost %s exceeds cash %s", cost.StringFixed(2), b.cash.StringFixed(2)),
		}
	}
	b.cash = b.cash.Sub(cost)

	pos, ok := b.positions[order.SecurityID]
	if !ok {
		pos = &position{symbol: b.symbols[order.SecurityID]}
		b.positions[order.SecurityID] = pos
	}
	pos.quantity += order.Quantity
	pos.cost = pos.cost.Add(cost)
	pos.lastFill = price

	orderID := "PAPER-" + uuid.NewString()
	b.logger.WithFields(logrus.Fields{
		"order_id":       orderID,
		"security_id":    order.SecurityID,
		"quantity":       order.Quantity,
		"fill_price":     price.String(),
		"cash_left":      b.cash.StringFixed(2),
		"correlation_id": order.CorrelationID,
	}).Info("Paper market buy filled")

	return broker.OrderResult{OrderID: orderID, Status: "TRADED"}, nil
}

// GetHoldings reports the simulated positions valued at their last fill.
func (b *Broker) GetHoldings(_ context.Context) ([]broker.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	holdings := make([]broker.Holding, 0, len(b.positions))
	for id, pos := range b.positions {
		holdings = append(holdings, broker.Holding{
			SecurityID:      id,
			Symbol:          pos.symbol,
			Quantity:        pos.quantity,
			AvgCostPrice:    pos.cost.Div(decimal.NewFromInt(pos.quantity)).Round(2),
			LastTradedPrice: pos.lastFill,
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].SecurityID < holdings[j].SecurityID })
	return holdings, nil
}

type namingResolver struct {
	next   broker.SecurityResolver
	broker *Broker
}

// Resolver wraps next so every resolved security is named in the simulated holdings.
func (b *Broker) Resolver(next broker.SecurityResolver) broker.SecurityResolver {
	return &namingResolver{next: next, broker: b}
}

func (r *namingResolver) ResolveSecurity(ctx context.Context, symbol string) (broker.Security, error) {
	sec, err := r.next.ResolveSecurity(ctx, symbol)
	if err == nil {
		r.broker.RegisterSymbol(sec.ID, sec.Symbol)
	}
	return sec, err
}
