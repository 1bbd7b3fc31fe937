package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tranche_investor/internal/domain/broker"
	"tranche_investor/internal/domain/investment"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// SecurityReport is the position of one security against what its cycles invested.
type SecurityReport struct {
	Symbol          string
	SecurityID      string
	DisplayName     string
	Cycles          []*investment.CycleDetail
	TotalInvested   decimal.Decimal // sum of executed tranche amounts
	HoldingQuantity int64
	AvgCostPrice    decimal.Decimal
	LTP             decimal.Decimal
	CurrentValue    decimal.Decimal
	ProfitPercent   decimal.Decimal
}

// HoldingSummary is one line of the account-wide holdings report.
type HoldingSummary struct {
	SecurityID    string
	Symbol        string
	Quantity      int64
	AvgCostPrice  decimal.Decimal
	LTP           decimal.Decimal
	Invested      decimal.Decimal
	CurrentValue  decimal.Decimal
	ProfitPercent decimal.Decimal
}

// PortfolioService builds position reports from the store and the broker.
type PortfolioService struct {
	repo     investment.Repository
	broker   broker.Broker
	settings Settings
	logger   *logrus.Entry
}

func NewPortfolioService(repo investment.Repository, b broker.Broker, settings Settings, logger *logrus.Entry) *PortfolioService {
	return &PortfolioService{
		repo:     repo,
		broker:   b,
		settings: settings.withDefaults(),
		logger:   logger.WithField("component", "portfolio"),
	}
}

// SecurityReport reports all cycles of symbol together with the live holding.
// The LTP comes from the holding and falls back to a quote when the holding has none.
func (s *PortfolioService) SecurityReport(ctx context.Context, symbol string) (*SecurityReport, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	cycles, err := s.repo.ListCyclesBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles of %s: %w", symbol, err)
	}
	if len(cycles) == 0 {
		return nil, fmt.Errorf("%w: no cycles for %s", investment.ErrNotFound, symbol)
	}

	report := &SecurityReport{
		Symbol:        symbol,
		SecurityID:    cycles[0].SecurityID,
		DisplayName:   cycles[0].DisplayName,
		TotalInvested: decimal.Zero,
	}
	for _, c := range cycles {
		entries, err := s.repo.ListSchedulesByCycle(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list schedules of cycle %d: %w", c.ID, err)
		}
		for _, e := range entries {
			if e.Status == investment.ScheduleStatusExecuted {
				report.TotalInvested = report.TotalInvested.Add(e.Amount)
			}
		}
		report.Cycles = append(report.Cycles, &investment.CycleDetail{Cycle: c, Entries: entries})
	}

	callCtx, cancel := s.settings.callContext(ctx)
	holdings, err := s.broker.GetHoldings(callCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: holdings: %v", investment.ErrDataUnavailable, err)
	}
	for _, h := range holdings {
		if h.SecurityID == report.SecurityID {
			report.HoldingQuantity = h.Quantity
			report.AvgCostPrice = h.AvgCostPrice
			report.LTP = h.LastTradedPrice
			break
		}
	}

	if !report.LTP.IsPositive() {
		callCtx, cancel := s.settings.callContext(ctx)
		ltp, err := s.broker.GetQuote(callCtx, report.SecurityID)
		cancel()
		if err != nil {
			s.logger.WithError(err).WithField("symbol", symbol).Warn("Could not fetch LTP for report; valuing at zero")
			ltp = decimal.Zero
		}
		report.LTP = ltp
	}

	report.CurrentValue = report.LTP.Mul(decimal.NewFromInt(report.HoldingQuantity)).Round(2)
	report.ProfitPercent = profitPercent(report.TotalInvested, report.CurrentValue)
	return report, nil
}

// HoldingsSummary values every holding in the account at its cost basis and LTP.
func (s *PortfolioService) HoldingsSummary(ctx context.Context) ([]HoldingSummary, error) {
	callCtx, cancel := s.settings.callContext(ctx)
	holdings, err := s.broker.GetHoldings(callCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: holdings: %v", investment.ErrDataUnavailable, err)
	}

	out := make([]HoldingSummary, 0, len(holdings))
	for _, h := range holdings {
		ltp := h.LastTradedPrice
		if !ltp.IsPositive() {
			callCtx, cancel := s.settings.callContext(ctx)
			q, err := s.broker.GetQuote(callCtx, h.SecurityID)
			cancel()
			if err == nil {
				ltp = q
			}
		}
		qty := decimal.NewFromInt(h.Quantity)
		invested := h.AvgCostPrice.Mul(qty).Round(2)
		current := ltp.Mul(qty).Round(2)
		out = append(out, HoldingSummary{
			SecurityID:    h.SecurityID,
			Symbol:        h.Symbol,
			Quantity:      h.Quantity,
			AvgCostPrice:  h.AvgCostPrice,
			LTP:           ltp,
			Invested:      invested,
			CurrentValue:  current,
			ProfitPercent: profitPercent(invested, current),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func profitPercent(invested, current decimal.Decimal) decimal.Decimal {
	if !invested.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(invested).Div(invested).Mul(hundred).Round(2)
}
