package app

import (
	"context"
	"testing"
	"time"

	"tranche_investor/internal/domain/broker"
	"tranche_investor/internal/domain/investment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSecurityReport(t *testing.T) {
	repo := newMemoryRepo()
	b := new(MockBroker)
	svc := NewPortfolioService(repo, b, Settings{Location: ist}, testLogger())

	_, entries := repo.seedCycle(investment.CycleStatusActive, decimal.NewFromInt(5000), time.Date(2024, 1, 1, 15, 0, 0, 0, ist))
	repo.setScheduleStatus(entries[0].ID, investment.ScheduleStatusExecuted)
	repo.setScheduleStatus(entries[1].ID, investment.ScheduleStatusExecuted)
	repo.setScheduleStatus(entries[2].ID, investment.ScheduleStatusFailed)

	b.On("GetHoldings", mock.Anything).Return([]broker.Holding{
		{SecurityID: "1333", Symbol: "HDFCBANK", Quantity: 3, AvgCostPrice: decimal.NewFromInt(1500), LastTradedPrice: decimal.NewFromInt(1600)},
		{SecurityID: "10576", Symbol: "NIFTYBEES", Quantity: 8, AvgCostPrice: decimal.NewFromInt(250), LastTradedPrice: decimal.NewFromInt(275)},
	}, nil)

	report, err := svc.SecurityReport(context.Background(), "niftybees")
	require.NoError(t, err)
	assert.Equal(t, "NIFTYBEES", report.Symbol)
	require.Len(t, report.Cycles, 1)
	assert.True(t, report.TotalInvested.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, int64(8), report.HoldingQuantity)
	assert.True(t, report.LTP.Equal(decimal.NewFromInt(275)))
	assert.True(t, report.CurrentValue.Equal(decimal.NewFromInt(2200)))
	assert.True(t, report.ProfitPercent.Equal(decimal.NewFromInt(10)))
	b.AssertNotCalled(t, "GetQuote", mock.Anything, mock.Anything)
}

func TestSecurityReport_QuoteFallback(t *testing.T) {
	repo := newMemoryRepo()
	b := new(MockBroker)
	svc := NewPortfolioService(repo, b, Settings{Location: ist}, testLogger())
	repo.seedCycle(investment.CycleStatusActive, decimal.NewFromInt(5000), time.Date(2024, 1, 1, 15, 0, 0, 0, ist))

	b.On("GetHoldings", mock.Anything).Return([]broker.Holding{}, nil)
	b.On("GetQuote", mock.Anything, "10576").Return(decimal.NewFromInt(260), nil)

	report, err := svc.SecurityReport(context.Background(), "NIFTYBEES")
	require.NoError(t, err)
	assert.True(t, report.LTP.Equal(decimal.NewFromInt(260)))
	assert.True(t, report.CurrentValue.IsZero())
	assert.True(t, report.ProfitPercent.IsZero())
}

func TestSecurityReport_Errors(t *testing.T) {
	repo := newMemoryRepo()
	b := new(MockBroker)
	svc := NewPortfolioService(repo, b, Settings{Location: ist}, testLogger())

	_, err := svc.SecurityReport(context.Background(), "GOLDBEES")
	assert.ErrorIs(t, err, investment.ErrNotFound)

	repo.seedCycle(investment.CycleStatusActive, decimal.NewFromInt(5000), time.Date(2024, 1, 1, 15, 0, 0, 0, ist))
	b.On("GetHoldings", mock.Anything).Return(nil, broker.ErrUnavailable)
	_, err = svc.SecurityReport(context.Background(), "NIFTYBEES")
	assert.ErrorIs(t, err, investment.ErrDataUnavailable)
}

func TestHoldingsSummary(t *testing.T) {
	b := new(MockBroker)
	svc := NewPortfolioService(newMemoryRepo(), b, Settings{Location: ist}, testLogger())

	b.On("GetHoldings", mock.Anything).Return([]broker.Holding{
		{SecurityID: "10576", Symbol: "NIFTYBEES", Quantity: 10, AvgCostPrice: decimal.NewFromInt(200), LastTradedPrice: decimal.NewFromInt(250)},
		{SecurityID: "14428", Symbol: "GOLDBEES", Quantity: 20, AvgCostPrice: decimal.NewFromInt(50)},
	}, nil)
	b.On("GetQuote", mock.Anything, "14428").Return(decimal.NewFromInt(45), nil)

	rows, err := svc.HoldingsSummary(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "GOLDBEES", rows[0].Symbol)
	assert.True(t, rows[0].Invested.Equal(decimal.NewFromInt(1000)))
	assert.True(t, rows[0].CurrentValue.Equal(decimal.NewFromInt(900)))
	assert.True(t, rows[0].ProfitPercent.Equal(decimal.NewFromInt(-10)))

	assert.Equal(t, "NIFTYBEES", rows[1].Symbol)
	assert.True(t, rows[1].ProfitPercent.Equal(decimal.NewFromInt(25)))
}
