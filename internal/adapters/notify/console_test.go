package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polymm/internal/adapters/notify"
	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

var _ ports.Notifier = (*notify.Console)(nil)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func TestConsole_Report(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, clock)

	err := n.Report(context.Background(), ports.StatusReport{
		Status: domain.BotStatus{
			Cycle: 42, ActiveMarkets: 3, ActiveQuotes: 2,
			Exposure: 12.5, RealizedPnL: 0.75, FreeCapital: 80,
			ReduceMode: true, CoolingDown: 2, LastCycle: now.Add(-5 * time.Second),
		},
		Inventory: []domain.InventoryRow{
			{MarketID: "0xaaaaaaaaaaaaaaaaaaaa", TokenID: "y", Outcome: domain.OutcomeYes, NetPosition: 25, AvgEntryPrice: 0.48, RealizedPnL: 0.5, UpdatedAt: now},
			{MarketID: "0xflat", TokenID: "n", Outcome: domain.OutcomeNo},
		},
		Quotes: []domain.QuoteRecord{
			{MarketID: "0xbbb", BidOrderID: "b", AskOrderID: "a", BidPrice: 0.47, AskPrice: 0.53, BidSize: 10, AskSize: 10, MidAtQuote: 0.5, CreatedAt: now.Add(-time.Minute)},
			{MarketID: "0xccc", BidOrderID: "b2", BidPrice: 0.30, BidSize: 16.7, MidAtQuote: 0.32, CreatedAt: now},
		},
		Daily: []domain.DailyMetrics{
			{Date: "2026-03-01", FillsCount: 7, SpreadCaptureRate: 0.42, AdverseSelectionBps: 12.3, PnLNet: 1.2345},
		},
		Collateral: []domain.CollateralResult{
			{Op: domain.CollateralSplit, ConditionID: "0xbbb", Amount: 10, GasCostUSD: 0.002, Success: true, ExecutedAt: now},
			{Op: domain.CollateralMerge, ConditionID: "0xbbb", Amount: 12.3, GasCostUSD: 0.003, Error: "execution reverted", ExecutedAt: now},
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "cycle 42")
	assert.Contains(t, out, "REDUCE")
	assert.Contains(t, out, "cooldown:2")
	assert.NotContains(t, out, "PAUSED")
	assert.Contains(t, out, "last cycle 5s ago")
	assert.Contains(t, out, "0xaaaaaaaaaa...")
	assert.NotContains(t, out, "0xflat", "filas sin posición ni PnL se omiten")
	assert.Contains(t, out, "6.0pts")
	assert.Contains(t, out, "one-sided")
	assert.Contains(t, out, "0.30 x 16.7")
	assert.Contains(t, out, "42.0%")
	assert.Contains(t, out, "$1.2345")
	assert.Contains(t, out, "SPLIT / MERGE")
	assert.Contains(t, out, "FAILED execution reverted")
	assert.Contains(t, out, "Gas total: $0.0050")
}

func TestConsole_Report_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, clock)

	require.NoError(t, n.Report(context.Background(), ports.StatusReport{Status: domain.BotStatus{Paused: true}}))

	out := buf.String()
	assert.Contains(t, out, "PAUSED")
	assert.Contains(t, out, "no positions")
	assert.Contains(t, out, "no active quotes")
	assert.Contains(t, out, "no metrics yet")
	assert.NotContains(t, out, "SPLIT / MERGE")
	assert.NotContains(t, out, "cooldown")
}
