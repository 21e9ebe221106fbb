package arbitrage_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polymm/internal/arbitrage"
	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/inventory"
)

func testMarket() domain.Market {
	return domain.Market{
		ConditionID: "0xcond",
		Tokens: [2]domain.Token{
			{TokenID: "yes", Outcome: "Yes"},
			{TokenID: "no", Outcome: "No"},
		},
	}
}

// --- Scanner ---

func TestScan_BuyMerge(t *testing.T) {
	s := arbitrage.Scanner{GasCostUSD: 0.005, MinProfitPct: 0.5}
	yes := domain.BookSummary{BestBid: 0.40, BestAsk: 0.45, AskDepth5: 50, BidDepth5: 50}
	no := domain.BookSummary{BestBid: 0.44, BestAsk: 0.48, AskDepth5: 50, BidDepth5: 50}

	opp, ok := s.Scan(testMarket(), yes, no)
	require.True(t, ok)
	assert.Equal(t, domain.ArbBuyMerge, opp.Type)
	assert.InDelta(t, 0.45, opp.YesPrice, 1e-9)
	assert.InDelta(t, 0.48, opp.NoPrice, 1e-9)
	assert.InDelta(t, 0.93, opp.Cost(), 1e-9)
	assert.Greater(t, opp.NetProfitPct, 0.0)
	assert.InDelta(t, 50/0.48, opp.MaxSize, 1e-9)
	assert.Equal(t, "yes", opp.YesTokenID)
	assert.Equal(t, "0xcond", opp.ConditionID)
}

func TestScan_SplitSell(t *testing.T) {
	s := arbitrage.Scanner{GasCostUSD: 0.005, MinProfitPct: 0.5}
	yes := domain.BookSummary{BestBid: 0.55, BestAsk: 0.57, BidDepth5: 55}
	no := domain.BookSummary{BestBid: 0.48, BestAsk: 0.50, BidDepth5: 48}

	opp, ok := s.Scan(testMarket(), yes, no)
	require.True(t, ok)
	assert.Equal(t, domain.ArbSplitSell, opp.Type)
	assert.InDelta(t, 1.03, opp.Cost(), 1e-9)
	assert.InDelta(t, 3.0, opp.GrossProfitPct, 1e-9)
	assert.InDelta(t, 100.0, opp.MaxSize, 1e-9)
}

func TestScan_NoOpportunityWhenFairlyPriced(t *testing.T) {
	s := arbitrage.Scanner{GasCostUSD: 0.005, MinProfitPct: 0.5}
	for yb := 0.01; yb < 0.99; yb += 0.07 {
		for nb := 0.01; nb < 0.99; nb += 0.07 {
			for _, spread := range []float64{0.01, 0.05, 0.2} {
				ya, na := yb+spread, nb+spread
				if ya+na < 1 || yb+nb > 1 {
					continue
				}
				yes := domain.BookSummary{BestBid: yb, BestAsk: ya, BidDepth5: 1000, AskDepth5: 1000}
				no := domain.BookSummary{BestBid: nb, BestAsk: na, BidDepth5: 1000, AskDepth5: 1000}
				_, ok := s.Scan(testMarket(), yes, no)
				assert.False(t, ok)
			}
		}
	}
}

func TestScan_RejectsThinOrInvalidBooks(t *testing.T) {
	s := arbitrage.Scanner{GasCostUSD: 0.005, MinProfitPct: 0.5}
	thin := domain.BookSummary{BestBid: 0.40, BestAsk: 0.45, AskDepth5: 1}
	_, ok := s.Scan(testMarket(), thin, thin)
	assert.False(t, ok)

	noBid := domain.BookSummary{BestBid: 0, BestAsk: 0.45, AskDepth5: 100}
	_, ok = s.Scan(testMarket(), noBid, noBid)
	assert.False(t, ok)

	// gas alto se come el beneficio
	expensive := arbitrage.Scanner{GasCostUSD: 100, MinProfitPct: 0.5}
	yes := domain.BookSummary{BestBid: 0.40, BestAsk: 0.45, AskDepth5: 50}
	no := domain.BookSummary{BestBid: 0.44, BestAsk: 0.48, AskDepth5: 50}
	_, ok = expensive.Scan(testMarket(), yes, no)
	assert.False(t, ok)
}

// --- Executor ---

type fakeExchange struct {
	mu        sync.Mutex
	placeErr  map[string]error
	execs     map[string]domain.OrderExecution
	placed    []domain.PlaceOrderRequest
	cancelled []string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{placeErr: map[string]error{}, execs: map[string]domain.OrderExecution{}}
}

func (f *fakeExchange) BookSummary(context.Context, string) (domain.BookSummary, error) {
	return domain.BookSummary{}, domain.ErrNoBook
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if err := f.placeErr[req.TokenID]; err != nil {
		return domain.PlacedOrder{}, err
	}
	return domain.PlacedOrder{OrderID: "ord-" + req.TokenID, Price: req.Price}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeExchange) CancelAll(context.Context) error { return nil }

func (f *fakeExchange) OrderStatus(_ context.Context, id string) (domain.OrderExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[id], nil
}

func (f *fakeExchange) OpenOrders(context.Context) ([]domain.OpenOrder, error) { return nil, nil }
func (f *fakeExchange) Balance(context.Context) (float64, error)               { return 100, nil }

type fakeCollateral struct {
	splitOK, mergeOK bool
	merged, split    float64
}

func (c *fakeCollateral) Split(_ context.Context, cond string, amount float64, _ bool) (domain.CollateralResult, error) {
	if !c.splitOK {
		return domain.CollateralResult{Op: domain.CollateralSplit, Error: "reverted"}, nil
	}
	c.split = amount
	return domain.CollateralResult{Op: domain.CollateralSplit, ConditionID: cond, Amount: amount, Success: true}, nil
}

func (c *fakeCollateral) Merge(_ context.Context, cond string, amount float64, _ bool) (domain.CollateralResult, error) {
	if !c.mergeOK {
		return domain.CollateralResult{}, errors.New("rpc down")
	}
	c.merged = amount
	return domain.CollateralResult{Op: domain.CollateralMerge, ConditionID: cond, Amount: amount, Success: true}, nil
}

func buyMergeOpp() domain.ArbOpportunity {
	return domain.ArbOpportunity{
		MarketID: "0xcond", ConditionID: "0xcond", YesTokenID: "yes", NoTokenID: "no",
		Type: domain.ArbBuyMerge, YesPrice: 0.45, NoPrice: 0.48, MaxSize: 100,
	}
}

func newExecutor(ex *fakeExchange, col *fakeCollateral) (*arbitrage.Executor, *inventory.Ledger) {
	l := inventory.NewLedger()
	l.Register("0xcond", "yes", "no")
	return arbitrage.NewExecutor(ex, col, l, 20, 0.005, 0), l
}

func TestBuyMerge_SuccessUsesActualFillPrices(t *testing.T) {
	ex := newFakeExchange()
	ex.execs["ord-yes"] = domain.OrderExecution{SizeMatched: 20, AvgFillPrice: 0.44, Filled: true}
	ex.execs["ord-no"] = domain.OrderExecution{SizeMatched: 20, Filled: true}
	col := &fakeCollateral{mergeOK: true}
	exec, ledger := newExecutor(ex, col)

	res, err := exec.Execute(context.Background(), buyMergeOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ArbSuccess, res.Status)
	assert.InDelta(t, 20.0, res.Merged, 1e-9)
	assert.InDelta(t, (1-0.44-0.48)*20, res.ProfitUSD, 1e-4)
	assert.InDelta(t, 20.0, col.merged, 1e-9)

	require.Len(t, ex.placed, 2)
	assert.InDelta(t, 20.0, ex.placed[0].Size, 1e-9, "capped at max size")
	assert.False(t, ex.placed[0].PostOnly)

	m := ledger.Market("0xcond")
	assert.Equal(t, 0.0, m.Yes.Net)
	assert.Equal(t, 0.0, m.No.Net)
}

func TestBuyMerge_NoLegFailsCancelsYes(t *testing.T) {
	ex := newFakeExchange()
	ex.placeErr["no"] = &domain.OrderRejection{Reason: domain.RejectInsufficientBalance}
	exec, _ := newExecutor(ex, &fakeCollateral{mergeOK: true})

	res, err := exec.Execute(context.Background(), buyMergeOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ArbNoBuyFailed, res.Status)
	assert.Equal(t, []string{"ord-yes"}, ex.cancelled)
}

func TestBuyMerge_YesLegFails(t *testing.T) {
	ex := newFakeExchange()
	ex.placeErr["yes"] = errors.New("boom")
	exec, _ := newExecutor(ex, &fakeCollateral{mergeOK: true})

	res, err := exec.Execute(context.Background(), buyMergeOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ArbYesBuyFailed, res.Status)
	assert.Equal(t, []string{"ord-no"}, ex.cancelled)
}

func TestBuyMerge_InsufficientFillsRecordsPartials(t *testing.T) {
	ex := newFakeExchange()
	ex.execs["ord-yes"] = domain.OrderExecution{SizeMatched: 3}
	ex.execs["ord-no"] = domain.OrderExecution{SizeMatched: 20, Filled: true}
	exec, ledger := newExecutor(ex, &fakeCollateral{mergeOK: true})

	res, err := exec.Execute(context.Background(), buyMergeOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ArbInsufficientFills, res.Status)
	assert.Equal(t, []string{"ord-yes"}, ex.cancelled, "only the unfilled leg is cancelled")

	m := ledger.Market("0xcond")
	assert.InDelta(t, 3.0, m.Yes.Net, 1e-9)
	assert.InDelta(t, 20.0, m.No.Net, 1e-9)
}

func TestBuyMerge_MergeFailedKeepsTokens(t *testing.T) {
	ex := newFakeExchange()
	ex.execs["ord-yes"] = domain.OrderExecution{SizeMatched: 20, Filled: true}
	ex.execs["ord-no"] = domain.OrderExecution{SizeMatched: 20, Filled: true}
	exec, ledger := newExecutor(ex, &fakeCollateral{mergeOK: false})

	res, err := exec.Execute(context.Background(), buyMergeOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ArbMergeFailed, res.Status)
	assert.Contains(t, res.Err, "rpc down")

	m := ledger.Market("0xcond")
	assert.InDelta(t, 20.0, m.Yes.Net, 1e-9)
	assert.InDelta(t, 20.0, m.No.Net, 1e-9)
}

func splitSellOpp() domain.ArbOpportunity {
	return domain.ArbOpportunity{
		MarketID: "0xcond", ConditionID: "0xcond", YesTokenID: "yes", NoTokenID: "no",
		Type: domain.ArbSplitSell, YesPrice: 0.55, NoPrice: 0.48, MaxSize: 10,
	}
}

func TestSplitSell_SplitFailedPlacesNothing(t *testing.T) {
	ex := newFakeExchange()
	exec, _ := newExecutor(ex, &fakeCollateral{splitOK: false})

	res, err := exec.Execute(context.Background(), splitSellOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ArbSplitFailed, res.Status)
	assert.Empty(t, ex.placed)
}

func TestSplitSell_Success(t *testing.T) {
	ex := newFakeExchange()
	ex.execs["ord-yes"] = domain.OrderExecution{SizeMatched: 10, AvgFillPrice: 0.56}
	ex.execs["ord-no"] = domain.OrderExecution{SizeMatched: 9.5}
	col := &fakeCollateral{splitOK: true}
	exec, ledger := newExecutor(ex, col)

	res, err := exec.Execute(context.Background(), splitSellOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ArbSuccess, res.Status)
	assert.InDelta(t, 10.0, col.split, 1e-9)
	assert.InDelta(t, 10*0.56+9.5*0.48-10, res.ProfitUSD, 1e-4)

	m := ledger.Market("0xcond")
	assert.InDelta(t, 0.0, m.Yes.Net, 1e-9)
	assert.InDelta(t, 0.5, m.No.Net, 1e-9)
}

func TestSplitSell_PartialFills(t *testing.T) {
	ex := newFakeExchange()
	ex.execs["ord-yes"] = domain.OrderExecution{SizeMatched: 10}
	ex.execs["ord-no"] = domain.OrderExecution{SizeMatched: 4}
	exec, ledger := newExecutor(ex, &fakeCollateral{splitOK: true})

	res, err := exec.Execute(context.Background(), splitSellOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ArbPartialFills, res.Status)
	assert.InDelta(t, 6.0, ledger.Market("0xcond").No.Net, 1e-9, "unsold NO stays as inventory")
}
