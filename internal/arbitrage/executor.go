package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

// splitSellFillRatio es la fracción mínima vendida por pata para dar el split-sell por bueno.
const splitSellFillRatio = 0.9

// Ledger es la parte del inventario que mueve un arbitraje.
type Ledger interface {
	ApplyFill(marketID, tokenID string, side domain.Side, price, size float64) (float64, error)
	ProcessSplit(marketID string, amount float64) error
	ProcessMerge(marketID string, amount float64) error
}

// Executor ejecuta oportunidades de dos patas.
type Executor struct {
	exchange   ports.Exchange
	collateral ports.Collateral
	ledger     Ledger
	maxSizeUSD float64
	gasCostUSD float64
	fillWait   time.Duration
}

// NewExecutor crea un executor. fillWait es la espera antes de consultar fills.
func NewExecutor(ex ports.Exchange, col ports.Collateral, ledger Ledger, maxSizeUSD, gasCostUSD float64, fillWait time.Duration) *Executor {
	return &Executor{
		exchange:   ex,
		collateral: col,
		ledger:     ledger,
		maxSizeUSD: maxSizeUSD,
		gasCostUSD: gasCostUSD,
		fillWait:   fillWait,
	}
}

// Execute runs opp capped at the configured size. Profit is always computed
// from what actually filled, at the executed prices.
func (e *Executor) Execute(ctx context.Context, opp domain.ArbOpportunity) (domain.ArbResult, error) {
	size := math.Min(opp.MaxSize, e.maxSizeUSD)
	res := domain.ArbResult{
		ID:          uuid.NewString(),
		Opportunity: opp,
		GasUSD:      e.gasCostUSD,
		ExecutedAt:  time.Now().UTC(),
	}
	switch opp.Type {
	case domain.ArbBuyMerge:
		return e.buyMerge(ctx, opp, round1(size), res)
	case domain.ArbSplitSell:
		return e.splitSell(ctx, opp, round1(size), res)
	}
	return res, fmt.Errorf("arbitrage.Execute: unknown type %q", opp.Type)
}

func (e *Executor) buyMerge(ctx context.Context, opp domain.ArbOpportunity, shares float64, res domain.ArbResult) (domain.ArbResult, error) {
	slog.Info("arb buy-merge",
		"market", domain.ShortID(opp.MarketID),
		"yes", opp.YesPrice, "no", opp.NoPrice,
		"shares", shares, "net_pct", fmt.Sprintf("%.2f", opp.NetProfitPct))

	var yes, no domain.PlacedOrder
	var yesErr, noErr error
	var g errgroup.Group
	g.Go(func() error {
		yes, yesErr = e.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
			TokenID: opp.YesTokenID, Price: opp.YesPrice, Size: shares, Side: domain.SideBuy, NegRisk: opp.NegRisk,
		})
		return nil
	})
	g.Go(func() error {
		no, noErr = e.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
			TokenID: opp.NoTokenID, Price: opp.NoPrice, Size: shares, Side: domain.SideBuy, NegRisk: opp.NegRisk,
		})
		return nil
	})
	_ = g.Wait()
	res.YesOrderID, res.NoOrderID = yes.OrderID, no.OrderID

	if yesErr != nil || res.YesOrderID == "" {
		e.cancel(ctx, res.NoOrderID)
		res.Status = domain.ArbYesBuyFailed
		res.Err = errString(yesErr)
		slog.Warn("arb yes buy failed", "market", domain.ShortID(opp.MarketID), "err", yesErr)
		return res, nil
	}
	if noErr != nil || res.NoOrderID == "" {
		e.cancel(ctx, res.YesOrderID)
		res.Status = domain.ArbNoBuyFailed
		res.Err = errString(noErr)
		slog.Warn("arb no buy failed, yes leg cancelled", "market", domain.ShortID(opp.MarketID), "err", noErr)
		return res, nil
	}

	if err := sleepCtx(ctx, e.fillWait); err != nil {
		return res, fmt.Errorf("arbitrage.buyMerge: wait fills: %w", err)
	}

	yesExec := e.status(ctx, res.YesOrderID)
	noExec := e.status(ctx, res.NoOrderID)
	res.YesFilled, res.NoFilled = yesExec.SizeMatched, noExec.SizeMatched
	res.YesFillPrice = yesExec.FillPrice(opp.YesPrice)
	res.NoFillPrice = noExec.FillPrice(opp.NoPrice)

	// lo ejecutado entra al inventario tal cual, pase lo que pase después
	e.credit(opp.MarketID, opp.YesTokenID, domain.SideBuy, res.YesFillPrice, res.YesFilled)
	e.credit(opp.MarketID, opp.NoTokenID, domain.SideBuy, res.NoFillPrice, res.NoFilled)

	mergeAmount := math.Min(res.YesFilled, res.NoFilled)
	if mergeAmount < domain.MinArbShares {
		if !yesExec.Filled {
			e.cancel(ctx, res.YesOrderID)
		}
		if !noExec.Filled {
			e.cancel(ctx, res.NoOrderID)
		}
		res.Status = domain.ArbInsufficientFills
		slog.Warn("arb insufficient fills", "market", domain.ShortID(opp.MarketID),
			"yes", res.YesFilled, "no", res.NoFilled)
		return res, nil
	}

	col, err := e.collateral.Merge(ctx, opp.ConditionID, mergeAmount, opp.NegRisk)
	if err != nil || !col.Success {
		res.Status = domain.ArbMergeFailed
		res.Err = firstNonEmpty(errString(err), col.Error)
		slog.Error("arb merge failed, tokens kept in inventory",
			"market", domain.ShortID(opp.MarketID), "amount", mergeAmount, "err", res.Err)
		return res, nil
	}
	if err := e.ledger.ProcessMerge(opp.MarketID, mergeAmount); err != nil {
		slog.Warn("arb merge ledger", "market", domain.ShortID(opp.MarketID), "err", err)
	}
	if col.GasCostUSD > 0 {
		res.GasUSD = col.GasCostUSD
	}
	res.Merged = mergeAmount
	res.ProfitUSD = math.Round((1-res.YesFillPrice-res.NoFillPrice)*mergeAmount*1e4) / 1e4
	res.Status = domain.ArbSuccess
	slog.Info("arb buy-merge success", "market", domain.ShortID(opp.MarketID),
		"merged", mergeAmount, "profit", res.ProfitUSD)
	return res, nil
}

func (e *Executor) splitSell(ctx context.Context, opp domain.ArbOpportunity, amount float64, res domain.ArbResult) (domain.ArbResult, error) {
	slog.Info("arb split-sell",
		"market", domain.ShortID(opp.MarketID),
		"yes", opp.YesPrice, "no", opp.NoPrice,
		"amount", amount, "net_pct", fmt.Sprintf("%.2f", opp.NetProfitPct))

	col, err := e.collateral.Split(ctx, opp.ConditionID, amount, opp.NegRisk)
	if err != nil || !col.Success {
		res.Status = domain.ArbSplitFailed
		res.Err = firstNonEmpty(errString(err), col.Error)
		slog.Warn("arb split failed", "market", domain.ShortID(opp.MarketID), "err", res.Err)
		return res, nil
	}
	if err := e.ledger.ProcessSplit(opp.MarketID, amount); err != nil {
		slog.Warn("arb split ledger", "market", domain.ShortID(opp.MarketID), "err", err)
	}
	res.Split = amount
	if col.GasCostUSD > 0 {
		res.GasUSD = col.GasCostUSD
	}

	var g errgroup.Group
	g.Go(func() error {
		placed, err := e.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
			TokenID: opp.YesTokenID, Price: opp.YesPrice, Size: amount, Side: domain.SideSell, NegRisk: opp.NegRisk,
		})
		if err != nil {
			slog.Warn("arb yes sell failed", "market", domain.ShortID(opp.MarketID), "err", err)
		}
		res.YesOrderID = placed.OrderID
		return nil
	})
	g.Go(func() error {
		placed, err := e.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
			TokenID: opp.NoTokenID, Price: opp.NoPrice, Size: amount, Side: domain.SideSell, NegRisk: opp.NegRisk,
		})
		if err != nil {
			slog.Warn("arb no sell failed", "market", domain.ShortID(opp.MarketID), "err", err)
		}
		res.NoOrderID = placed.OrderID
		return nil
	})
	_ = g.Wait()

	if err := sleepCtx(ctx, e.fillWait); err != nil {
		return res, fmt.Errorf("arbitrage.splitSell: wait fills: %w", err)
	}

	if res.YesOrderID != "" {
		exec := e.status(ctx, res.YesOrderID)
		res.YesFilled, res.YesFillPrice = exec.SizeMatched, exec.FillPrice(opp.YesPrice)
	}
	if res.NoOrderID != "" {
		exec := e.status(ctx, res.NoOrderID)
		res.NoFilled, res.NoFillPrice = exec.SizeMatched, exec.FillPrice(opp.NoPrice)
	}
	e.credit(opp.MarketID, opp.YesTokenID, domain.SideSell, res.YesFillPrice, res.YesFilled)
	e.credit(opp.MarketID, opp.NoTokenID, domain.SideSell, res.NoFillPrice, res.NoFilled)

	revenue := res.YesFilled*res.YesFillPrice + res.NoFilled*res.NoFillPrice
	res.ProfitUSD = math.Round((revenue-amount)*1e4) / 1e4

	if res.YesFilled >= amount*splitSellFillRatio && res.NoFilled >= amount*splitSellFillRatio {
		res.Status = domain.ArbSuccess
		slog.Info("arb split-sell success", "market", domain.ShortID(opp.MarketID),
			"yes_sold", res.YesFilled, "no_sold", res.NoFilled, "profit", res.ProfitUSD)
		return res, nil
	}
	res.Status = domain.ArbPartialFills
	slog.Warn("arb split-sell partial", "market", domain.ShortID(opp.MarketID),
		"yes_sold", res.YesFilled, "no_sold", res.NoFilled, "target", amount)
	return res, nil
}

func (e *Executor) status(ctx context.Context, orderID string) domain.OrderExecution {
	exec, err := e.exchange.OrderStatus(ctx, orderID)
	if err != nil {
		slog.Warn("arb order status", "order", domain.ShortID(orderID), "err", err)
		return domain.OrderExecution{OrderID: orderID, State: domain.OrderUnknown}
	}
	return exec
}

func (e *Executor) cancel(ctx context.Context, orderID string) {
	if orderID == "" {
		return
	}
	if err := e.exchange.CancelOrder(ctx, orderID); err != nil {
		slog.Warn("arb cancel", "order", domain.ShortID(orderID), "err", err)
	}
}

func (e *Executor) credit(marketID, tokenID string, side domain.Side, price, size float64) {
	if size <= 0 {
		return
	}
	if _, err := e.ledger.ApplyFill(marketID, tokenID, side, price, size); err != nil {
		slog.Warn("arb ledger fill", "market", domain.ShortID(marketID), "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
