package mm

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/pricing"
)

// computeCapital lee el balance una vez por ciclo y reparte el capital libre
// entre los slots de mercado restantes. Devuelve false si no se puede cotizar.
func (e *Engine) computeCapital(ctx context.Context, cs *cycleState) bool {
	balance, err := e.exchange.Balance(ctx)
	if err != nil {
		slog.Warn("mm: balance unavailable, skipping cycle", "err", err)
		return false
	}

	locked := 0.0
	for _, p := range e.pairs {
		locked += p.LockedCapital()
	}
	cs.balance = balance
	cs.free = math.Max(0, balance-locked)

	slots := cs.maxMarkets - len(e.pairs)
	if slots < 1 {
		slots = 1
	}
	cs.maxPerMarket = cs.free / float64(slots)

	if ok, pct := e.gate.ExposureWithinLimit(balance, e.ledger.TotalExposure()); !ok {
		if cs.diag {
			slog.Warn("mm: global exposure over limit, skipping quoting", "exposure_pct", pct)
		}
		return false
	}
	if cs.free < cs.quoteSize {
		if cs.diag {
			slog.Warn("mm: free capital too low to quote",
				"free", fmt.Sprintf("$%.2f", cs.free),
				"balance", fmt.Sprintf("$%.2f", balance),
				"locked", fmt.Sprintf("$%.2f", locked))
		}
		return false
	}
	return true
}

// size decide qué lados cotizar y con cuántas shares. El bid compra YES con
// USDC; el ask vende YES del inventario, que se repone con un split si falta.
func (e *Engine) size(ctx context.Context, m domain.Market, it quoteIntent, minShares float64, cs *cycleState) quoteIntent {
	id := m.ID()
	net := e.ledger.Market(id).Yes.Net

	it.placeBid = !e.ledger.IsAtCapacity(id, cs.maxPerMarket, it.mid)
	it.placeAsk = net >= minShares

	if e.cfg.TwoSided && e.cfg.SplitMerge && e.collateral != nil && !it.placeAsk &&
		!e.splitFailed[id] && cs.available() >= e.cfg.SplitSizeUSD {
		if e.split(ctx, m, e.cfg.SplitSizeUSD) {
			cs.committed += e.cfg.SplitSizeUSD
			net = e.ledger.Market(id).Yes.Net
			it.placeAsk = net >= minShares
		}
	}

	if it.placeBid {
		usd := pricing.QuoteSize(cs.available(), cs.maxPerMarket, math.Abs(net)*it.mid, cs.maxPerMarket, cs.quoteSize)
		if usd > 0 && it.mid > 0 {
			it.bidShares = round1(usd / it.mid)
		}
		if it.bidShares < minShares {
			it.placeBid, it.bidShares = false, 0
		}
	}
	if it.placeAsk {
		it.askShares = round1(math.Min(net, cs.maxPerMarket/it.mid))
		if it.askShares < minShares {
			it.placeAsk, it.askShares = false, 0
		}
	}

	if it.placeBid && cs.committed+it.bidShares*it.bid > cs.free {
		it.placeBid, it.bidShares = false, 0
	}
	return it
}

// split convierte USDC en YES+NO para poder cotizar el ask. Un split fallido
// no se reintenta en ese mercado hasta reiniciar.
func (e *Engine) split(ctx context.Context, m domain.Market, amount float64) bool {
	id := m.ID()
	res, err := e.collateral.Split(ctx, m.ConditionID, amount, m.NegRisk)
	e.saveCollateral(ctx, res)
	if err != nil || !res.Success {
		e.splitFailed[id] = true
		slog.Warn("mm: split failed, market marked", "market", domain.ShortID(id), "amount", amount,
			"err", firstErr(err, res.Error))
		return false
	}
	if err := e.ledger.ProcessSplit(id, amount); err != nil {
		slog.Error("mm: split ledger", "market", domain.ShortID(id), "err", err)
		return false
	}
	e.persistInventory(ctx, id)
	slog.Info("mm: split", "market", domain.ShortID(id), "amount", amount, "tx", res.TxHash)
	return true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func firstErr(err error, msg string) string {
	if err != nil {
		return err.Error()
	}
	return msg
}
