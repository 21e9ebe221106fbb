package mm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/pricing"
	"github.com/alejandrodnm/polymm/internal/risk"
)

// cycleState es el contexto de un ciclo: señales, límites efectivos y capital.
type cycleState struct {
	now        time.Time
	diag       bool
	signals    domain.Signals
	maxMarkets int
	quoteSize  float64

	balance      float64
	free         float64
	committed    float64 // USDC comprometido en este ciclo (bids nuevos + splits)
	maxPerMarket float64
}

// available devuelve el capital libre que queda en el ciclo.
func (cs *cycleState) available() float64 {
	return cs.free - cs.committed
}

// RunCycle executes one quoting cycle. Orchestrates: signals → universe →
// fills → evictions → capital → quoting → merge → arbitrage → feedback →
// reconcile → status.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.cycle++
	cs := &cycleState{now: e.now()}
	cs.diag = e.cycle <= 3 || e.cycle%100 == 1

	// 1. Señales externas
	sig, err := e.store.Signals(ctx)
	if err != nil {
		slog.Warn("mm: read signals", "err", err)
	}
	cs.signals = sig
	if sig.KillSwitch && len(e.pairs) > 0 {
		slog.Warn("mm: kill switch active, cancelling all quotes", "pairs", len(e.pairs))
		if err := e.cancelEverything(ctx, domain.QuoteKilled); err != nil {
			slog.Error("mm: cancel all", "err", err)
		}
	}
	e.gate.SetPaused(sig.Paused || sig.KillSwitch)
	if e.gate.Paused() {
		if cs.diag {
			slog.Info("mm: paused, skipping cycle", "cycle", e.cycle, "kill_switch", sig.KillSwitch)
		}
		e.publish(ctx, cs)
		return nil
	}
	cs.maxMarkets, cs.quoteSize = risk.Effective(e.cfg.MaxMarkets, e.cfg.QuoteSizeUSD, sig.ReduceMode)

	// 2. Fills antes que cualquier colocación, aunque el universo falle
	e.reconcileFills(ctx, cs.now)

	// 3. Universo
	markets, err := e.universe.Markets(ctx)
	if err != nil {
		return fmt.Errorf("mm.RunCycle: universe: %w", err)
	}
	if len(markets) > cs.maxMarkets {
		markets = markets[:cs.maxMarkets]
	}
	e.setUniverse(markets)

	// 4. Desalojo: mercados fuera del universo o en la kill list
	e.evict(ctx, sig)

	// 5. Capital
	if !e.computeCapital(ctx, cs) {
		e.publish(ctx, cs)
		return nil
	}
	if cs.diag {
		slog.Info("mm: cycle start",
			"cycle", e.cycle,
			"markets", len(markets),
			"pairs", len(e.pairs),
			"balance", fmt.Sprintf("$%.2f", cs.balance),
			"free", fmt.Sprintf("$%.2f", cs.free),
			"max_per_market", fmt.Sprintf("$%.2f", cs.maxPerMarket),
			"model", e.model.Name(),
		)
	}

	// 6. Quoting
	for _, m := range markets {
		e.quoteMarket(ctx, m, cs)
	}

	// 7. Merge de pares YES+NO
	if e.cfg.SplitMerge && e.collateral != nil && e.cycle%int64(e.cfg.MergeEvery) == 0 {
		e.mergePass(ctx)
	}

	// 8. Arbitraje
	if e.cfg.Arb.Enabled && e.arbExec != nil && e.cycle%int64(e.cfg.Arb.Every) == 0 {
		e.arbPass(ctx, markets, cs)
	}

	// 9. Feedback de adverse selection sobre γ
	if e.as != nil && e.cfg.ASFeedback && e.adverse != nil && e.cycle%int64(e.cfg.ASFeedbackEvery) == 0 {
		e.adverseFeedback(ctx)
	}

	// 10. Reconciliación periódica
	if e.cycle%int64(e.cfg.ReconcileEvery) == 0 {
		e.periodicReconcile(ctx)
	}

	e.publish(ctx, cs)
	return nil
}

// setUniverse registra los mercados del ciclo en el ledger.
func (e *Engine) setUniverse(markets []domain.Market) {
	e.current = e.current[:0]
	for _, m := range markets {
		id := m.ID()
		e.markets[id] = m
		e.current = append(e.current, id)
		e.ledger.Register(id, m.YesToken().TokenID, m.NoToken().TokenID)
	}
}

func (e *Engine) inUniverse(marketID string) bool {
	for _, id := range e.current {
		if id == marketID {
			return true
		}
	}
	return false
}

// evict cancela los pares de mercados que salieron del universo o que la
// guardia mandó desalojar.
func (e *Engine) evict(ctx context.Context, sig domain.Signals) {
	for _, id := range e.pairIDs() {
		pair := e.pairs[id]
		switch {
		case sig.Killed(id):
			e.cancelPair(ctx, pair)
			e.setQuoteStatus(ctx, pair, domain.QuoteKilled)
			delete(e.pairs, id)
			slog.Warn("mm: evicted killed market", "market", domain.ShortID(id))
		case !e.inUniverse(id):
			e.cancelPair(ctx, pair)
			e.setQuoteStatus(ctx, pair, domain.QuoteCancelled)
			delete(e.pairs, id)
			e.forget(id)
			slog.Info("mm: market left universe, quotes cancelled", "market", domain.ShortID(id))
		}
	}
}

// forget descarta el estado de pricing y cooldowns de un mercado.
func (e *Engine) forget(marketID string) {
	e.cooldowns.Forget(marketID)
	e.vol.Reset(marketID)
	e.stale.Reset(marketID)
	e.kappa.Reset(marketID)
}

// quoteMarket computes the desired quote for one market and reconciles it
// against the pair in the book.
func (e *Engine) quoteMarket(ctx context.Context, m domain.Market, cs *cycleState) {
	id := m.ID()
	if cs.signals.Killed(id) {
		return
	}
	if blocked, reason := e.cooldowns.Blocked(id, cs.now); blocked {
		if cs.diag {
			slog.Info("mm: market blocked", "market", domain.ShortID(id), "reason", reason)
		}
		return
	}

	sum, err := e.exchange.BookSummary(ctx, m.YesToken().TokenID)
	if err != nil {
		slog.Debug("mm: book unavailable", "market", domain.ShortID(id), "err", err)
		return
	}
	if !sum.TwoSided() {
		if cs.diag {
			slog.Info("mm: book not two-sided, skipping", "market", domain.ShortID(id),
				"best_bid", sum.BestBid, "best_ask", sum.BestAsk)
		}
		return
	}
	mid, ok := sum.WeightedMid()
	if !ok {
		return
	}
	if mid < minQuoteMid || mid > maxQuoteMid {
		return
	}

	e.stale.Update(id, mid, cs.now)
	vol := e.vol.Update(id, mid)
	if vol <= 0 {
		vol = pricing.VolProxy(sum.Spread * 100)
	}

	inv := e.ledger.Market(id)
	maxInventory := 100.0
	if mid > 0 {
		maxInventory = cs.maxPerMarket / mid
	}
	q, ok := e.model.Quote(pricing.Inputs{
		Mid:              mid,
		VolPts:           vol,
		Imbalance:        sum.Imbalance,
		Staleness:        e.stale.Staleness(id, cs.now),
		Urgency:          e.ledger.UnwindUrgency(id, cs.maxPerMarket, mid),
		SkewRatio:        e.ledger.SkewDirection(id, cs.maxPerMarket),
		Position:         inv.Yes.Net,
		MaxPosition:      maxInventory,
		AvgEntry:         inv.Yes.AvgEntry,
		Kappa:            e.kappa.Kappa(id, cs.now),
		DaysToResolution: m.DaysToResolution(),
	})
	if !ok {
		slog.Debug("mm: model declined to quote", "market", domain.ShortID(id), "mid", mid)
		return
	}
	if err := e.gate.ValidateQuote(q.Bid, q.Ask, mid); err != nil {
		if cs.diag {
			slog.Warn("mm: quote rejected by risk", "market", domain.ShortID(id), "err", err)
		}
		return
	}

	bid, ask := q.Bid, q.Ask
	if e.cfg.PostOnly {
		bid, ask, ok = pricing.SanitizePostOnly(bid, ask, sum.BestBid, sum.BestAsk)
		if !ok {
			return
		}
	}

	minShares := domain.DefaultMinOrderSize
	if sum.MinOrderSize > minShares {
		minShares = sum.MinOrderSize
	}
	if m.MinOrderSize > minShares {
		minShares = m.MinOrderSize
	}

	it := e.size(ctx, m, quoteIntent{bid: bid, ask: ask, mid: mid}, minShares, cs)
	if !it.placeBid && !it.placeAsk {
		if cs.diag {
			slog.Info("mm: no sides to quote", "market", domain.ShortID(id),
				"yes", inv.Yes.Net, "min_shares", minShares)
		}
		return
	}
	e.maintainPair(ctx, m, it, cs)
}

// maintainPair coloca, conserva o re-cotiza el par del mercado.
func (e *Engine) maintainPair(ctx context.Context, m domain.Market, it quoteIntent, cs *cycleState) {
	id := m.ID()
	existing := e.pairs[id]

	// zombie: ninguna pata abierta pero tampoco terminal (UNKNOWN)
	if existing != nil && !existing.IsActive() && !existing.IsTerminal() {
		e.cancelPair(ctx, existing)
		e.setQuoteStatus(ctx, existing, domain.QuoteCancelled)
		delete(e.pairs, id)
		existing = nil
	}

	if existing == nil {
		pair, err := e.placePair(ctx, m, it, cs.now)
		if err != nil {
			e.cooldowns.Record(id, outcomeOf(err), cs.now)
			slog.Warn("mm: quote failed", "market", domain.ShortID(id), "reason", domain.RejectionReason(err), "err", err)
			return
		}
		e.adopt(ctx, pair, cs)
		slog.Info("mm: quote placed", "market", domain.ShortID(id),
			"bid", fmt.Sprintf("%.2fx%.1f", it.bid, it.bidShares),
			"ask", fmt.Sprintf("%.2fx%.1f", it.ask, it.askShares))
		return
	}

	hasBid, hasAsk := existing.Sides()
	sidesDiffer := hasBid != it.placeBid || hasAsk != it.placeAsk
	moved := existing.Age(cs.now) >= e.cfg.MinQuoteLifetime &&
		pricing.ShouldRequote(it.mid, existing.QuotedMid, e.cfg.RequoteThreshold)
	if !moved && !sidesDiffer {
		return
	}

	var pair *domain.QuotePair
	var err error
	if e.cfg.HangingOrders {
		pair, err = e.requoteHanging(ctx, existing, m, it, cs.now)
	} else {
		pair, err = e.requote(ctx, existing, m, it, cs.now)
	}
	if errors.Is(err, errCancelFailed) {
		slog.Warn("mm: requote skipped", "market", domain.ShortID(id), "err", err)
		return
	}
	if err != nil {
		e.cooldowns.Record(id, outcomeOf(err), cs.now)
		e.setQuoteStatus(ctx, existing, domain.QuoteCancelled)
		delete(e.pairs, id)
		slog.Warn("mm: requote failed", "market", domain.ShortID(id), "reason", domain.RejectionReason(err), "err", err)
		return
	}
	e.setQuoteStatus(ctx, existing, domain.QuoteReplaced)
	e.adopt(ctx, pair, cs)
	slog.Info("mm: requoted", "market", domain.ShortID(id),
		"mid", fmt.Sprintf("%.3f -> %.3f", existing.QuotedMid, it.mid),
		"bid", fmt.Sprintf("%.2f", pair.Bid.Price), "ask", fmt.Sprintf("%.2f", pair.Ask.Price))
}

// adopt persiste el par nuevo y reserva su capital en el ciclo.
func (e *Engine) adopt(ctx context.Context, pair *domain.QuotePair, cs *cycleState) {
	e.insertQuote(ctx, pair)
	e.pairs[pair.MarketID] = pair
	e.cooldowns.Record(pair.MarketID, risk.OutcomePlaced, cs.now)
	cs.committed += pair.LockedCapital()
}
