package mm

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// mergePass convierte pares YES+NO de vuelta a USDC en los mercados del universo.
func (e *Engine) mergePass(ctx context.Context) {
	for _, id := range e.current {
		amount := math.Floor(e.ledger.MergeableAmount(id)*10) / 10
		if amount < e.cfg.MergeThreshold {
			continue
		}
		m := e.markets[id]
		res, err := e.collateral.Merge(ctx, m.ConditionID, amount, m.NegRisk)
		e.saveCollateral(ctx, res)
		if err != nil || !res.Success {
			slog.Warn("mm: merge failed", "market", domain.ShortID(id), "amount", amount, "err", firstErr(err, res.Error))
			continue
		}
		if err := e.ledger.ProcessMerge(id, amount); err != nil {
			slog.Error("mm: merge ledger", "market", domain.ShortID(id), "err", err)
			continue
		}
		e.persistInventory(ctx, id)
		slog.Info("mm: merged", "market", domain.ShortID(id), "amount", amount,
			"gas", fmt.Sprintf("$%.4f", res.GasCostUSD))
	}
}

// arbPass busca complete-sets mal valorados en el universo y ejecuta los que
// superan el umbral. Un arb exitoso queda registrado como fill ARB.
func (e *Engine) arbPass(ctx context.Context, markets []domain.Market, cs *cycleState) {
	for _, m := range markets {
		id := m.ID()
		if cs.signals.Killed(id) {
			continue
		}
		if blocked, _ := e.cooldowns.Blocked(id, cs.now); blocked {
			continue
		}
		yes, err := e.exchange.BookSummary(ctx, m.YesToken().TokenID)
		if err != nil {
			continue
		}
		no, err := e.exchange.BookSummary(ctx, m.NoToken().TokenID)
		if err != nil {
			continue
		}
		opp, ok := e.arbScan.Scan(m, yes, no)
		if !ok {
			continue
		}
		opp.DetectedAt = cs.now

		res, err := e.arbExec.Execute(ctx, opp)
		if err != nil {
			slog.Warn("mm: arb execution", "market", domain.ShortID(id), "err", err)
		}
		if res.ID == "" {
			continue
		}
		if err := e.store.SaveArbResult(ctx, res); err != nil {
			slog.Warn("mm: save arb result", "market", domain.ShortID(id), "err", err)
		}
		e.persistInventory(ctx, id)

		if !res.Success() {
			continue
		}
		size := res.Merged
		if opp.Type == domain.ArbSplitSell {
			size = math.Min(res.YesFilled, res.NoFilled)
		}
		fill := domain.Fill{
			MarketID:  id,
			TokenID:   opp.YesTokenID,
			OrderID:   res.ID,
			Side:      domain.SideArb,
			Price:     res.YesFillPrice + res.NoFillPrice,
			Size:      size,
			Fee:       res.GasUSD,
			MidAtFill: 1.0,
			FilledAt:  cs.now,
		}
		if _, err := e.store.InsertFill(ctx, fill); err != nil {
			slog.Warn("mm: insert arb fill", "market", domain.ShortID(id), "err", err)
		}
	}
}

// adverseFeedback ajusta γ base del modelo AS con el adverse selection rolling:
// por encima del umbral se ensancha, por debajo vuelve al valor configurado.
func (e *Engine) adverseFeedback(ctx context.Context) {
	as, err := e.adverse.RollingAdverse(ctx)
	if err != nil {
		slog.Warn("mm: rolling adverse selection", "err", err)
		return
	}
	base := e.cfg.AS.GammaBase
	gamma := base
	if thr := e.cfg.ASFeedbackThresholdBps; as > thr {
		gamma = base * (1 + (as-thr)/200)
	}
	if gamma != e.as.Params.GammaBase {
		slog.Info("mm: AS gamma adjusted", "adverse_bps", fmt.Sprintf("%.1f", as),
			"gamma", fmt.Sprintf("%.4f -> %.4f", e.as.Params.GammaBase, gamma))
		e.as.Params.GammaBase = gamma
	}
}
