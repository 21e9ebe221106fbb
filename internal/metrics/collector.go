package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

const (
	sampleShort = 30 * time.Second
	sampleLong  = 120 * time.Second
	sharpeDays  = 7
)

// Store es la parte de persistencia que usa el collector.
type Store interface {
	ports.FillStore
	ports.QuoteStore
	ports.InventoryStore
	ports.MetricsStore
}

// BalanceSource expone el balance on-chain de USDC.
type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}

// Collector mide adverse selection y agrega las métricas diarias.
type Collector struct {
	store         Store
	books         ports.BookSource
	balance       BalanceSource
	pendingWindow time.Duration
	rolling       int
	now           func() time.Time
}

// NewCollector crea un collector. pendingWindow es la antigüedad máxima de los
// fills a medir y rolling el número de fills del adverse selection rolling.
func NewCollector(store Store, books ports.BookSource, balance BalanceSource, pendingWindow time.Duration, rolling int) *Collector {
	return &Collector{
		store:         store,
		books:         books,
		balance:       balance,
		pendingWindow: pendingWindow,
		rolling:       rolling,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock reemplaza el reloj; se usa en tests.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// MeasureAdverseSelection samplea el mid de los fills pendientes a T+30s y
// T+120s. La muestra de 120s solo se toma después de la de 30s y calcula el
// adverse selection contra el mid al momento del fill.
func (c *Collector) MeasureAdverseSelection(ctx context.Context) (short, long int, err error) {
	now := c.now()
	pending, err := c.store.PendingFills(ctx, now.Add(-c.pendingWindow))
	if err != nil {
		return 0, 0, fmt.Errorf("metrics.MeasureAdverseSelection: pending fills: %w", err)
	}

	for _, f := range pending {
		if f.Side == domain.SideArb || f.TokenID == "" {
			continue
		}
		age := now.Sub(f.FilledAt)
		if age < sampleShort {
			continue
		}

		mid, ok := c.mid(ctx, f.TokenID)
		if !ok {
			continue
		}

		if f.MidAt30s == nil {
			if err := c.store.UpdateFillMid30(ctx, f.ID, mid); err != nil {
				slog.Warn("adverse selection: update 30s", "fill", f.ID, "err", err)
				continue
			}
			short++
			// la muestra de 120s espera al siguiente pase
			continue
		}

		if f.MidAt120s == nil && age >= sampleLong {
			ref := f.MidAtFill
			if ref <= 0 {
				ref = f.Price
			}
			as := AdverseSelection(ref, mid, f.Side)
			if err := c.store.UpdateFillMid120(ctx, f.ID, mid, as); err != nil {
				slog.Warn("adverse selection: update 120s", "fill", f.ID, "err", err)
				continue
			}
			long++
		}
	}

	if short > 0 || long > 0 {
		slog.Info("adverse selection measured", "t30", short, "t120", long)
	}
	return short, long, nil
}

// ComputeDaily agrega los fills del día UTC en curso y hace upsert de la fila.
// Sin fills devuelve un resultado vacío y no escribe nada. Un fallo al
// persistir se loguea pero el resultado se devuelve igual.
func (c *Collector) ComputeDaily(ctx context.Context) (domain.DailyMetrics, error) {
	now := c.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	fills, err := c.store.FillsBetween(ctx, midnight, now)
	if err != nil {
		return domain.DailyMetrics{}, fmt.Errorf("metrics.ComputeDaily: fills: %w", err)
	}
	if len(fills) == 0 {
		return domain.DailyMetrics{}, nil
	}

	pnl := ComputePnL(fills)

	var fqSum, asSum float64
	var fqN, asN int
	quoteIDs := make([]int64, 0, len(fills))
	for _, f := range fills {
		if f.Side != domain.SideArb && f.MidAtFill > 0 {
			fqSum += FillQuality(f.Price, f.MidAtFill, f.Side)
			fqN++
		}
		if f.AdverseBps != nil {
			asSum += *f.AdverseBps
			asN++
		}
		if f.QuoteID != 0 {
			quoteIDs = append(quoteIDs, f.QuoteID)
		}
	}

	var scr float64
	if len(quoteIDs) > 0 {
		quotes, err := c.store.QuotesByID(ctx, quoteIDs)
		if err != nil {
			slog.Warn("daily metrics: quotes", "err", err)
		} else {
			scr = SpreadCapture(fills, quotes)
		}
	}

	var maxInv, exposure float64
	rows, err := c.store.Inventory(ctx)
	if err != nil {
		slog.Warn("daily metrics: inventory", "err", err)
	}
	for _, r := range rows {
		maxInv = math.Max(maxInv, math.Abs(r.NetPosition))
		exposure += math.Abs(r.NetPosition) * r.AvgEntryPrice
	}
	avgInv := 1.0
	if maxInv > 0 {
		avgInv = maxInv / 2
	}
	hours := math.Max(now.Sub(midnight).Hours(), 0.1)

	m := domain.DailyMetrics{
		Date:              midnight.Format("2006-01-02"),
		FillsCount:        len(fills),
		SpreadCaptureRate: round(scr, 4),
		PnLGross:          round(pnl.Gross, 6),
		PnLNet:            round(pnl.Net, 6),
		MaxInventory:      maxInv,
		InventoryTurns:    round(TurnRate(len(fills), avgInv, hours), 2),
		ProfitFactor:      round(ProfitFactor(fills), 2),
		Sharpe7d:          round(c.rollingSharpe(ctx, now), 2),
		PortfolioValue:    c.portfolioValue(ctx, exposure),
		UpdatedAt:         now,
	}
	if fqN > 0 {
		m.FillQualityAvgBps = round(fqSum/float64(fqN), 2)
	}
	if asN > 0 {
		m.AdverseSelectionBps = round(asSum/float64(asN), 2)
	}

	if err := c.store.UpsertDailyMetrics(ctx, m); err != nil {
		slog.Warn("daily metrics: persist", "date", m.Date, "err", err)
	}
	return m, nil
}

// RollingAdverse devuelve el adverse selection medio de los últimos fills medidos.
func (c *Collector) RollingAdverse(ctx context.Context) (float64, error) {
	vals, err := c.store.RecentAdverse(ctx, c.rolling)
	if err != nil {
		return 0, fmt.Errorf("metrics.RollingAdverse: %w", err)
	}
	if len(vals) == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals)), nil
}

// rollingSharpe usa retornos porcentuales (pnl_net / portfolio_value) de los
// últimos días; sin portfolio cae al PnL absoluto.
func (c *Collector) rollingSharpe(ctx context.Context, now time.Time) float64 {
	from := now.AddDate(0, 0, -sharpeDays).Format("2006-01-02")
	days, err := c.store.DailyMetricsSince(ctx, from)
	if err != nil {
		slog.Debug("daily metrics: sharpe history", "err", err)
		return 0
	}
	returns := make([]float64, 0, len(days))
	for _, d := range days {
		if d.PortfolioValue > 0 {
			returns = append(returns, d.PnLNet/d.PortfolioValue)
		} else {
			returns = append(returns, d.PnLNet)
		}
	}
	return Sharpe(returns)
}

func (c *Collector) portfolioValue(ctx context.Context, exposure float64) float64 {
	if c.balance == nil {
		return 0
	}
	bal, err := c.balance.Balance(ctx)
	if err != nil {
		slog.Debug("daily metrics: balance", "err", err)
		return 0
	}
	return bal + exposure
}

func (c *Collector) mid(ctx context.Context, tokenID string) (float64, bool) {
	sum, err := c.books.BookSummary(ctx, tokenID)
	if err != nil {
		slog.Debug("adverse selection: book", "token", domain.ShortID(tokenID), "err", err)
		return 0, false
	}
	if !sum.HasMid || sum.Mid <= 0 {
		return 0, false
	}
	return sum.Mid, true
}
