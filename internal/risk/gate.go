// Package risk holds the quote sanity checks, per-market cooldowns and
// circuit breakers, and the portfolio-level gates of the market maker.
package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrPaused se devuelve cuando el trading está pausado por señal externa.
var ErrPaused = errors.New("trading paused")

// Limits son los límites de validación de quotes.
type Limits struct {
	DeltaMax       float64 // puntos
	MaxSpreadPts   float64
	MinSpreadPts   float64
	MinPrice       float64
	MaxPrice       float64
	MaxExposurePct float64
}

// Gate valida quotes antes de enviarlas al CLOB.
type Gate struct {
	limits Limits
	paused bool
}

// NewGate crea un gate con los límites dados.
func NewGate(limits Limits) *Gate {
	return &Gate{limits: limits}
}

// SetPaused refleja la señal externa de pausa.
func (g *Gate) SetPaused(paused bool) { g.paused = paused }

// Paused devuelve true si el trading está pausado.
func (g *Gate) Paused() bool { return g.paused }

// MaxSpreadPts es el spread máximo aceptado: min(2·delta_max + 1, max_spread_pts).
func (g *Gate) MaxSpreadPts() float64 {
	return math.Min(2*g.limits.DeltaMax+1, g.limits.MaxSpreadPts)
}

// ValidateQuote rejects a quote that is paused, inverted, out of the price
// band, too wide or too tight, or that places either side further than
// 2·delta_max points from mid.
func (g *Gate) ValidateQuote(bid, ask, mid float64) error {
	if g.paused {
		return ErrPaused
	}
	if bid >= ask {
		return fmt.Errorf("invalid quote: bid %.2f >= ask %.2f", bid, ask)
	}
	if bid < g.limits.MinPrice || ask > g.limits.MaxPrice {
		return fmt.Errorf("quote out of range: bid=%.2f ask=%.2f", bid, ask)
	}
	spread := math.Round((ask-bid)*100*100) / 100
	if maxSpread := g.MaxSpreadPts(); spread > maxSpread {
		return fmt.Errorf("spread too wide: %.1fpts > %.1fpts", spread, maxSpread)
	}
	bidDelta := math.Abs(mid-bid) * 100
	askDelta := math.Abs(ask-mid) * 100
	if hardCap := 2 * g.limits.DeltaMax; bidDelta > hardCap || askDelta > hardCap {
		return fmt.Errorf("delta too wide: bid_delta=%.1fpts ask_delta=%.1fpts hard_cap=%.1fpts",
			bidDelta, askDelta, hardCap)
	}
	if spread < g.limits.MinSpreadPts {
		return fmt.Errorf("spread too tight: %.1fpts < %.1fpts", spread, g.limits.MinSpreadPts)
	}
	return nil
}

// ExposureWithinLimit compares exposure against the whole portfolio
// (cash + positions). Returns the exposure percentage.
func (g *Gate) ExposureWithinLimit(balance, exposure float64) (bool, float64) {
	if balance <= 0 {
		return true, 0
	}
	portfolio := balance + exposure
	pct := 0.0
	if portfolio > 0 {
		pct = exposure / portfolio * 100
	}
	pct = math.Round(pct*10) / 10
	return pct <= g.limits.MaxExposurePct, pct
}

// Effective aplica reduce mode: mitad de mercados (mínimo 1) y mitad de tamaño.
func Effective(maxMarkets int, quoteSize float64, reduce bool) (int, float64) {
	if !reduce {
		return maxMarkets, quoteSize
	}
	markets := maxMarkets / 2
	if markets < 1 {
		markets = 1
	}
	return markets, quoteSize / 2
}
