package pricing

import (
	"math"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// maxHorizonDays normaliza los días a resolución: a 30 días T = 1.
const maxHorizonDays = 30.0

// ASParams parametriza el modelo Avellaneda-Stoikov.
type ASParams struct {
	GammaBase    float64 // aversión al riesgo base
	GammaAlpha   float64 // escalado de gamma con |q|
	Kappa        float64 // intensidad de llegada por defecto
	MinSpreadPts float64
	MaxSpreadPts float64
}

// DynamicGamma devuelve γ = γ_base·(1 + α·|q|).
func DynamicGamma(base, alpha, q float64) float64 {
	return base * (1 + alpha*math.Abs(q))
}

// ReservationPrice returns r = mid − q·γ·σ²·T with σ = vol/100.
// A long position lowers r so that sells fill first.
func ReservationPrice(mid, inventory, maxInventory, gamma, volPts, t float64) float64 {
	if maxInventory <= 0 {
		return mid
	}
	q := inventory / maxInventory
	sigma := volPts / 100
	return mid - q*gamma*sigma*sigma*t
}

// OptimalSpread returns s = γσ²T + (2/γ)·ln(1 + γ/κ), in price units.
func OptimalSpread(gamma, volPts, t, kappa float64) float64 {
	if gamma <= 0 || kappa <= 0 {
		return 0.02
	}
	sigma := volPts / 100
	return gamma*sigma*sigma*t + (2/gamma)*math.Log(1+gamma/kappa)
}

// TimeRemaining normaliza los días a resolución en (0, 1].
func TimeRemaining(days float64) float64 {
	if days <= 0 {
		return 0.01
	}
	return math.Min(days/maxHorizonDays, 1)
}

// ASQuote runs gamma → reservation → spread → bid/ask. With inventory, the
// quote that would close the position is held at least one tick beyond the
// average entry.
func ASQuote(mid, inventory, maxInventory, volPts, t, kappa, avgEntry float64, p ASParams) (bid, ask float64) {
	q := 0.0
	if maxInventory > 0 {
		q = inventory / maxInventory
	}
	gamma := DynamicGamma(p.GammaBase, p.GammaAlpha, q)
	r := ReservationPrice(mid, inventory, maxInventory, gamma, volPts, t)

	spreadPts := clamp(OptimalSpread(gamma, volPts, t, kappa)*100, p.MinSpreadPts, p.MaxSpreadPts)
	s := spreadPts / 100

	bid = r - s/2
	ask = r + s/2

	if avgEntry > 0 && inventory > 0 {
		ask = math.Max(ask, avgEntry+domain.TickSize)
	}
	if avgEntry > 0 && inventory < 0 {
		bid = math.Min(bid, avgEntry-domain.TickSize)
	}

	bid = domain.ClampPrice(bid)
	ask = domain.ClampPrice(ask)
	if bid >= ask {
		center := clamp((bid+ask)/2, domain.MinPrice+domain.TickSize, domain.MaxPrice-domain.TickSize)
		bid = domain.ClampPrice(center - domain.TickSize)
		ask = domain.ClampPrice(center + domain.TickSize)
	}
	return bid, ask
}

// ASModel implementa Model con Avellaneda-Stoikov. GammaBase puede ajustarse
// en caliente con el feedback de adverse selection.
type ASModel struct {
	Params ASParams
}

// Name implements Model.
func (*ASModel) Name() string { return EngineAS }

// Quote implements Model.
func (m *ASModel) Quote(in Inputs) (Quote, bool) {
	if !in.valid() {
		return Quote{}, false
	}
	kappa := in.Kappa
	if kappa <= 0 {
		kappa = m.Params.Kappa
	}
	bid, ask := ASQuote(in.Mid, in.Position, in.MaxPosition, in.VolPts,
		TimeRemaining(in.DaysToResolution), kappa, in.AvgEntry, m.Params)
	return Quote{
		Bid:           bid,
		Ask:           ask,
		HalfSpreadPts: (ask - bid) * 50,
		SkewPts:       ((bid+ask)/2 - in.Mid) * 100,
	}, true
}
