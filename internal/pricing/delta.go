// Package pricing computes maker quotes: an inventory-skewed delta model and an
// Avellaneda-Stoikov model, plus the trackers that feed them.
package pricing

import (
	"math"

	"github.com/alejandrodnm/polymm/internal/domain"
)

const (
	// quadraticSkew amplifica el skew cuando el inventario es extremo.
	quadraticSkew = 0.3
	// urgencySkewBoost se suma al skew factor por unidad de urgencia.
	urgencySkewBoost = 0.3
)

// DeltaParams son los pesos del half-spread dinámico, en puntos.
type DeltaParams struct {
	VolWeight       float64
	ImbalanceWeight float64
	StaleWeight     float64
	FeeBuffer       float64
	Min             float64
	Max             float64
}

// DefaultDeltaParams devuelve los pesos por defecto.
func DefaultDeltaParams() DeltaParams {
	return DeltaParams{
		VolWeight:       0.3,
		ImbalanceWeight: 0.2,
		StaleWeight:     0.3,
		FeeBuffer:       0.2,
		Min:             1.5,
		Max:             8.0,
	}
}

// Delta computes the dynamic half-spread in points:
// a·vol + b·|imbalance|·10 + c·stale·5 + d, clamped to [Min, Max].
func Delta(p DeltaParams, volPts, imbalance, staleness float64) float64 {
	raw := p.VolWeight*volPts +
		p.ImbalanceWeight*math.Abs(imbalance)*10 +
		p.StaleWeight*staleness*5 +
		p.FeeBuffer
	return clamp(raw, p.Min, p.Max)
}

// VolProxy estima la volatilidad desde el spread cuando aún no hay EWMA.
func VolProxy(spreadPts float64) float64 {
	return math.Max(spreadPts*0.5, 1)
}

// SkewFactor amplifica el factor base con la urgencia de deshacer inventario.
func SkewFactor(base, urgency float64) float64 {
	return base + clamp(urgency, 0, 1)*urgencySkewBoost
}

// Skew returns the inventory skew in points. A long position pushes both quotes
// down, a short one pushes them up; the quadratic term dominates near the cap.
func Skew(position, maxPosition, factor float64) float64 {
	if maxPosition <= 0 || position == 0 {
		return 0
	}
	r := clamp(position/maxPosition, -1, 1)
	sign := 1.0
	if r < 0 {
		sign = -1
	}
	return -r*factor - sign*r*r*quadraticSkew
}

// BidAsk aplica delta y skew (en puntos) alrededor de mid. Si el redondeo
// colapsa el par, se cotiza un tick a cada lado del mid.
func BidAsk(mid, deltaPts, skewPts float64) (bid, ask float64) {
	bid = domain.ClampPrice(mid - deltaPts/100 + skewPts/100)
	ask = domain.ClampPrice(mid + deltaPts/100 + skewPts/100)
	if bid >= ask {
		anchor := clamp(domain.RoundToTick(mid), domain.MinPrice+domain.TickSize, domain.MaxPrice-domain.TickSize)
		bid = domain.ClampPrice(anchor - domain.TickSize)
		ask = domain.ClampPrice(anchor + domain.TickSize)
	}
	return bid, ask
}

// QuoteSize devuelve el tamaño en USDC de la pata bid: 0 si el inventario ya
// llenó la capacidad, si no el menor de base, límite por mercado, 10% del capital
// y la capacidad restante.
func QuoteSize(capital, maxPerMarket, inventoryUSD, maxInventoryUSD, baseUSD float64) float64 {
	remaining := maxInventoryUSD - math.Abs(inventoryUSD)
	if remaining <= 0 {
		return 0
	}
	size := math.Min(math.Min(baseUSD, maxPerMarket), math.Min(capital*0.1, remaining))
	return math.Max(0, math.Round(size*100)/100)
}

// ShouldRequote devuelve true si el mid se movió al menos thresholdPts desde quotedMid.
func ShouldRequote(newMid, quotedMid, thresholdPts float64) bool {
	return math.Abs(newMid-quotedMid)*100 >= thresholdPts
}

// DeltaModel es el modelo clásico delta + skew de inventario.
type DeltaModel struct {
	Params     DeltaParams
	SkewFactor float64
}

// Name implements Model.
func (DeltaModel) Name() string { return EngineLegacy }

// Quote implements Model.
func (m DeltaModel) Quote(in Inputs) (Quote, bool) {
	if !in.valid() {
		return Quote{}, false
	}
	delta := Delta(m.Params, in.VolPts, in.Imbalance, in.Staleness)
	skew := Skew(in.SkewRatio, 1, SkewFactor(m.SkewFactor, in.Urgency))
	bid, ask := BidAsk(in.Mid, delta, skew)
	return Quote{Bid: bid, Ask: ask, HalfSpreadPts: delta, SkewPts: skew}, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
