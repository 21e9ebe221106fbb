package pricing

import "math"

// Pricing engines.
const (
	EngineAS     = "as"
	EngineLegacy = "legacy"
)

// Inputs is the market and inventory state a Model prices against.
type Inputs struct {
	Mid       float64 // weighted mid, 0-1
	VolPts    float64 // volatilidad en puntos (EWMA o proxy)
	Imbalance float64
	Staleness float64 // 0 fresco, 1 stale
	Urgency   float64 // 0-1, cercanía al cap de inventario

	// SkewRatio es la dirección del inventario en valor (YES - NO) / cap.
	SkewRatio float64

	// Position y MaxPosition en shares, para el modelo AS.
	Position    float64
	MaxPosition float64
	AvgEntry    float64

	Kappa            float64 // 0 usa el default del modelo
	DaysToResolution float64
}

func (in Inputs) valid() bool {
	for _, v := range []float64{in.Mid, in.VolPts, in.Imbalance, in.Staleness, in.Urgency,
		in.SkewRatio, in.Position, in.MaxPosition, in.AvgEntry, in.Kappa, in.DaysToResolution} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return in.Mid > 0 && in.Mid < 1 && in.VolPts >= 0
}

// Quote es el par de precios propuesto.
type Quote struct {
	Bid           float64
	Ask           float64
	HalfSpreadPts float64
	SkewPts       float64
}

// Model computes a bid/ask pair. ok=false means do not quote this market.
// Every returned quote satisfies 0.01 <= Bid < Ask <= 0.99 on the tick grid.
type Model interface {
	Name() string
	Quote(in Inputs) (Quote, bool)
}
