// Package metrics calcula la performance del market maker: spread capturado,
// calidad de fills, adverse selection, PnL y agregados diarios.
package metrics

import (
	"math"
	"sort"

	"github.com/alejandrodnm/polymm/internal/domain"
)

const bps = 10000

// PnL es el resultado de compute sobre un conjunto de fills.
type PnL struct {
	Gross     float64
	Net       float64
	Fees      float64
	BuySize   float64
	SellSize  float64
	RoundTrip int // pares completos (min de compras y ventas)
}

// SpreadCapture devuelve la fracción media del spread teórico capturada por
// los quotes con compra y venta. Los fills sin quote o cuyo quote no aparece
// en quotes no cuentan.
func SpreadCapture(fills []domain.Fill, quotes map[int64]domain.QuoteRecord) float64 {
	type acc struct{ buyN, buyS, sellN, sellS float64 }
	byQuote := make(map[int64]*acc)
	for _, f := range fills {
		if f.QuoteID == 0 {
			continue
		}
		a := byQuote[f.QuoteID]
		if a == nil {
			a = &acc{}
			byQuote[f.QuoteID] = a
		}
		switch f.Side {
		case domain.SideBuy:
			a.buyN += f.Price * f.Size
			a.buyS += f.Size
		case domain.SideSell:
			a.sellN += f.Price * f.Size
			a.sellS += f.Size
		}
	}

	var total float64
	var count int
	for qid, a := range byQuote {
		if a.buyS <= 0 || a.sellS <= 0 {
			continue
		}
		q, ok := quotes[qid]
		if !ok {
			continue
		}
		theoretical := q.AskPrice - q.BidPrice
		if theoretical <= 0 {
			continue
		}
		actual := a.sellN/a.sellS - a.buyN/a.buyS
		total += actual / theoretical
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// FillQuality devuelve la mejora del fill contra el mid en bps. Positivo es
// bueno: compra bajo el mid o venta sobre el mid.
func FillQuality(price, mid float64, side domain.Side) float64 {
	if mid <= 0 {
		return 0
	}
	if side == domain.SideBuy {
		return (mid - price) / mid * bps
	}
	return (price - mid) / mid * bps
}

// AdverseSelection devuelve cuánto se movió el mid contra la posición después
// del fill, en bps. Positivo es adverso.
func AdverseSelection(midAtFill, midLater float64, side domain.Side) float64 {
	if midAtFill <= 0 {
		return 0
	}
	if side == domain.SideBuy {
		return (midAtFill - midLater) / midAtFill * bps
	}
	return (midLater - midAtFill) / midAtFill * bps
}

// ComputePnL suma compras y ventas. Gross solo es distinto de cero cuando
// hubo al menos una compra y una venta. Los fills ARB solo aportan su fee.
func ComputePnL(fills []domain.Fill) PnL {
	var p PnL
	var cost, rev float64
	for _, f := range fills {
		p.Fees += f.Fee
		switch f.Side {
		case domain.SideBuy:
			cost += f.Price * f.Size
			p.BuySize += f.Size
		case domain.SideSell:
			rev += f.Price * f.Size
			p.SellSize += f.Size
		}
	}
	matched := math.Min(p.BuySize, p.SellSize)
	if matched > 0 {
		p.Gross = rev - cost
		p.RoundTrip = int(matched)
	}
	p.Net = p.Gross - p.Fees
	return p
}

// Sharpe anualiza (×√365) la media sobre la desviación muestral de los
// retornos diarios. Con menos de dos puntos devuelve 0.
func Sharpe(daily []float64) float64 {
	if len(daily) < 2 {
		return 0
	}
	var mean float64
	for _, r := range daily {
		mean += r
	}
	mean /= float64(len(daily))

	var variance float64
	for _, r := range daily {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(daily) - 1)

	std := 0.001
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return mean / std * math.Sqrt(365)
}

// ProfitFactor empareja precios de compra y venta ordenados y divide ganancias
// por pérdidas. Sin pérdidas devuelve ProfitFactorCap (o 0 sin ganancias).
func ProfitFactor(fills []domain.Fill) float64 {
	var buys, sells []float64
	for _, f := range fills {
		switch f.Side {
		case domain.SideBuy:
			buys = append(buys, f.Price)
		case domain.SideSell:
			sells = append(sells, f.Price)
		}
	}
	sort.Float64s(buys)
	sort.Float64s(sells)

	var gain, loss float64
	for i := 0; i < len(buys) && i < len(sells); i++ {
		pnl := sells[i] - buys[i]
		if pnl > 0 {
			gain += pnl
		} else {
			loss -= pnl
		}
	}
	if loss == 0 {
		if gain > 0 {
			return domain.ProfitFactorCap
		}
		return 0
	}
	return gain / loss
}

// TurnRate devuelve cuántas veces rota el inventario por día (2 fills por vuelta).
func TurnRate(fills int, avgInventory, periodHours float64) float64 {
	if avgInventory <= 0 || periodHours <= 0 {
		return 0
	}
	daily := float64(fills) * (24 / periodHours)
	return daily / (2 * avgInventory)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
