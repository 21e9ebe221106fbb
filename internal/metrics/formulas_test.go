package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polymm/internal/domain"
)

func fill(quote int64, side domain.Side, price, size float64) domain.Fill {
	return domain.Fill{QuoteID: quote, Side: side, Price: price, Size: size}
}

func TestSpreadCapture(t *testing.T) {
	quotes := map[int64]domain.QuoteRecord{
		1: {ID: 1, BidPrice: 0.45, AskPrice: 0.55},
		2: {ID: 2, BidPrice: 0.40, AskPrice: 0.50},
	}
	fills := []domain.Fill{
		fill(1, domain.SideBuy, 0.45, 10),
		fill(1, domain.SideSell, 0.55, 10),
		// quote 2 solo compró: no cuenta
		fill(2, domain.SideBuy, 0.40, 10),
		// sin quote
		fill(0, domain.SideSell, 0.60, 10),
	}
	assert.InDelta(t, 1.0, SpreadCapture(fills, quotes), 1e-9)

	// captura parcial: vwap de compra 0.47 contra spread de 0.10
	fills = []domain.Fill{
		fill(1, domain.SideBuy, 0.46, 5),
		fill(1, domain.SideBuy, 0.48, 5),
		fill(1, domain.SideSell, 0.52, 10),
	}
	assert.InDelta(t, 0.5, SpreadCapture(fills, quotes), 1e-9)

	assert.Zero(t, SpreadCapture(nil, quotes))
	assert.Zero(t, SpreadCapture(fills, nil))
}

func TestFillQuality(t *testing.T) {
	assert.InDelta(t, 400, FillQuality(0.48, 0.50, domain.SideBuy), 1e-6)
	assert.InDelta(t, 400, FillQuality(0.52, 0.50, domain.SideSell), 1e-6)
	assert.InDelta(t, -400, FillQuality(0.52, 0.50, domain.SideBuy), 1e-6)
	assert.Zero(t, FillQuality(0.5, 0, domain.SideBuy))
}

func TestAdverseSelection(t *testing.T) {
	// compra y el mid cae: adverso
	assert.InDelta(t, 1000, AdverseSelection(0.50, 0.45, domain.SideBuy), 1e-6)
	// venta y el mid sube: adverso
	assert.InDelta(t, 1000, AdverseSelection(0.50, 0.55, domain.SideSell), 1e-6)
	// venta y el mid cae: favorable
	assert.InDelta(t, -1000, AdverseSelection(0.50, 0.45, domain.SideSell), 1e-6)
	assert.Zero(t, AdverseSelection(0, 0.45, domain.SideBuy))
}

func TestComputePnL(t *testing.T) {
	fills := []domain.Fill{
		{Side: domain.SideBuy, Price: 0.40, Size: 10, Fee: 0.05},
		{Side: domain.SideSell, Price: 0.50, Size: 10, Fee: 0.05},
	}
	p := ComputePnL(fills)
	assert.InDelta(t, 1.0, p.Gross, 1e-9)
	assert.InDelta(t, 0.9, p.Net, 1e-9)
	assert.InDelta(t, 0.1, p.Fees, 1e-9)
	assert.Equal(t, 10, p.RoundTrip)

	// solo compras: sin round trip, el net es el fee negativo
	p = ComputePnL(fills[:1])
	assert.Zero(t, p.Gross)
	assert.InDelta(t, -0.05, p.Net, 1e-9)
	assert.Zero(t, p.RoundTrip)

	// ARB solo suma su fee
	p = ComputePnL([]domain.Fill{{Side: domain.SideArb, Price: 0.97, Size: 20, Fee: 0.005}})
	assert.Zero(t, p.Gross)
	assert.InDelta(t, -0.005, p.Net, 1e-9)
}

func TestSharpe(t *testing.T) {
	assert.Zero(t, Sharpe(nil))
	assert.Zero(t, Sharpe([]float64{0.05}))

	// varianza cero usa std = 0.001
	assert.InDelta(t, 10*math.Sqrt(365), Sharpe([]float64{0.01, 0.01}), 1e-6)

	// media 0.02, varianza muestral 0.0002
	want := 0.02 / math.Sqrt(0.0002) * math.Sqrt(365)
	assert.InDelta(t, want, Sharpe([]float64{0.01, 0.03}), 1e-6)
}

func TestProfitFactor(t *testing.T) {
	fills := []domain.Fill{
		{Side: domain.SideBuy, Price: 0.50},
		{Side: domain.SideBuy, Price: 0.40},
		{Side: domain.SideSell, Price: 0.48},
		{Side: domain.SideSell, Price: 0.45},
	}
	// pares ordenados: (0.40, 0.45) gana 0.05, (0.50, 0.48) pierde 0.02
	assert.InDelta(t, 2.5, ProfitFactor(fills), 1e-9)

	winners := []domain.Fill{
		{Side: domain.SideBuy, Price: 0.40},
		{Side: domain.SideSell, Price: 0.45},
	}
	assert.Equal(t, domain.ProfitFactorCap, ProfitFactor(winners))
	assert.Zero(t, ProfitFactor(nil))
	assert.Zero(t, ProfitFactor(winners[:1]))
}

func TestTurnRate(t *testing.T) {
	// 10 fills en 12h = 20/día, sobre 2×5 de inventario medio
	assert.InDelta(t, 2.0, TurnRate(10, 5, 12), 1e-9)
	assert.Zero(t, TurnRate(10, 0, 12))
	assert.Zero(t, TurnRate(10, 5, 0))
}
