package polymarket

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polymm/internal/domain"
)

func TestMapSamplingMarket(t *testing.T) {
	raw := `{
		"condition_id": "0xcond",
		"question_id": "0xq",
		"question": "Will it rain?",
		"market_slug": "will-it-rain",
		"end_date_iso": "2026-12-31T00:00:00Z",
		"minimum_order_size": 15,
		"neg_risk": true,
		"active": true,
		"closed": false,
		"tokens": [
			{"token_id": "tid_yes", "outcome": "Yes", "price": 0.6},
			{"token_id": "tid_no",  "outcome": "No",  "price": 0.4}
		]
	}`
	var sm samplingMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &sm))

	m := mapSamplingMarket(sm)
	assert.Equal(t, "0xcond", m.ConditionID)
	assert.Equal(t, "will-it-rain", m.Slug)
	assert.True(t, m.NegRisk)
	assert.True(t, m.Active)
	assert.InDelta(t, 15, m.MinOrderSize, 1e-9)
	assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), m.EndDate)
	assert.Equal(t, "tid_yes", m.Tokens[0].TokenID)
	assert.Equal(t, "No", m.Tokens[1].Outcome)
}

func TestEnrichFromGamma(t *testing.T) {
	m := domain.Market{ConditionID: "0xcond", MinOrderSize: 5}
	gm := gammaMarket{
		Question:     "Q?",
		Slug:         "q",
		EndDateISO:   "2026-11-01",
		Volume24h:    json.Number("1234.5"),
		OrderMinSize: json.Number("20"),
		NegRisk:      true,
	}
	enrichFromGamma(&m, gm)

	assert.Equal(t, "Q?", m.Question)
	assert.InDelta(t, 1234.5, m.Volume24h, 1e-9)
	assert.InDelta(t, 5, m.MinOrderSize, 1e-9, "el CLOB manda si ya informó tamaño")
	assert.True(t, m.NegRisk)
	assert.Equal(t, 2026, m.EndDate.Year())
}

func TestMapOrderBook_SortedAndFiltered(t *testing.T) {
	book := mapOrderBook(orderBookResponse{
		AssetID: "tok",
		Bids:    []bookEntryRaw{{"0.40", "10"}, {"0.45", "5"}, {"bad", "1"}, {"0.42", "0"}},
		Asks:    []bookEntryRaw{{"0.60", "10"}, {"0.55", "7"}},
	})

	require.Len(t, book.Bids, 2)
	assert.InDelta(t, 0.45, book.Bids[0].Price, 1e-9)
	assert.InDelta(t, 0.55, book.Asks[0].Price, 1e-9)
	assert.InDelta(t, domain.DefaultMinOrderSize, book.MinOrderSize, 1e-9)

	book = mapOrderBook(orderBookResponse{AssetID: "tok", MinOrderSize: "15"})
	assert.InDelta(t, 15, book.MinOrderSize, 1e-9)
}

func TestMapExecution(t *testing.T) {
	tests := []struct {
		name     string
		in       clobOrder
		state    domain.OrderState
		filled   bool
		avg      float64
		notional float64
	}{
		{
			name:  "live sin fills",
			in:    clobOrder{ID: "1", Status: "live", OriginalSize: "10", SizeMatched: "0", Price: "0.45"},
			state: domain.OrderLive, avg: 0.45,
		},
		{
			name:  "matched con avg",
			in:    clobOrder{ID: "2", Status: "MATCHED", OriginalSize: "10", SizeMatched: "10", Price: "0.45", AvgPrice: "0.44"},
			state: domain.OrderFilled, filled: true, avg: 0.44, notional: 4.4,
		},
		{
			name:  "cancelada pero ejecutada completa",
			in:    clobOrder{ID: "3", Status: "CANCELED", OriginalSize: "10", SizeMatched: "10", Price: "0.5"},
			state: domain.OrderCancelled, filled: true, avg: 0.5, notional: 5,
		},
		{
			name:  "status vacío",
			in:    clobOrder{ID: "4"},
			state: domain.OrderUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := mapExecution(tt.in)
			assert.Equal(t, tt.state, e.State)
			assert.Equal(t, tt.filled, e.Filled)
			assert.InDelta(t, tt.avg, e.AvgFillPrice, 1e-9)
			assert.InDelta(t, tt.notional, e.Notional, 1e-9)
		})
	}
}

func TestMapOpenOrder(t *testing.T) {
	o := mapOpenOrder(clobOrder{ID: "x", AssetID: "tok", Market: "0xm", Side: "sell",
		Price: "0.55", OriginalSize: "20", SizeMatched: "5", Status: "live"})
	assert.Equal(t, domain.SideSell, o.Side)
	assert.Equal(t, "LIVE", o.Status)
	assert.InDelta(t, 5, o.SizeMatched, 1e-9)
}

func TestParseDecimal(t *testing.T) {
	assert.InDelta(t, 0.123, parseDecimal("0.123"), 1e-12)
	assert.InDelta(t, 5, parseDecimal(" 5 "), 1e-12)
	assert.Zero(t, parseDecimal(""))
	assert.Zero(t, parseDecimal("n/a"))
}

func TestOrderAmounts(t *testing.T) {
	maker, taker, err := orderAmounts(domain.SideBuy, 0.45, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4_500_000), maker)
	assert.Equal(t, int64(10_000_000), taker)

	maker, taker, err = orderAmounts(domain.SideSell, 0.57, 12.349)
	require.NoError(t, err)
	assert.Equal(t, int64(12_340_000), maker, "shares truncadas a 2 decimales")
	assert.Equal(t, int64(7_033_800), taker)

	_, _, err = orderAmounts(domain.SideBuy, 0.5, 0.001)
	assert.Error(t, err)
	_, _, err = orderAmounts(domain.SideArb, 0.5, 10)
	assert.Error(t, err)
}

func TestRepricePrices(t *testing.T) {
	assert.Equal(t, []float64{0.44, 0.43, 0.42, 0.41, 0.40}, repricePrices(0.45, domain.SideBuy, 5))
	assert.Equal(t, []float64{0.56, 0.57}, repricePrices(0.55, domain.SideSell, 2))
	assert.Equal(t, []float64{0.01}, repricePrices(0.03, domain.SideBuy, 5)[1:2])
	assert.Len(t, repricePrices(0.03, domain.SideBuy, 5), 2)
	assert.Empty(t, repricePrices(0.99, domain.SideSell, 5))
}

func TestClassifyErrors(t *testing.T) {
	cross := &statusError{Code: 400, Body: `{"error":"invalid post-only order: order crosses book"}`}
	assert.True(t, isCrossError(cross))
	assert.True(t, isCrossError(fmt.Errorf("wrapped: %w", cross)))
	assert.False(t, isCrossError(&statusError{Code: 400, Body: "invalid tick"}))

	assert.Equal(t, domain.RejectAPIError, classify(cross))
	assert.Equal(t, domain.RejectAPIError, classify(&orderError{Msg: "not enough balance"}))
	assert.Equal(t, domain.RejectException, classify(errors.New("dial tcp: refused")))
}
