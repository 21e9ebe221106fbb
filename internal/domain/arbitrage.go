package domain

import "time"

// ArbType identifica la dirección de un arbitraje de complete-set.
type ArbType string

const (
	// ArbBuyMerge: YES_ask + NO_ask < 1, comprar ambos y hacer merge a USDC.
	ArbBuyMerge ArbType = "buy_merge"
	// ArbSplitSell: YES_bid + NO_bid > 1, split de USDC y vender ambos.
	ArbSplitSell ArbType = "split_sell"
)

// MinArbShares es el tamaño mínimo operable en un arbitraje.
const MinArbShares = 5.0

// ArbOpportunity es una oportunidad efímera detectada por el scanner.
type ArbOpportunity struct {
	MarketID       string
	ConditionID    string
	YesTokenID     string
	NoTokenID      string
	Type           ArbType
	YesPrice       float64 // ask para buy_merge, bid para split_sell
	NoPrice        float64
	GrossProfitPct float64
	NetProfitPct   float64
	MaxSize        float64 // shares, limitado por la pata con menos profundidad
	NegRisk        bool
	DetectedAt     time.Time
}

// Cost devuelve YES + NO: lo que cuesta el set en buy_merge, lo que se
// cobra por él en split_sell.
func (o ArbOpportunity) Cost() float64 {
	return o.YesPrice + o.NoPrice
}

// ArbStatus es el resultado de ejecutar una oportunidad.
type ArbStatus string

const (
	ArbSuccess           ArbStatus = "success"
	ArbYesBuyFailed      ArbStatus = "yes_buy_failed"
	ArbNoBuyFailed       ArbStatus = "no_buy_failed"
	ArbInsufficientFills ArbStatus = "insufficient_fills"
	ArbMergeFailed       ArbStatus = "merge_failed"
	ArbSplitFailed       ArbStatus = "split_failed"
	ArbPartialFills      ArbStatus = "partial_fills"
)

// ArbResult registra la ejecución real: precios y tamaños son los ejecutados,
// no los del scan.
type ArbResult struct {
	ID           string
	Opportunity  ArbOpportunity
	Status       ArbStatus
	YesOrderID   string
	NoOrderID    string
	YesFilled    float64
	NoFilled     float64
	YesFillPrice float64
	NoFillPrice  float64
	Merged       float64
	Split        float64
	ProfitUSD    float64
	GasUSD       float64
	Err          string
	ExecutedAt   time.Time
}

// Success devuelve true si el arbitraje se completó.
func (r ArbResult) Success() bool {
	return r.Status == ArbSuccess
}
