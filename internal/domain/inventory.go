package domain

import "time"

// Outcome identifica la pata del mercado binario.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// InventoryRow is the persisted position of one (market, token) leg.
type InventoryRow struct {
	MarketID      string
	TokenID       string
	Outcome       Outcome
	NetPosition   float64 // shares, positivo = largo
	AvgEntryPrice float64
	RealizedPnL   float64
	UpdatedAt     time.Time
}

// UnrealizedPnL valora la posición contra mark.
func (r InventoryRow) UnrealizedPnL(mark float64) float64 {
	if r.NetPosition == 0 || mark <= 0 {
		return 0
	}
	return (mark - r.AvgEntryPrice) * r.NetPosition
}
