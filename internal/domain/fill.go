package domain

import "time"

// Fill es una ejecución registrada contra una quote (o un arbitraje).
type Fill struct {
	ID         int64
	QuoteID    int64 // fila de quotes; 0 para arbitrajes
	MarketID   string
	TokenID    string
	OrderID    string
	Side       Side
	Price      float64
	Size       float64
	Fee        float64
	MidAtFill  float64
	MidAt30s   *float64
	MidAt120s  *float64
	AdverseBps *float64 // adverse selection medido a 120s
	FilledAt   time.Time
}

// Notional devuelve price × size.
func (f Fill) Notional() float64 {
	return f.Price * f.Size
}

// Measured devuelve true si ya se calculó el adverse selection.
func (f Fill) Measured() bool {
	return f.AdverseBps != nil
}

// QuoteRecord es la fila persistida de un QuotePair.
type QuoteRecord struct {
	ID         int64
	PairID     string
	MarketID   string
	TokenID    string
	BidOrderID string
	AskOrderID string
	BidPrice   float64
	AskPrice   float64
	BidSize    float64
	AskSize    float64
	MidAtQuote float64
	Status     string // active | filled | replaced | cancelled | killed_by_guard
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Quote record statuses.
const (
	QuoteActive    = "active"
	QuoteFilled    = "filled"
	QuoteReplaced  = "replaced"
	QuoteCancelled = "cancelled"
	QuoteKilled    = "killed_by_guard"
)
