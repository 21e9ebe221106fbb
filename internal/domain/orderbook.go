package domain

import (
	"math"
	"time"
)

const (
	// TickSize es el tick de precio del CLOB.
	TickSize = 0.01
	// MinPrice y MaxPrice acotan cualquier precio cotizable.
	MinPrice = 0.01
	MaxPrice = 0.99
	// DefaultMinOrderSize es el tamaño mínimo en shares si el book no lo informa.
	DefaultMinOrderSize = 5.0

	summaryDepthLevels = 5
)

// OrderBook representa el libro de órdenes de un token.
type OrderBook struct {
	TokenID      string
	Bids         []BookEntry // ordenados mayor a menor precio
	Asks         []BookEntry // ordenados menor a mayor precio
	MinOrderSize float64
	UpdatedAt    time.Time
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Summary reduces the book to the top-of-book view the pricing layer consumes.
// Missing sides report best_bid=0 / best_ask=1; the mid exists only when both
// sides have liquidity.
func (ob OrderBook) Summary() BookSummary {
	s := BookSummary{
		TokenID:      ob.TokenID,
		BestBid:      0,
		BestAsk:      1,
		MinOrderSize: ob.MinOrderSize,
		UpdatedAt:    ob.UpdatedAt,
	}
	if s.MinOrderSize <= 0 {
		s.MinOrderSize = DefaultMinOrderSize
	}
	if len(ob.Bids) > 0 {
		s.BestBid = ob.Bids[0].Price
	}
	if len(ob.Asks) > 0 {
		s.BestAsk = ob.Asks[0].Price
	}
	s.Spread = s.BestAsk - s.BestBid
	s.BidDepth5 = notional(ob.Bids, summaryDepthLevels)
	s.AskDepth5 = notional(ob.Asks, summaryDepthLevels)

	if len(ob.Bids) > 0 && len(ob.Asks) > 0 {
		s.Mid = (s.BestBid + s.BestAsk) / 2
		s.HasMid = true
	}
	if total := s.BidDepth5 + s.AskDepth5; total > 0 {
		s.Imbalance = (s.BidDepth5 - s.AskDepth5) / total
	}
	return s
}

func notional(levels []BookEntry, n int) float64 {
	var total float64
	for i, l := range levels {
		if i >= n {
			break
		}
		total += math.Max(0, l.Price*l.Size)
	}
	return total
}

// BookSummary es el resumen de top-of-book con profundidad en USDC.
type BookSummary struct {
	TokenID      string
	BestBid      float64 // 0 si no hay bids
	BestAsk      float64 // 1 si no hay asks
	Spread       float64
	Mid          float64 // solo válido si HasMid
	HasMid       bool
	BidDepth5    float64 // notional USDC de los 5 mejores bids
	AskDepth5    float64 // notional USDC de los 5 mejores asks
	Imbalance    float64 // (bid - ask) / (bid + ask), en [-1, 1]
	MinOrderSize float64 // shares
	UpdatedAt    time.Time
}

// TwoSided devuelve true si hay liquidez en ambos lados y el book no está
// cruzado ni trabado (best_bid < best_ask).
func (s BookSummary) TwoSided() bool {
	return s.HasMid && s.BestBid > 0 && s.BestAsk > s.BestBid
}

// WeightedMid devuelve un micro-price ponderado por profundidad: más profundidad
// en asks acerca el mid al bid y viceversa. ok=false si el book no es válido.
func (s BookSummary) WeightedMid() (float64, bool) {
	if s.BestBid <= 0 || s.BestAsk <= 0 || s.BestAsk <= s.BestBid {
		return 0, false
	}
	total := s.BidDepth5 + s.AskDepth5
	if total <= 0 {
		return (s.BestBid + s.BestAsk) / 2, true
	}
	wBid := s.AskDepth5 / total
	wAsk := s.BidDepth5 / total
	return wBid*s.BestBid + wAsk*s.BestAsk, true
}

// AskDepthShares estima las shares disponibles en los asks a partir del notional.
func (s BookSummary) AskDepthShares() float64 {
	if s.BestAsk > 0 && s.AskDepth5 > 0 {
		return s.AskDepth5 / s.BestAsk
	}
	return 0
}

// BidDepthShares estima las shares disponibles en los bids a partir del notional.
func (s BookSummary) BidDepthShares() float64 {
	if s.BestBid > 0 && s.BidDepth5 > 0 {
		return s.BidDepth5 / s.BestBid
	}
	return 0
}

// RoundToTick redondea un precio al tick del CLOB.
func RoundToTick(price float64) float64 {
	return math.Round(math.Round(price/TickSize)*TickSize*100) / 100
}

// ClampPrice acota un precio al rango cotizable y lo redondea al tick.
func ClampPrice(price float64) float64 {
	return math.Max(MinPrice, math.Min(MaxPrice, RoundToTick(price)))
}
