package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side es la dirección de una orden en el CLOB.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	// SideArb marca en el ledger de fills un arbitraje de complete-set ejecutado.
	SideArb Side = "ARB"
)

// OrderState is the lifecycle state of one leg of a quote pair.
type OrderState string

const (
	OrderNew       OrderState = "NEW"
	OrderLive      OrderState = "LIVE"
	OrderPartial   OrderState = "PARTIAL"
	OrderFilled    OrderState = "FILLED"
	OrderCancelled OrderState = "CANCELLED"
	OrderUnknown   OrderState = "UNKNOWN"
)

var validTransitions = map[OrderState]map[OrderState]bool{
	OrderNew:       {OrderLive: true, OrderPartial: true, OrderFilled: true, OrderCancelled: true, OrderUnknown: true},
	OrderLive:      {OrderPartial: true, OrderFilled: true, OrderCancelled: true, OrderUnknown: true},
	OrderPartial:   {OrderLive: true, OrderPartial: true, OrderFilled: true, OrderCancelled: true, OrderUnknown: true},
	OrderFilled:    {},
	OrderCancelled: {OrderFilled: true}, // un fill puede llegar después del cancel
	OrderUnknown:   {OrderLive: true, OrderPartial: true, OrderFilled: true, OrderCancelled: true},
}

// CanTransition reports whether from → to is a legal leg transition.
func CanTransition(from, to OrderState) bool {
	return validTransitions[from][to]
}

// IsOpen devuelve true si la orden puede seguir en el book.
func (s OrderState) IsOpen() bool {
	return s == OrderNew || s == OrderLive || s == OrderPartial
}

// IsTerminal devuelve true para FILLED y CANCELLED.
func (s OrderState) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// ParseCLOBStatus normaliza el status que devuelve el CLOB.
func ParseCLOBStatus(status string) OrderState {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "LIVE", "ACTIVE", "OPEN":
		return OrderLive
	case "MATCHED", "FILLED":
		return OrderFilled
	case "CANCELLED", "CANCELED", "EXPIRED":
		return OrderCancelled
	default:
		return OrderUnknown
	}
}

// Leg is one side of a QuotePair.
type Leg struct {
	OrderID string
	Price   float64
	Size    float64 // shares
	State   OrderState
	Booked  float64 // shares ya aplicadas al inventario
}

// Transition moves the leg to next if legal. Same-state updates are no-ops
// and return false; illegal moves return false as well and leave the leg untouched.
func (l *Leg) Transition(next OrderState) bool {
	if l.State == next {
		return false
	}
	if !CanTransition(l.State, next) {
		return false
	}
	l.State = next
	return true
}

// QuotePair es el par bid/ask activo en un mercado.
type QuotePair struct {
	ID        string // uuid, identidad nueva en cada replace
	DBID      int64  // id de la fila en la tabla quotes
	MarketID  string
	TokenID   string
	Bid       Leg
	Ask       Leg
	QuotedMid float64
	CreatedAt time.Time
}

// NewQuotePair crea un par con ambas patas en NEW.
func NewQuotePair(marketID, tokenID string, bidPrice, askPrice, size, mid float64, now time.Time) *QuotePair {
	return &QuotePair{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		TokenID:   tokenID,
		Bid:       Leg{Price: bidPrice, Size: size, State: OrderNew},
		Ask:       Leg{Price: askPrice, Size: size, State: OrderNew},
		QuotedMid: mid,
		CreatedAt: now,
	}
}

// IsActive devuelve true si alguna pata sigue abierta.
func (p *QuotePair) IsActive() bool {
	return p.Bid.State.IsOpen() || p.Ask.State.IsOpen()
}

// IsTerminal devuelve true cuando ambas patas están FILLED o CANCELLED.
func (p *QuotePair) IsTerminal() bool {
	return p.Bid.State.IsTerminal() && p.Ask.State.IsTerminal()
}

// Age devuelve la antigüedad del par.
func (p *QuotePair) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// LockedCapital es el USDC comprometido por la pata BUY abierta.
// Las ventas bloquean inventario, no cash.
func (p *QuotePair) LockedCapital() float64 {
	if !p.Bid.State.IsOpen() {
		return 0
	}
	return p.Bid.Size * p.Bid.Price
}

// Sides devuelve qué patas están participando en el book.
func (p *QuotePair) Sides() (bid, ask bool) {
	return p.Bid.State.IsOpen(), p.Ask.State.IsOpen()
}

// OrderExecution is the normalized order metadata returned by the gateway.
// Fields the exchange omits are left at their zero values.
type OrderExecution struct {
	OrderID      string
	Status       string // upper-case, tal cual lo reporta el CLOB
	State        OrderState
	OriginalSize float64
	SizeMatched  float64
	AvgFillPrice float64
	Notional     float64
	FeesPaid     float64
	Filled       bool
}

// FillPrice devuelve el precio medio ejecutado o fallback si no se informó.
func (e OrderExecution) FillPrice(fallback float64) float64 {
	if e.AvgFillPrice > 0 {
		return e.AvgFillPrice
	}
	return fallback
}

// PlaceOrderRequest is sent to the CLOB order executor.
type PlaceOrderRequest struct {
	TokenID  string
	Price    float64
	Size     float64 // shares
	Side     Side
	PostOnly bool
	NegRisk  bool
}

// PlacedOrder es lo que quedó en el book: el precio puede diferir del pedido
// si el gateway re-precio una orden post-only.
type PlacedOrder struct {
	OrderID string
	Price   float64
}

// OpenOrder es una orden viva reportada por el CLOB.
type OpenOrder struct {
	OrderID      string
	TokenID      string
	Market       string
	Side         Side
	Price        float64
	OriginalSize float64
	SizeMatched  float64
	Status       string
}
