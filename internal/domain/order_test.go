package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_LegalSet(t *testing.T) {
	assert.True(t, CanTransition(OrderNew, OrderLive))
	assert.True(t, CanTransition(OrderLive, OrderPartial))
	assert.True(t, CanTransition(OrderPartial, OrderLive))
	assert.True(t, CanTransition(OrderPartial, OrderFilled))
	assert.True(t, CanTransition(OrderCancelled, OrderFilled), "fill racing a cancel")
	assert.True(t, CanTransition(OrderUnknown, OrderCancelled))

	assert.False(t, CanTransition(OrderFilled, OrderLive))
	assert.False(t, CanTransition(OrderFilled, OrderCancelled))
	assert.False(t, CanTransition(OrderCancelled, OrderLive))
	assert.False(t, CanTransition(OrderLive, OrderNew))
}

func TestLegTransition_IdempotentAndIllegal(t *testing.T) {
	leg := Leg{State: OrderNew}

	require.True(t, leg.Transition(OrderLive))
	assert.False(t, leg.Transition(OrderLive), "misma transición no cambia nada")
	require.True(t, leg.Transition(OrderFilled))
	assert.False(t, leg.Transition(OrderCancelled))
	assert.Equal(t, OrderFilled, leg.State)
}

func TestParseCLOBStatus(t *testing.T) {
	cases := map[string]OrderState{
		"LIVE":      OrderLive,
		"active":    OrderLive,
		"OPEN":      OrderLive,
		"MATCHED":   OrderFilled,
		"filled":    OrderFilled,
		"CANCELED":  OrderCancelled,
		"CANCELLED": OrderCancelled,
		"EXPIRED":   OrderCancelled,
		"delayed":   OrderUnknown,
		"":          OrderUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseCLOBStatus(in), in)
	}
}

func TestQuotePair_ActiveTerminal(t *testing.T) {
	now := time.Now()
	p := NewQuotePair("m1", "tok", 0.45, 0.55, 10, 0.5, now)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.IsActive())
	assert.False(t, p.IsTerminal())
	assert.InDelta(t, 4.5, p.LockedCapital(), 1e-9)

	p.Bid.State = OrderFilled
	p.Ask.State = OrderLive
	assert.True(t, p.IsActive())
	assert.InDelta(t, 0.0, p.LockedCapital(), 1e-9)

	p.Ask.State = OrderCancelled
	assert.False(t, p.IsActive())
	assert.True(t, p.IsTerminal())

	other := NewQuotePair("m1", "tok", 0.45, 0.55, 10, 0.5, now)
	assert.NotEqual(t, p.ID, other.ID)
}

func TestQuotePair_UnknownIsNeitherActiveNorTerminal(t *testing.T) {
	p := NewQuotePair("m1", "tok", 0.45, 0.55, 10, 0.5, time.Now())
	p.Bid.State = OrderUnknown
	p.Ask.State = OrderCancelled
	assert.False(t, p.IsActive())
	assert.False(t, p.IsTerminal())
}

func TestOrderRejection_Helpers(t *testing.T) {
	var err error = &OrderRejection{Reason: RejectPostOnlyCross, Detail: "crosses book"}
	assert.True(t, IsCrossReject(err))
	assert.Equal(t, RejectPostOnlyCross, RejectionReason(err))
	assert.Contains(t, err.Error(), "post_only_cross")

	assert.False(t, IsCrossReject(ErrNoBook))
	assert.Equal(t, RejectException, RejectionReason(ErrNoBook))
}

func TestCircuitBreaker_TripsAndClears(t *testing.T) {
	now := time.Now()
	cb := CircuitBreaker{Threshold: 3, Cooldown: time.Minute}

	assert.False(t, cb.RecordError(now))
	assert.False(t, cb.RecordError(now))
	assert.True(t, cb.RecordError(now))
	assert.False(t, cb.IsOpen(now.Add(30*time.Second)))

	assert.True(t, cb.IsOpen(now.Add(61*time.Second)))
	assert.Equal(t, 0, cb.Errors)
}
