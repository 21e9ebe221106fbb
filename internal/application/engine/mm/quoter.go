package mm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/risk"
)

// ─── Fills ────────────────────────────────────────────────────────────────

// legFill es la parte de una ejecución que todavía no se aplicó al inventario.
type legFill struct {
	orderID string
	side    domain.Side
	price   float64
	size    float64
	fee     float64
}

// syncLeg consulta el estado de una pata abierta y devuelve el fill nuevo, si lo hay.
func (e *Engine) syncLeg(ctx context.Context, pair *domain.QuotePair, leg *domain.Leg, side domain.Side) (legFill, bool) {
	if leg.OrderID == "" || !leg.State.IsOpen() {
		return legFill{}, false
	}
	exec, err := e.exchange.OrderStatus(ctx, leg.OrderID)
	if err != nil {
		slog.Debug("mm: order status failed", "market", domain.ShortID(pair.MarketID), "order", leg.OrderID, "err", err)
		return legFill{}, false
	}
	return applyExecution(pair, leg, side, exec)
}

// applyExecution mueve la pata según la ejecución y devuelve lo matcheado
// desde la última vez. Los fills se reservan de forma incremental con
// leg.Booked, así un PARTIAL cancelado no pierde lo ya ejecutado.
func applyExecution(pair *domain.QuotePair, leg *domain.Leg, side domain.Side, exec domain.OrderExecution) (legFill, bool) {
	matched := exec.SizeMatched
	next := exec.State
	switch {
	case exec.Filled || exec.State == domain.OrderFilled:
		next = domain.OrderFilled
		if matched <= 0 {
			matched = leg.Size
		}
	case matched > 0 && exec.State != domain.OrderCancelled:
		next = domain.OrderPartial
	}

	if leg.State != next && !leg.Transition(next) {
		slog.Debug("mm: ignored leg transition",
			"market", domain.ShortID(pair.MarketID), "order", leg.OrderID, "from", leg.State, "to", next)
	}

	delta := matched - leg.Booked
	if delta < minBookable {
		return legFill{}, false
	}
	leg.Booked = matched

	fee := 0.0
	if matched > 0 {
		fee = exec.FeesPaid * delta / matched
	}
	return legFill{
		orderID: leg.OrderID,
		side:    side,
		price:   exec.FillPrice(leg.Price),
		size:    delta,
		fee:     fee,
	}, true
}

// bookFill aplica un fill al ledger y lo persiste.
func (e *Engine) bookFill(ctx context.Context, pair *domain.QuotePair, f legFill, now time.Time) {
	realized, err := e.ledger.ApplyFill(pair.MarketID, pair.TokenID, f.side, f.price, f.size)
	if err != nil {
		slog.Error("mm: apply fill", "market", domain.ShortID(pair.MarketID), "order", f.orderID, "err", err)
		return
	}

	fill := domain.Fill{
		QuoteID:   pair.DBID,
		MarketID:  pair.MarketID,
		TokenID:   pair.TokenID,
		OrderID:   f.orderID,
		Side:      f.side,
		Price:     f.price,
		Size:      f.size,
		Fee:       f.fee,
		MidAtFill: pair.QuotedMid,
		FilledAt:  now,
	}
	if _, err := e.store.InsertFill(ctx, fill); err != nil {
		slog.Warn("mm: insert fill", "market", domain.ShortID(pair.MarketID), "err", err)
	}
	e.persistInventory(ctx, pair.MarketID)
	e.kappa.RecordFill(pair.MarketID, now)

	slog.Info("mm: fill",
		"market", domain.ShortID(pair.MarketID),
		"side", f.side,
		"price", f.price,
		"size", f.size,
		"realized", fmt.Sprintf("%.4f", realized),
	)
}

// syncPair reconcilia ambas patas del par y reserva los fills nuevos.
func (e *Engine) syncPair(ctx context.Context, pair *domain.QuotePair, now time.Time) int {
	n := 0
	if f, ok := e.syncLeg(ctx, pair, &pair.Bid, domain.SideBuy); ok {
		e.bookFill(ctx, pair, f, now)
		n++
	}
	if f, ok := e.syncLeg(ctx, pair, &pair.Ask, domain.SideSell); ok {
		e.bookFill(ctx, pair, f, now)
		n++
	}
	return n
}

// ─── Placement ────────────────────────────────────────────────────────────

// quoteIntent es lo que el ciclo quiere tener en el book para un mercado.
type quoteIntent struct {
	bid, ask  float64
	mid       float64
	bidShares float64
	askShares float64
	placeBid  bool
	placeAsk  bool
}

// placeLeg envía una orden y deja la pata en LIVE, o en CANCELLED si falló.
// La pata guarda el precio publicado, que tras un re-precio post-only no es
// el pedido.
func (e *Engine) placeLeg(ctx context.Context, m domain.Market, leg *domain.Leg, side domain.Side) error {
	placed, err := e.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID:  m.YesToken().TokenID,
		Price:    leg.Price,
		Size:     leg.Size,
		Side:     side,
		PostOnly: e.cfg.PostOnly,
		NegRisk:  m.NegRisk,
	})
	if err != nil || placed.OrderID == "" {
		leg.State = domain.OrderCancelled
		if err == nil {
			err = fmt.Errorf("empty order id")
		}
		return fmt.Errorf("%s %.1f@%.2f: %w", side, leg.Size, leg.Price, err)
	}
	leg.OrderID = placed.OrderID
	if placed.Price > 0 {
		leg.Price = placed.Price
	}
	leg.Transition(domain.OrderLive)
	return nil
}

// placePair coloca las patas pedidas en un par nuevo. Devuelve error si no
// quedó ninguna orden en el book.
func (e *Engine) placePair(ctx context.Context, m domain.Market, it quoteIntent, now time.Time) (*domain.QuotePair, error) {
	pair := domain.NewQuotePair(m.ID(), m.YesToken().TokenID, it.bid, it.ask, 0, it.mid, now)
	pair.Bid.Size, pair.Ask.Size = it.bidShares, it.askShares

	var bidErr, askErr error
	if it.placeBid {
		bidErr = e.placeLeg(ctx, m, &pair.Bid, domain.SideBuy)
	} else {
		pair.Bid.State = domain.OrderCancelled
	}
	if it.placeAsk {
		askErr = e.placeLeg(ctx, m, &pair.Ask, domain.SideSell)
	} else {
		pair.Ask.State = domain.OrderCancelled
	}

	if pair.Bid.OrderID == "" && pair.Ask.OrderID == "" {
		return nil, joinOrNone(bidErr, askErr)
	}
	if bidErr != nil || askErr != nil {
		slog.Warn("mm: quote placed one-sided after rejection",
			"market", domain.ShortID(m.ID()), "bid_err", bidErr, "ask_err", askErr)
	}
	return pair, nil
}

// ─── Cancel / requote ─────────────────────────────────────────────────────

// cancelLeg cancela una pata abierta (o UNKNOWN con order ID) y reserva un
// fill que haya llegado antes que el cancel. Devuelve false si el CLOB
// rechazó la cancelación.
func (e *Engine) cancelLeg(ctx context.Context, pair *domain.QuotePair, leg *domain.Leg, side domain.Side) bool {
	if leg.OrderID == "" || !(leg.State.IsOpen() || leg.State == domain.OrderUnknown) {
		return true
	}
	if err := e.exchange.CancelOrder(ctx, leg.OrderID); err != nil {
		slog.Warn("mm: cancel failed", "market", domain.ShortID(pair.MarketID), "order", leg.OrderID, "err", err)
		return false
	}
	leg.Transition(domain.OrderCancelled)

	exec, err := e.exchange.OrderStatus(ctx, leg.OrderID)
	if err != nil {
		return true
	}
	if f, ok := applyExecution(pair, leg, side, exec); ok {
		e.bookFill(ctx, pair, f, e.now())
	}
	return true
}

// cancelPair cancela ambas patas. Devuelve false si alguna cancelación falló.
func (e *Engine) cancelPair(ctx context.Context, pair *domain.QuotePair) bool {
	okBid := e.cancelLeg(ctx, pair, &pair.Bid, domain.SideBuy)
	okAsk := e.cancelLeg(ctx, pair, &pair.Ask, domain.SideSell)
	return okBid && okAsk
}

// requote reemplaza el par completo: cancela todo y coloca uno nuevo.
func (e *Engine) requote(ctx context.Context, old *domain.QuotePair, m domain.Market, it quoteIntent, now time.Time) (*domain.QuotePair, error) {
	if !e.cancelPair(ctx, old) {
		return nil, errCancelFailed
	}
	return e.placePair(ctx, m, it, now)
}

// requoteHanging reemplaza el par preservando las patas PARTIAL y las LIVE
// cuyo precio apenas cambió. Solo se colocan órdenes en los lados que
// quedaron libres.
func (e *Engine) requoteHanging(ctx context.Context, old *domain.QuotePair, m domain.Market, it quoteIntent, now time.Time) (*domain.QuotePair, error) {
	pair := domain.NewQuotePair(m.ID(), m.YesToken().TokenID, it.bid, it.ask, 0, it.mid, now)
	pair.Bid.Size, pair.Ask.Size = it.bidShares, it.askShares

	bidErr := e.carryOrReplace(ctx, m, old, &old.Bid, &pair.Bid, domain.SideBuy, it.placeBid)
	askErr := e.carryOrReplace(ctx, m, old, &old.Ask, &pair.Ask, domain.SideSell, it.placeAsk)

	if !pair.IsActive() {
		return nil, joinOrNone(bidErr, askErr)
	}
	return pair, nil
}

// carryOrReplace decide un lado del requote hanging: conservar la pata vieja
// o cancelarla y, si se quiere ese lado, colocar una nueva.
func (e *Engine) carryOrReplace(ctx context.Context, m domain.Market, old *domain.QuotePair, oldLeg, newLeg *domain.Leg, side domain.Side, want bool) error {
	keep := false
	switch oldLeg.State {
	case domain.OrderPartial:
		keep = oldLeg.OrderID != ""
	case domain.OrderLive:
		keep = want && math.Abs(oldLeg.Price-newLeg.Price) < hangingRepriceMin
	}
	if !keep && !e.cancelLeg(ctx, old, oldLeg, side) {
		// sin cancel confirmado la orden sigue viva: seguirla en el par nuevo
		keep = oldLeg.State.IsOpen()
	}
	if keep && oldLeg.State.IsOpen() {
		*newLeg = *oldLeg
		return nil
	}
	if !want {
		newLeg.State = domain.OrderCancelled
		return nil
	}
	return e.placeLeg(ctx, m, newLeg, side)
}

var (
	// errNoLegs se devuelve cuando no se pidió ningún lado.
	errNoLegs       = errors.New("no legs to place")
	errCancelFailed = errors.New("cancel failed, keeping current quote")
)

func joinOrNone(errs ...error) error {
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return errNoLegs
}

// outcomeOf clasifica un fallo de colocación para los cooldowns.
func outcomeOf(err error) risk.Outcome {
	if domain.IsCrossReject(err) {
		return risk.OutcomeCrossReject
	}
	return risk.OutcomeFailure
}
