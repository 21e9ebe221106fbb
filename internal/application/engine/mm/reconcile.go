package mm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// ─── Fills por ciclo ──────────────────────────────────────────────────────

// reconcileFills consulta cada par activo, reserva los fills y cierra los
// pares terminales.
func (e *Engine) reconcileFills(ctx context.Context, now time.Time) {
	for _, id := range e.pairIDs() {
		pair := e.pairs[id]
		e.syncPair(ctx, pair, now)
		if !pair.IsTerminal() {
			continue
		}
		status := domain.QuoteCancelled
		if pair.Bid.State == domain.OrderFilled || pair.Ask.State == domain.OrderFilled {
			status = domain.QuoteFilled
		}
		e.setQuoteStatus(ctx, pair, status)
		delete(e.pairs, id)
	}
}

// ─── Startup ──────────────────────────────────────────────────────────────

// StartupReport resume la reconstrucción de estado al arrancar.
type StartupReport struct {
	InventoryRows int
	Restored      int // pares reconstruidos desde órdenes abiertas
	Orphans       int // órdenes abiertas sin quote conocido, canceladas
	Stale         int // quotes activos en la base que quedaron cerrados
	Recovered     int // fills ejecutados mientras el bot estaba parado
}

// Startup reconstruye el estado desde la base y el CLOB: carga el
// inventario, rearma los pares cuyas órdenes siguen vivas, resuelve con
// OrderStatus las patas que el CLOB ya no lista, cancela las órdenes
// huérfanas y cierra los quotes que ya no tienen órdenes.
func (e *Engine) Startup(ctx context.Context) (StartupReport, error) {
	var rep StartupReport

	rows, err := e.store.Inventory(ctx)
	if err != nil {
		return rep, fmt.Errorf("mm.Startup: inventory: %w", err)
	}
	e.ledger.Load(rows)
	rep.InventoryRows = len(rows)

	open, err := e.exchange.OpenOrders(ctx)
	if err != nil {
		return rep, fmt.Errorf("mm.Startup: open orders: %w", err)
	}
	records, err := e.store.ActiveQuotes(ctx)
	if err != nil {
		return rep, fmt.Errorf("mm.Startup: active quotes: %w", err)
	}
	booked, err := e.bookedByOrder(ctx, records)
	if err != nil {
		return rep, fmt.Errorf("mm.Startup: %w", err)
	}

	byID := make(map[string]domain.OpenOrder, len(open))
	for _, o := range open {
		byID[o.OrderID] = o
	}
	claimed := make(map[string]bool, len(open))
	seen := make(map[string]bool, len(records))

	// el registro más nuevo por mercado gana
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	for _, rec := range records {
		dup := seen[rec.MarketID]
		seen[rec.MarketID] = true

		pair := &domain.QuotePair{
			ID:        rec.PairID,
			DBID:      rec.ID,
			MarketID:  rec.MarketID,
			TokenID:   rec.TokenID,
			QuotedMid: rec.MidAtQuote,
			CreatedAt: rec.CreatedAt,
		}
		legs := []struct {
			leg   *domain.Leg
			side  domain.Side
			id    string
			price float64
			size  float64
		}{
			{&pair.Bid, domain.SideBuy, rec.BidOrderID, rec.BidPrice, rec.BidSize},
			{&pair.Ask, domain.SideSell, rec.AskOrderID, rec.AskPrice, rec.AskSize},
		}
		for _, l := range legs {
			o, live := byID[l.id]
			*l.leg = restoredLeg(l.id, l.price, l.size, o, live && !dup, booked[l.id])
			if l.id == "" {
				continue
			}
			claimed[l.id] = true
			if l.leg.State == domain.OrderUnknown {
				rep.Recovered += e.resolveLeg(ctx, pair, l.leg, l.side)
			}
		}

		if dup || !pair.IsActive() {
			e.closeRestored(ctx, pair)
			rep.Stale++
			continue
		}
		e.pairs[rec.MarketID] = pair
		rep.Restored++
	}

	for _, o := range open {
		if claimed[o.OrderID] {
			continue
		}
		if err := e.exchange.CancelOrder(ctx, o.OrderID); err != nil {
			slog.Warn("mm: cancel orphan order", "order", o.OrderID, "err", err)
			continue
		}
		rep.Orphans++
	}

	slog.Info("mm: startup reconciled",
		"inventory_rows", rep.InventoryRows,
		"restored", rep.Restored,
		"orphans_cancelled", rep.Orphans,
		"stale_quotes", rep.Stale,
		"recovered_fills", rep.Recovered,
	)
	return rep, nil
}

// bookedByOrder suma, por order ID, las shares que ya están en la tabla de
// fills: eso es lo que el inventario persistido ya refleja.
func (e *Engine) bookedByOrder(ctx context.Context, records []domain.QuoteRecord) (map[string]float64, error) {
	booked := make(map[string]float64)
	if len(records) == 0 {
		return booked, nil
	}
	from := records[0].CreatedAt
	for _, r := range records[1:] {
		if r.CreatedAt.Before(from) {
			from = r.CreatedAt
		}
	}
	fills, err := e.store.FillsBetween(ctx, from, e.now())
	if err != nil {
		return nil, fmt.Errorf("fills: %w", err)
	}
	for _, f := range fills {
		if f.Side == domain.SideBuy || f.Side == domain.SideSell {
			booked[f.OrderID] += f.Size
		}
	}
	return booked, nil
}

// restoredLeg arma una pata desde el registro persistido. Una orden que el
// CLOB no lista queda UNKNOWN hasta consultar su estado; Booked arranca en
// lo que ya está en la tabla de fills.
func restoredLeg(orderID string, price, size float64, o domain.OpenOrder, live bool, booked float64) domain.Leg {
	if orderID == "" {
		return domain.Leg{Price: price, Size: size, State: domain.OrderCancelled}
	}
	if !live {
		return domain.Leg{OrderID: orderID, Price: price, Size: size, State: domain.OrderUnknown, Booked: booked}
	}
	state := domain.OrderLive
	if o.SizeMatched > 0 {
		state = domain.OrderPartial
	}
	if o.OriginalSize > 0 {
		size = o.OriginalSize
	}
	return domain.Leg{OrderID: orderID, Price: o.Price, Size: size, State: state, Booked: booked}
}

// resolveLeg consulta una pata UNKNOWN, reserva lo que se ejecutó mientras
// el bot estaba parado y la cancela si sigue abierta o sin estado. Devuelve
// el número de fills reservados.
func (e *Engine) resolveLeg(ctx context.Context, pair *domain.QuotePair, leg *domain.Leg, side domain.Side) int {
	n := 0
	exec, err := e.exchange.OrderStatus(ctx, leg.OrderID)
	if err != nil {
		slog.Warn("mm: startup order status", "market", domain.ShortID(pair.MarketID), "order", leg.OrderID, "err", err)
	} else if f, ok := applyExecution(pair, leg, side, exec); ok {
		e.bookFill(ctx, pair, f, e.now())
		n++
	}
	if leg.State.IsOpen() || leg.State == domain.OrderUnknown {
		// sin cancel confirmado queda UNKNOWN y el próximo cancel del par reintenta
		before := leg.Booked
		e.cancelLeg(ctx, pair, leg, side)
		if leg.Booked > before {
			n++
		}
	}
	return n
}

// closeRestored cancela lo que quede abierto de un par que no se rearma y
// cierra su registro.
func (e *Engine) closeRestored(ctx context.Context, pair *domain.QuotePair) {
	e.cancelPair(ctx, pair)
	status := domain.QuoteCancelled
	if pair.Bid.State == domain.OrderFilled || pair.Ask.State == domain.OrderFilled {
		status = domain.QuoteFilled
	}
	if err := e.store.UpdateQuoteStatus(ctx, pair.DBID, status); err != nil {
		slog.Warn("mm: close stale quote", "quote", pair.DBID, "err", err)
	}
}

// ─── Reconciliación periódica ─────────────────────────────────────────────

// periodicReconcile contrasta el inventario en memoria con la base y busca
// patas LIVE que el CLOB ya no lista. Las patas fantasma solo se loguean:
// el próximo OrderStatus decide su estado.
func (e *Engine) periodicReconcile(ctx context.Context) {
	rows, err := e.store.Inventory(ctx)
	if err != nil {
		slog.Warn("mm: reconcile inventory", "err", err)
	} else {
		for _, d := range e.ledger.Reconcile(rows) {
			slog.Warn("mm: inventory divergence corrected",
				"market", domain.ShortID(d.MarketID),
				"outcome", d.Outcome,
				"memory", d.Memory,
				"store", d.Snapshot,
			)
		}
	}

	open, err := e.exchange.OpenOrders(ctx)
	if err != nil {
		slog.Warn("mm: reconcile open orders", "err", err)
		return
	}
	live := make(map[string]bool, len(open))
	for _, o := range open {
		live[o.OrderID] = true
	}
	phantoms := 0
	for _, id := range e.pairIDs() {
		pair := e.pairs[id]
		for _, leg := range []domain.Leg{pair.Bid, pair.Ask} {
			if leg.State == domain.OrderLive && leg.OrderID != "" && !live[leg.OrderID] {
				phantoms++
				slog.Warn("mm: phantom leg", "market", domain.ShortID(id), "order", leg.OrderID)
			}
		}
	}
	slog.Info("mm: periodic reconcile", "cycle", e.cycle, "open_orders", len(open), "phantoms", phantoms)
}
