// Package inventory tracks per-market YES/NO positions, cost basis and
// realized PnL for the market maker.
package inventory

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
)

const (
	// epsilon bajo el cual una posición se considera plana.
	epsilon = 1e-9
	// divergenceThreshold en shares para corregir contra el snapshot.
	divergenceThreshold = 0.1
	// splitLegCost es el coste por token de un complete-set ($1 por par).
	splitLegCost = 0.5
)

// Position is one outcome leg of a market.
type Position struct {
	TokenID     string
	Net         float64 // shares, positivo = largo
	AvgEntry    float64
	RealizedPnL float64
}

// apply aplica un fill y devuelve el PnL realizado.
func (p *Position) apply(side domain.Side, price, size float64) float64 {
	delta := size
	if side == domain.SideSell {
		delta = -size
	}
	old := p.Net
	next := old + delta
	var realized float64

	switch {
	case math.Abs(old) < epsilon || (old > 0) == (delta > 0):
		// misma dirección: coste medio ponderado por tamaño
		p.AvgEntry = (p.AvgEntry*math.Abs(old) + price*size) / math.Abs(next)
	default:
		closed := math.Min(size, math.Abs(old))
		if old > 0 {
			realized = (price - p.AvgEntry) * closed
		} else {
			realized = (p.AvgEntry - price) * closed
		}
		p.RealizedPnL += realized
		if math.Abs(next) > epsilon && (next > 0) != (old > 0) {
			p.AvgEntry = price
		}
	}

	if math.Abs(next) < epsilon {
		next = 0
		p.AvgEntry = 0
	}
	p.Net = next
	return realized
}

// valueAt devuelve |Net| valorado al coste medio, o a fallback si no hay coste.
func (p Position) valueAt(fallback float64) float64 {
	price := p.AvgEntry
	if price <= 0 {
		price = fallback
	}
	return math.Abs(p.Net) * price
}

// Market es el inventario YES + NO de un mercado.
type Market struct {
	MarketID  string
	Yes       Position
	No        Position
	UpdatedAt time.Time
}

// Mergeable devuelve los pares YES+NO que pueden convertirse en USDC.
func (m Market) Mergeable() float64 {
	if m.Yes.Net > 0 && m.No.Net > 0 {
		return math.Min(m.Yes.Net, m.No.Net)
	}
	return 0
}

// Divergence es una corrección aplicada durante Reconcile.
type Divergence struct {
	MarketID string
	TokenID  string
	Outcome  domain.Outcome
	Memory   float64
	Snapshot float64
}

// Ledger is the in-memory inventory. It is owned by the quoting loop and is
// not safe for concurrent use.
type Ledger struct {
	markets map[string]*Market
	now     func() time.Time
}

// NewLedger crea un ledger vacío.
func NewLedger() *Ledger {
	return &Ledger{markets: make(map[string]*Market), now: time.Now}
}

func (l *Ledger) get(marketID string) *Market {
	m, ok := l.markets[marketID]
	if !ok {
		m = &Market{MarketID: marketID}
		l.markets[marketID] = m
	}
	return m
}

// Register asocia los token IDs YES/NO a un mercado.
func (l *Ledger) Register(marketID, yesToken, noToken string) {
	m := l.get(marketID)
	if yesToken != "" {
		m.Yes.TokenID = yesToken
	}
	if noToken != "" {
		m.No.TokenID = noToken
	}
}

// leg resuelve la pata de tokenID. Un token nuevo ocupa la primera pata libre.
func (m *Market) leg(tokenID string) (*Position, domain.Outcome, error) {
	switch {
	case tokenID == m.Yes.TokenID:
		return &m.Yes, domain.OutcomeYes, nil
	case tokenID == m.No.TokenID:
		return &m.No, domain.OutcomeNo, nil
	case m.Yes.TokenID == "":
		m.Yes.TokenID = tokenID
		return &m.Yes, domain.OutcomeYes, nil
	case m.No.TokenID == "":
		m.No.TokenID = tokenID
		return &m.No, domain.OutcomeNo, nil
	}
	return nil, "", fmt.Errorf("token %s does not belong to market %s", domain.ShortID(tokenID), domain.ShortID(m.MarketID))
}

// ApplyFill updates the leg of tokenID with a fill and returns the realized PnL.
// Adding to a position re-weights the average entry; reducing realizes PnL
// and keeps it; crossing zero resets it to the fill price.
func (l *Ledger) ApplyFill(marketID, tokenID string, side domain.Side, price, size float64) (float64, error) {
	if size <= 0 || price < 0 || math.IsNaN(price) || math.IsNaN(size) {
		return 0, fmt.Errorf("inventory.ApplyFill: invalid fill %s %.4f@%.4f", side, size, price)
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return 0, fmt.Errorf("inventory.ApplyFill: invalid side %q", side)
	}
	m := l.get(marketID)
	pos, outcome, err := m.leg(tokenID)
	if err != nil {
		return 0, fmt.Errorf("inventory.ApplyFill: %w", err)
	}
	old := pos.Net
	realized := pos.apply(side, price, size)
	m.UpdatedAt = l.now()

	slog.Debug("inventory fill",
		"market", domain.ShortID(marketID),
		"outcome", outcome,
		"side", side,
		"size", size,
		"price", price,
		"position", fmt.Sprintf("%.2f -> %.2f", old, pos.Net),
		"realized", realized,
	)
	return realized, nil
}

// ProcessSplit adds amount to both legs: amount USDC becomes amount YES + amount NO.
// A flat leg takes the complete-set cost of 0.5 per token; an open leg keeps its basis.
func (l *Ledger) ProcessSplit(marketID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("inventory.ProcessSplit: invalid amount %.4f", amount)
	}
	m := l.get(marketID)
	for _, pos := range []*Position{&m.Yes, &m.No} {
		old := pos.Net
		pos.Net += amount
		if math.Abs(old) < epsilon || (old < 0) != (pos.Net < 0) {
			pos.AvgEntry = splitLegCost
		}
		if math.Abs(pos.Net) < epsilon {
			pos.Net, pos.AvgEntry = 0, 0
		}
	}
	m.UpdatedAt = l.now()
	slog.Info("inventory split", "market", domain.ShortID(marketID), "amount", amount,
		"yes", m.Yes.Net, "no", m.No.Net)
	return nil
}

// ProcessMerge removes amount from both legs, returning amount USDC. Fails
// without changes if either leg holds less than amount.
func (l *Ledger) ProcessMerge(marketID string, amount float64) error {
	m := l.get(marketID)
	if amount <= 0 || m.Yes.Net+epsilon < amount || m.No.Net+epsilon < amount {
		return fmt.Errorf("inventory.ProcessMerge: requested %.2f but YES=%.2f NO=%.2f",
			amount, m.Yes.Net, m.No.Net)
	}
	for _, pos := range []*Position{&m.Yes, &m.No} {
		pos.Net -= amount
		if math.Abs(pos.Net) < epsilon {
			pos.Net, pos.AvgEntry = 0, 0
		}
	}
	m.UpdatedAt = l.now()
	slog.Info("inventory merge", "market", domain.ShortID(marketID), "amount", amount,
		"yes", m.Yes.Net, "no", m.No.Net)
	return nil
}

// ExposureUSD devuelve el valor YES + NO de un mercado. Sin coste medio se
// valora YES a mid y NO a 1-mid.
func (l *Ledger) ExposureUSD(marketID string, mid float64) float64 {
	m, ok := l.markets[marketID]
	if !ok {
		return 0
	}
	noMark := 0.0
	if mid > 0 {
		noMark = 1 - mid
	}
	return m.Yes.valueAt(mid) + m.No.valueAt(noMark)
}

// UnwindUrgency returns how close the market's exposure is to capUSD, in [0, 1].
func (l *Ledger) UnwindUrgency(marketID string, capUSD, mid float64) float64 {
	if capUSD <= 0 {
		return 0
	}
	return math.Min(1, l.ExposureUSD(marketID, mid)/capUSD)
}

// IsAtCapacity devuelve true si la exposición del mercado alcanzó maxPerMarket.
func (l *Ledger) IsAtCapacity(marketID string, maxPerMarket, mid float64) bool {
	return l.ExposureUSD(marketID, mid) >= maxPerMarket
}

// SkewDirection devuelve (valor YES − valor NO) / maxPerMarket. Positivo = largo YES.
func (l *Ledger) SkewDirection(marketID string, maxPerMarket float64) float64 {
	m, ok := l.markets[marketID]
	if !ok || maxPerMarket <= 0 {
		return 0
	}
	yes := m.Yes.Net * orDefault(m.Yes.AvgEntry, splitLegCost)
	no := m.No.Net * orDefault(m.No.AvgEntry, splitLegCost)
	return (yes - no) / maxPerMarket
}

// MergeableAmount devuelve los pares que pueden hacer merge.
func (l *Ledger) MergeableAmount(marketID string) float64 {
	if m, ok := l.markets[marketID]; ok {
		return m.Mergeable()
	}
	return 0
}

// Market devuelve una copia del inventario del mercado.
func (l *Ledger) Market(marketID string) Market {
	if m, ok := l.markets[marketID]; ok {
		return *m
	}
	return Market{MarketID: marketID}
}

// MarketIDs devuelve los mercados con inventario, ordenados.
func (l *Ledger) MarketIDs() []string {
	ids := make([]string, 0, len(l.markets))
	for id := range l.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TotalExposure suma |posición| × coste medio de todas las patas.
func (l *Ledger) TotalExposure() float64 {
	var total float64
	for _, m := range l.markets {
		total += m.Yes.valueAt(0) + m.No.valueAt(0)
	}
	return total
}

// TotalRealizedPnL suma el PnL realizado de todas las patas.
func (l *Ledger) TotalRealizedPnL() float64 {
	var total float64
	for _, m := range l.markets {
		total += m.Yes.RealizedPnL + m.No.RealizedPnL
	}
	return total
}

// Rows devuelve las filas persistibles del mercado: YES primero, luego NO.
func (l *Ledger) Rows(marketID string) []domain.InventoryRow {
	m, ok := l.markets[marketID]
	if !ok {
		return nil
	}
	var rows []domain.InventoryRow
	if m.Yes.TokenID != "" {
		rows = append(rows, row(m, m.Yes, domain.OutcomeYes))
	}
	if m.No.TokenID != "" {
		rows = append(rows, row(m, m.No, domain.OutcomeNo))
	}
	return rows
}

// Snapshot devuelve todas las filas, ordenadas por mercado.
func (l *Ledger) Snapshot() []domain.InventoryRow {
	var rows []domain.InventoryRow
	for _, id := range l.MarketIDs() {
		rows = append(rows, l.Rows(id)...)
	}
	return rows
}

func row(m *Market, p Position, outcome domain.Outcome) domain.InventoryRow {
	return domain.InventoryRow{
		MarketID:      m.MarketID,
		TokenID:       p.TokenID,
		Outcome:       outcome,
		NetPosition:   p.Net,
		AvgEntryPrice: p.AvgEntry,
		RealizedPnL:   p.RealizedPnL,
		UpdatedAt:     m.UpdatedAt,
	}
}

// Load replaces the in-memory state with persisted rows.
func (l *Ledger) Load(rows []domain.InventoryRow) {
	l.markets = make(map[string]*Market)
	for _, r := range rows {
		m := l.get(r.MarketID)
		pos := &m.Yes
		if r.Outcome == domain.OutcomeNo {
			pos = &m.No
		}
		*pos = Position{
			TokenID:     r.TokenID,
			Net:         r.NetPosition,
			AvgEntry:    r.AvgEntryPrice,
			RealizedPnL: r.RealizedPnL,
		}
		if r.UpdatedAt.After(m.UpdatedAt) {
			m.UpdatedAt = r.UpdatedAt
		}
	}
	slog.Info("inventory loaded", "markets", len(l.markets), "rows", len(rows))
}

// Reconcile compares memory against a trusted snapshot and adopts the
// snapshot position on every leg that differs by more than 0.1 shares.
// Every correction is returned.
func (l *Ledger) Reconcile(snapshot []domain.InventoryRow) []Divergence {
	var out []Divergence
	for _, r := range snapshot {
		m := l.get(r.MarketID)
		pos := &m.Yes
		if r.Outcome == domain.OutcomeNo {
			pos = &m.No
		}
		if math.Abs(pos.Net-r.NetPosition) <= divergenceThreshold {
			continue
		}
		out = append(out, Divergence{
			MarketID: r.MarketID,
			TokenID:  r.TokenID,
			Outcome:  r.Outcome,
			Memory:   pos.Net,
			Snapshot: r.NetPosition,
		})
		if pos.TokenID == "" {
			pos.TokenID = r.TokenID
		}
		pos.Net = r.NetPosition
		if pos.AvgEntry == 0 {
			pos.AvgEntry = r.AvgEntryPrice
		}
		m.UpdatedAt = l.now()
	}
	return out
}

func orDefault(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
