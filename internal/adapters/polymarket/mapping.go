package polymarket

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// mapSamplingMarkets convierte los DTOs del CLOB a domain.Market.
func mapSamplingMarkets(raw []samplingMarket) []domain.Market {
	markets := make([]domain.Market, 0, len(raw))
	for _, r := range raw {
		markets = append(markets, mapSamplingMarket(r))
	}
	return markets
}

// mapSamplingMarket convierte un samplingMarket DTO a domain.Market.
func mapSamplingMarket(r samplingMarket) domain.Market {
	m := domain.Market{
		ConditionID: r.ConditionID,
		QuestionID:  r.QuestionID,
		Question:    r.Question,
		Slug:        r.MarketSlug,
		EndDate:     parseDate(r.EndDateISO),
		NegRisk:     r.NegRisk,
		Active:      r.Active,
		Closed:      r.Closed,
	}
	if v, err := r.MinimumOrderSize.Float64(); err == nil && v > 0 {
		m.MinOrderSize = v
	}

	for i, t := range r.Tokens {
		if i >= 2 {
			break
		}
		m.Tokens[i] = domain.Token{
			TokenID: t.TokenID,
			Outcome: t.Outcome,
			Price:   t.Price,
		}
	}

	return m
}

// enrichFromGamma aplica la metadata de Gamma sobre un mercado existente.
// Gamma manda sobre el CLOB en pregunta, slug y fecha; neg-risk se acumula.
func enrichFromGamma(m *domain.Market, gm gammaMarket) {
	if gm.Question != "" {
		m.Question = gm.Question
	}
	if gm.Slug != "" {
		m.Slug = gm.Slug
	}
	if v, err := gm.Volume24h.Float64(); err == nil {
		m.Volume24h = v
	}
	if v, err := gm.OrderMinSize.Float64(); err == nil && v > 0 && m.MinOrderSize == 0 {
		m.MinOrderSize = v
	}
	m.NegRisk = m.NegRisk || gm.NegRisk
	if t := parseDate(gm.EndDateISO); !t.IsZero() {
		m.EndDate = t
	}
}

// parseDate prueba los formatos de fecha que usa Polymarket.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = mapOrderBook(r)
	}
	return result
}

// mapOrderBook convierte un book raw. min_order_size ausente o inválido vale 5.
func mapOrderBook(r orderBookResponse) domain.OrderBook {
	minSize := parseDecimal(r.MinOrderSize)
	if minSize <= 0 {
		minSize = domain.DefaultMinOrderSize
	}
	return domain.OrderBook{
		TokenID:      r.AssetID,
		Bids:         mapBookEntries(r.Bids, false),
		Asks:         mapBookEntries(r.Asks, true),
		MinOrderSize: minSize,
		UpdatedAt:    time.Now().UTC(),
	}
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price := parseDecimal(r.Price)
		size := parseDecimal(r.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}
	sortLevels(entries, ascending)
	return entries
}

func sortLevels(entries []domain.BookEntry, ascending bool) {
	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})
}

// mapExecution normaliza una orden del CLOB en metadata de ejecución.
// Filled si el status es MATCHED o si lo ejecutado cubre el tamaño original.
func mapExecution(o clobOrder) domain.OrderExecution {
	status := strings.ToUpper(o.Status)
	if status == "" {
		status = "UNKNOWN"
	}
	original := parseDecimal(o.OriginalSize)
	matched := parseDecimal(o.SizeMatched)

	avg := parseDecimal(o.AvgPrice)
	if avg <= 0 {
		avg = parseDecimal(o.Price)
	}

	e := domain.OrderExecution{
		OrderID:      o.ID,
		Status:       status,
		State:        domain.ParseCLOBStatus(status),
		OriginalSize: original,
		SizeMatched:  matched,
		AvgFillPrice: avg,
		FeesPaid:     parseDecimal(o.FeesPaid),
		Filled:       status == "MATCHED" || (original > 0 && matched >= original),
	}
	if avg > 0 && matched > 0 {
		e.Notional = decimal.NewFromFloat(avg).Mul(decimal.NewFromFloat(matched)).InexactFloat64()
	}
	return e
}

// mapOpenOrder convierte una orden de GET /data/orders.
func mapOpenOrder(o clobOrder) domain.OpenOrder {
	return domain.OpenOrder{
		OrderID:      o.ID,
		TokenID:      o.AssetID,
		Market:       o.Market,
		Side:         domain.Side(strings.ToUpper(o.Side)),
		Price:        parseDecimal(o.Price),
		OriginalSize: parseDecimal(o.OriginalSize),
		SizeMatched:  parseDecimal(o.SizeMatched),
		Status:       strings.ToUpper(o.Status),
	}
}

// parseDecimal interpreta un string numérico de la API; vacío o inválido vale 0.
func parseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
