package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

// fallbackSpreadPts se asume cuando el CLOB no devuelve book para el token YES.
const fallbackSpreadPts = 4.0

// Config contiene la configuración del scanner de universo.
type Config struct {
	MaxMarkets int
	Refresh    time.Duration
	Filter     FilterConfig
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		MaxMarkets: 10,
		Refresh:    5 * time.Minute,
		Filter:     DefaultFilterConfig(),
	}
}

// Candidate es un mercado que pasó todos los filtros, con los datos de book
// usados para rankearlo.
type Candidate struct {
	Market    domain.Market
	SpreadPts float64
	Mid       float64
	DepthUSD  float64
}

// Scanner selecciona el universo de mercados cotizables y lo cachea durante
// cfg.Refresh. Es seguro para uso concurrente.
type Scanner struct {
	cfg     Config
	markets ports.MarketProvider
	books   ports.BookProvider
	filter  *Filter
	now     func() time.Time

	mu       sync.Mutex
	cache    []Candidate
	cachedAt time.Time
}

// New crea un Scanner con todas las dependencias inyectadas.
func New(cfg Config, markets ports.MarketProvider, books ports.BookProvider) *Scanner {
	if cfg.MaxMarkets <= 0 {
		cfg.MaxMarkets = DefaultConfig().MaxMarkets
	}
	return &Scanner{
		cfg:     cfg,
		markets: markets,
		books:   books,
		filter:  NewFilter(cfg.Filter),
		now:     time.Now,
	}
}

// Markets devuelve el universo actual, del cache si está fresco.
// Si el refresh falla y hay un universo previo, se sigue usando ese.
func (s *Scanner) Markets(ctx context.Context) ([]domain.Market, error) {
	cands, err := s.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Market, len(cands))
	for i, c := range cands {
		out[i] = c.Market
	}
	return out, nil
}

// Candidates es como Markets pero incluye spread, mid y profundidad.
func (s *Scanner) Candidates(ctx context.Context) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cache != nil && now.Sub(s.cachedAt) < s.cfg.Refresh {
		return s.cache, nil
	}

	cands, err := s.cycle(ctx)
	if err != nil {
		if s.cache != nil {
			slog.Warn("scanner: refresh failed, keeping previous universe", "markets", len(s.cache), "err", err)
			return s.cache, nil
		}
		return nil, err
	}

	s.cache = cands
	s.cachedAt = now
	return cands, nil
}

// Invalidate fuerza un refresh en la próxima llamada.
func (s *Scanner) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}

// cycle hace fetch → filter → books → rank → cap.
func (s *Scanner) cycle(ctx context.Context) ([]Candidate, error) {
	start := s.now()

	markets, err := s.markets.FetchSamplingMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner.cycle: fetch markets: %w", err)
	}

	filtered := s.filter.Apply(markets)
	filtered = boundCandidates(filtered, s.cfg.MaxMarkets)

	books, err := s.books.FetchOrderBooks(ctx, extractYesTokenIDs(filtered))
	if err != nil {
		// sin books seguimos con los precios de sampling-markets
		slog.Warn("scanner: fetch books failed, using sampling prices", "err", err)
		books = nil
	}

	cands := make([]Candidate, 0, len(filtered))
	for _, m := range filtered {
		c, ok := evaluate(m, books)
		if !ok || !s.filter.passesBook(c.SpreadPts, c.Mid) {
			continue
		}
		cands = append(cands, c)
	}

	ranked := rankBySpread(cands)
	if len(ranked) > s.cfg.MaxMarkets {
		ranked = ranked[:s.cfg.MaxMarkets]
	}

	slog.Info("scanner: universe refreshed",
		"markets", len(ranked),
		"candidates", len(filtered),
		"total", len(markets),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return ranked, nil
}

// evaluate arma el candidato desde el book YES; sin book usa el precio de
// sampling con un spread asumido.
func evaluate(m domain.Market, books map[string]domain.OrderBook) (Candidate, bool) {
	c := Candidate{Market: m}
	if book, ok := books[m.YesToken().TokenID]; ok {
		sum := book.Summary()
		if sum.HasMid {
			c.SpreadPts = sum.Spread * 100
			c.Mid = sum.Mid
			c.DepthUSD = sum.BidDepth5 + sum.AskDepth5
			return c, true
		}
	}
	p := m.YesToken().Price
	if p <= 0 {
		return c, false
	}
	c.Mid = p
	c.SpreadPts = fallbackSpreadPts
	return c, true
}

// boundCandidates acota los chequeos de book a los mercados más activos.
func boundCandidates(markets []domain.Market, maxMarkets int) []domain.Market {
	limit := maxMarkets * 30
	if limit < 150 {
		limit = 150
	}
	if len(markets) <= limit {
		return markets
	}
	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Volume24h > markets[j].Volume24h
	})
	return markets[:limit]
}

// extractYesTokenIDs extrae los token_ids YES de los mercados.
func extractYesTokenIDs(markets []domain.Market) []string {
	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		if id := m.YesToken().TokenID; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// rankBySpread ordena por spread descendente: más spread, más margen por fill.
// Empates por volumen.
func rankBySpread(cands []Candidate) []Candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].SpreadPts != cands[j].SpreadPts {
			return cands[i].SpreadPts > cands[j].SpreadPts
		}
		return cands[i].Market.Volume24h > cands[j].Market.Volume24h
	})
	return cands
}
