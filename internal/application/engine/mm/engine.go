// Package mm runs the market-making loop: fill reconciliation, capital
// allocation, pricing and order placement for every market in the universe,
// plus the periodic merge, arbitrage and reconciliation passes.
package mm

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polymm/internal/application/engine"
	"github.com/alejandrodnm/polymm/internal/arbitrage"
	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/inventory"
	"github.com/alejandrodnm/polymm/internal/ports"
	"github.com/alejandrodnm/polymm/internal/pricing"
	"github.com/alejandrodnm/polymm/internal/risk"
)

const (
	// fuera de esta banda de mid no hay spread que capturar
	minQuoteMid = 0.02
	maxQuoteMid = 0.98
	// hangingRepriceMin es el movimiento mínimo para reemplazar una pata LIVE en un requote hanging
	hangingRepriceMin = 0.005
	// minBookable ignora restos de matching por debajo de esto (shares)
	minBookable = 0.01
)

// Config holds configuration for the market-making engine.
type Config struct {
	MaxMarkets       int
	QuoteSizeUSD     float64
	RequoteThreshold float64 // puntos de movimiento del mid
	MinQuoteLifetime time.Duration
	PostOnly         bool
	TwoSided         bool
	SplitMerge       bool
	HangingOrders    bool
	SplitSizeUSD     float64
	MergeThreshold   float64
	MergeEvery       int // ciclos
	ReconcileEvery   int // ciclos

	PricingEngine  string // pricing.EngineAS | pricing.EngineLegacy
	Delta          pricing.DeltaParams
	SkewFactor     float64
	AS             pricing.ASParams
	VolHalflife    int
	StaleThreshold time.Duration
	KappaWindow    time.Duration

	ASFeedback             bool
	ASFeedbackThresholdBps float64
	ASFeedbackEvery        int

	Limits    risk.Limits
	Cooldowns risk.CooldownConfig
	Arb       ArbConfig
}

// ArbConfig controla el pase de arbitraje de complete-set.
type ArbConfig struct {
	Enabled      bool
	MinProfitPct float64
	MaxSizeUSD   float64
	GasCostUSD   float64
	Every        int
	FillWait     time.Duration
}

// Deps son los colaboradores externos del engine. Collateral y Adverse son
// opcionales: sin Collateral no hay split/merge ni arbitraje.
type Deps struct {
	Universe   engine.Universe
	Exchange   ports.Exchange
	Collateral ports.Collateral
	Store      ports.Store
	Adverse    engine.AdverseSource
}

// Engine is the quoting loop. All state below mu is owned by the goroutine
// that calls RunCycle; other goroutines only read Status.
type Engine struct {
	cfg        Config
	universe   engine.Universe
	exchange   ports.Exchange
	collateral ports.Collateral
	store      ports.Store
	adverse    engine.AdverseSource

	ledger    *inventory.Ledger
	model     pricing.Model
	as        *pricing.ASModel // nil con el modelo legacy
	vol       *pricing.VolTracker
	stale     *pricing.StaleTracker
	kappa     *pricing.KappaEstimator
	gate      *risk.Gate
	cooldowns *risk.Cooldowns
	arbScan   arbitrage.Scanner
	arbExec   *arbitrage.Executor

	pairs       map[string]*domain.QuotePair // por market ID
	markets     map[string]domain.Market     // metadata de todo mercado visto
	current     []string                     // universo del ciclo, en orden de ranking
	splitFailed map[string]bool
	cycle       int64
	now         func() time.Time

	mu     sync.RWMutex
	status domain.BotStatus
}

// New creates the engine and its in-memory state.
func New(cfg Config, deps Deps) *Engine {
	if cfg.MergeEvery <= 0 {
		cfg.MergeEvery = 6
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 60
	}
	if cfg.ASFeedbackEvery <= 0 {
		cfg.ASFeedbackEvery = 30
	}
	if cfg.Arb.Every <= 0 {
		cfg.Arb.Every = 3
	}

	e := &Engine{
		cfg:         cfg,
		universe:    deps.Universe,
		exchange:    deps.Exchange,
		collateral:  deps.Collateral,
		store:       deps.Store,
		adverse:     deps.Adverse,
		ledger:      inventory.NewLedger(),
		vol:         pricing.NewVolTracker(cfg.VolHalflife),
		stale:       pricing.NewStaleTracker(cfg.StaleThreshold),
		kappa:       pricing.NewKappaEstimator(cfg.KappaWindow, cfg.AS.Kappa),
		gate:        risk.NewGate(cfg.Limits),
		cooldowns:   risk.NewCooldowns(cfg.Cooldowns),
		arbScan:     arbitrage.Scanner{GasCostUSD: cfg.Arb.GasCostUSD, MinProfitPct: cfg.Arb.MinProfitPct},
		pairs:       make(map[string]*domain.QuotePair),
		markets:     make(map[string]domain.Market),
		splitFailed: make(map[string]bool),
		now:         time.Now,
	}

	if cfg.PricingEngine == pricing.EngineLegacy {
		e.model = pricing.DeltaModel{Params: cfg.Delta, SkewFactor: cfg.SkewFactor}
	} else {
		e.as = &pricing.ASModel{Params: cfg.AS}
		e.model = e.as
	}
	if deps.Collateral != nil {
		e.arbExec = arbitrage.NewExecutor(deps.Exchange, deps.Collateral, e.ledger,
			cfg.Arb.MaxSizeUSD, cfg.Arb.GasCostUSD, cfg.Arb.FillWait)
	}
	return e
}

// WithClock reemplaza el reloj (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Status devuelve una copia de los contadores del último ciclo.
// Safe for concurrent use.
func (e *Engine) Status() domain.BotStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Model devuelve el nombre del modelo de pricing activo.
func (e *Engine) Model() string {
	return e.model.Name()
}

// Shutdown cancela todas las órdenes y marca los pares como cancelados.
func (e *Engine) Shutdown(ctx context.Context) error {
	slog.Info("mm: shutting down, cancelling quotes", "pairs", len(e.pairs))
	return e.cancelEverything(ctx, domain.QuoteCancelled)
}

// cancelEverything usa CancelAll del CLOB y cierra todos los pares en memoria.
func (e *Engine) cancelEverything(ctx context.Context, status string) error {
	err := e.exchange.CancelAll(ctx)
	for _, id := range e.pairIDs() {
		pair := e.pairs[id]
		for _, leg := range []*domain.Leg{&pair.Bid, &pair.Ask} {
			if leg.State.IsOpen() || leg.State == domain.OrderUnknown {
				leg.Transition(domain.OrderCancelled)
			}
		}
		e.setQuoteStatus(ctx, pair, status)
		delete(e.pairs, id)
	}
	return err
}

// publish actualiza el snapshot de status y lo persiste.
func (e *Engine) publish(ctx context.Context, cs *cycleState) {
	active := 0
	for _, p := range e.pairs {
		if p.IsActive() {
			active++
		}
	}
	st := domain.BotStatus{
		Cycle:         e.cycle,
		ActiveMarkets: len(e.current),
		ActiveQuotes:  active,
		Exposure:      e.ledger.TotalExposure(),
		RealizedPnL:   e.ledger.TotalRealizedPnL(),
		FreeCapital:   cs.free,
		Paused:        e.gate.Paused(),
		ReduceMode:    cs.signals.ReduceMode,
		CoolingDown:   e.cooldowns.CoolingDown(cs.now),
		LastCycle:     cs.now,
	}
	e.mu.Lock()
	e.status = st
	e.mu.Unlock()

	if err := e.store.SaveBotStatus(ctx, st); err != nil {
		slog.Warn("mm: save bot status", "err", err)
	}
}

// pairIDs devuelve los market IDs con par activo, ordenados.
func (e *Engine) pairIDs() []string {
	ids := make([]string, 0, len(e.pairs))
	for id := range e.pairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// persistInventory escribe las filas YES/NO del mercado.
func (e *Engine) persistInventory(ctx context.Context, marketID string) {
	for _, row := range e.ledger.Rows(marketID) {
		if err := e.store.UpsertInventory(ctx, row); err != nil {
			slog.Warn("mm: persist inventory", "market", domain.ShortID(marketID), "err", err)
		}
	}
}

func (e *Engine) setQuoteStatus(ctx context.Context, pair *domain.QuotePair, status string) {
	if pair.DBID == 0 {
		return
	}
	if err := e.store.UpdateQuoteStatus(ctx, pair.DBID, status); err != nil {
		slog.Warn("mm: update quote status", "market", domain.ShortID(pair.MarketID), "status", status, "err", err)
	}
}

func (e *Engine) insertQuote(ctx context.Context, pair *domain.QuotePair) {
	rec := domain.QuoteRecord{
		PairID:     pair.ID,
		MarketID:   pair.MarketID,
		TokenID:    pair.TokenID,
		BidOrderID: pair.Bid.OrderID,
		AskOrderID: pair.Ask.OrderID,
		BidPrice:   pair.Bid.Price,
		AskPrice:   pair.Ask.Price,
		BidSize:    pair.Bid.Size,
		AskSize:    pair.Ask.Size,
		MidAtQuote: pair.QuotedMid,
		Status:     domain.QuoteActive,
		CreatedAt:  pair.CreatedAt,
		UpdatedAt:  pair.CreatedAt,
	}
	id, err := e.store.InsertQuote(ctx, rec)
	if err != nil {
		slog.Warn("mm: insert quote", "market", domain.ShortID(pair.MarketID), "err", err)
		return
	}
	pair.DBID = id
}

func (e *Engine) saveCollateral(ctx context.Context, res domain.CollateralResult) {
	if res.Op == "" {
		return
	}
	if err := e.store.SaveCollateral(ctx, res); err != nil {
		slog.Warn("mm: save collateral op", "op", res.Op, "err", err)
	}
}
