package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// QuoteStore persiste los QuotePairs.
type QuoteStore interface {
	InsertQuote(ctx context.Context, q domain.QuoteRecord) (int64, error)
	UpdateQuoteStatus(ctx context.Context, id int64, status string) error
	ActiveQuotes(ctx context.Context) ([]domain.QuoteRecord, error)
	QuotesByID(ctx context.Context, ids []int64) (map[int64]domain.QuoteRecord, error)
}

// FillStore persiste fills y sus muestras de adverse selection.
type FillStore interface {
	InsertFill(ctx context.Context, f domain.Fill) (int64, error)
	// PendingFills devuelve fills sin adverse selection medido desde since.
	PendingFills(ctx context.Context, since time.Time) ([]domain.Fill, error)
	UpdateFillMid30(ctx context.Context, id int64, mid float64) error
	UpdateFillMid120(ctx context.Context, id int64, mid, adverseBps float64) error
	FillsBetween(ctx context.Context, from, to time.Time) ([]domain.Fill, error)
	// RecentAdverse devuelve los últimos n adverse selection medidos, el más reciente primero.
	RecentAdverse(ctx context.Context, n int) ([]float64, error)
}

// InventoryStore es el espejo durable del ledger.
type InventoryStore interface {
	UpsertInventory(ctx context.Context, row domain.InventoryRow) error
	Inventory(ctx context.Context) ([]domain.InventoryRow, error)
}

// MetricsStore persiste agregados diarios y el estado del bot.
type MetricsStore interface {
	UpsertDailyMetrics(ctx context.Context, m domain.DailyMetrics) error
	DailyMetricsSince(ctx context.Context, fromDate string) ([]domain.DailyMetrics, error)
	SaveBotStatus(ctx context.Context, s domain.BotStatus) error
	LoadBotStatus(ctx context.Context) (domain.BotStatus, error)
}

// SignalStore guarda las señales operativas que el engine lee cada ciclo.
type SignalStore interface {
	Signals(ctx context.Context) (domain.Signals, error)
	SetSignal(ctx context.Context, key, value string) error
}

// ExecutionStore registra operaciones on-chain y arbitrajes ejecutados.
type ExecutionStore interface {
	SaveCollateral(ctx context.Context, r domain.CollateralResult) error
	CollateralHistory(ctx context.Context, since time.Time) ([]domain.CollateralResult, error)
	SaveArbResult(ctx context.Context, r domain.ArbResult) error
}

// Store agrupa todas las capacidades de persistencia.
type Store interface {
	QuoteStore
	FillStore
	InventoryStore
	MetricsStore
	SignalStore
	ExecutionStore

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
