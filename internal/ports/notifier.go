package ports

import (
	"context"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// StatusReport es la foto que se presenta al operador.
type StatusReport struct {
	Status    domain.BotStatus
	Inventory []domain.InventoryRow
	Quotes    []domain.QuoteRecord
	Daily     []domain.DailyMetrics
	// Collateral son los splits y merges recientes, en orden cronológico.
	Collateral []domain.CollateralResult
}

// Notifier presenta el estado del market maker al usuario.
type Notifier interface {
	// Report imprime el estado. En la implementación de consola, tablas formateadas.
	Report(ctx context.Context, report StatusReport) error
}
