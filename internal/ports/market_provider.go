package ports

import (
	"context"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// MarketProvider obtiene el universo de mercados cotizables.
type MarketProvider interface {
	// FetchSamplingMarkets devuelve los mercados activos del CLOB
	// enriquecidos con Gamma (pregunta, fecha de resolución, neg-risk).
	// Pagina automáticamente hasta obtener todos los resultados.
	FetchSamplingMarkets(ctx context.Context) ([]domain.Market, error)
}
