package engine

import (
	"context"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// Universe es la interfaz mínima que el engine necesita del scanner.
// Desacopla el engine de *scanner.Scanner concreto.
type Universe interface {
	// Markets devuelve los mercados a cotizar, ya filtrados y rankeados.
	Markets(ctx context.Context) ([]domain.Market, error)
}

// AdverseSource expone el adverse selection rolling (bps) para el feedback de γ.
type AdverseSource interface {
	RollingAdverse(ctx context.Context) (float64, error)
}
