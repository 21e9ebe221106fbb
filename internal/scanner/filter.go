package scanner

import (
	"github.com/alejandrodnm/polymm/internal/domain"
)

// FilterConfig contiene los parámetros del pre-filtro sobre metadata de mercado.
type FilterConfig struct {
	// MinHoursToResolution descarta mercados que se resuelven antes de X horas.
	MinHoursToResolution float64
	// MaxDaysToResolution descarta mercados demasiado lejanos (capital inmovilizado).
	MaxDaysToResolution float64
	// MinVolume24h descarta mercados sin actividad (USDC en 24h).
	MinVolume24h float64
	// MinPrice y MaxPrice acotan el precio YES: cerca de 0 o 1 no hay spread que capturar.
	MinPrice float64
	MaxPrice float64
	// MinSpreadPts es el spread mínimo del book (puntos) para cotizar dentro.
	MinSpreadPts float64
}

// DefaultFilterConfig devuelve una configuración de filtrado conservadora.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinHoursToResolution: 24,
		MaxDaysToResolution:  60,
		MinPrice:             0.02,
		MaxPrice:             0.98,
		MinSpreadPts:         1,
	}
}

// Filter aplica los filtros configurados sobre una lista de mercados.
type Filter struct {
	cfg FilterConfig
}

// NewFilter crea un Filter con la configuración dada.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Apply devuelve los mercados que pasan todos los filtros de metadata.
func (f *Filter) Apply(markets []domain.Market) []domain.Market {
	result := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if f.passes(m) {
			result = append(result, m)
		}
	}
	return result
}

// passes devuelve true si el mercado supera todos los criterios.
func (f *Filter) passes(m domain.Market) bool {
	if !m.Active || m.Closed {
		return false
	}
	if m.ConditionID == "" || m.YesToken().TokenID == "" || m.NoToken().TokenID == "" {
		return false
	}
	// sin fecha de resolución pasa: Gamma no siempre la informa
	if !m.EndDate.IsZero() {
		hours := m.HoursToResolution()
		if f.cfg.MinHoursToResolution > 0 && hours < f.cfg.MinHoursToResolution {
			return false
		}
		if f.cfg.MaxDaysToResolution > 0 && hours/24 > f.cfg.MaxDaysToResolution {
			return false
		}
	}
	if f.cfg.MinVolume24h > 0 && m.Volume24h < f.cfg.MinVolume24h {
		return false
	}
	if p := m.YesToken().Price; p > 0 && !f.inBand(p) {
		return false
	}
	return true
}

// passesBook aplica los filtros que dependen del book (spread y mid).
func (f *Filter) passesBook(spreadPts, mid float64) bool {
	if !f.inBand(mid) {
		return false
	}
	return spreadPts >= f.cfg.MinSpreadPts
}

func (f *Filter) inBand(price float64) bool {
	if f.cfg.MinPrice > 0 && price < f.cfg.MinPrice {
		return false
	}
	if f.cfg.MaxPrice > 0 && price > f.cfg.MaxPrice {
		return false
	}
	return true
}
