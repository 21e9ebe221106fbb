package domain

import "time"

// ProfitFactorCap sustituye a +Inf cuando hay ganancias y ninguna pérdida.
const ProfitFactorCap = 999.9

// DailyMetrics es el agregado diario de performance, una fila por fecha UTC.
type DailyMetrics struct {
	Date                string // YYYY-MM-DD
	FillsCount          int
	SpreadCaptureRate   float64
	FillQualityAvgBps   float64
	AdverseSelectionBps float64
	PnLGross            float64
	PnLNet              float64
	MaxInventory        float64
	InventoryTurns      float64
	ProfitFactor        float64
	Sharpe7d            float64
	PortfolioValue      float64
	UpdatedAt           time.Time
}

// BotStatus son los contadores que publica el loop de quoting.
type BotStatus struct {
	Cycle         int64
	ActiveMarkets int
	ActiveQuotes  int
	Exposure      float64
	RealizedPnL   float64
	FreeCapital   float64
	Paused        bool
	ReduceMode    bool
	CoolingDown   int // mercados en cooldown o con breaker abierto
	LastCycle     time.Time
}

// Keys de las señales operativas en el store.
const (
	SignalPaused     = "paused"
	SignalReduceMode = "reduce_mode"
	SignalKillSwitch = "kill_switch"
	SignalKillList   = "kill_list" // market IDs separados por coma
)

// Signals son las señales operativas externas, leídas una vez por ciclo.
type Signals struct {
	Paused     bool
	ReduceMode bool
	KillSwitch bool
	KillList   []string // market IDs a desalojar
}

// Killed devuelve true si marketID está en la kill list.
func (s Signals) Killed(marketID string) bool {
	for _, id := range s.KillList {
		if id == marketID {
			return true
		}
	}
	return false
}
