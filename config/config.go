package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del market maker.
type Config struct {
	MM      MMConfig      `yaml:"mm"`
	Arb     ArbConfig     `yaml:"arb"`
	Risk    RiskConfig    `yaml:"risk"`
	Metrics MetricsConfig `yaml:"metrics"`
	API     APIConfig     `yaml:"api"`
	Chain   ChainConfig   `yaml:"chain"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// MMConfig controla el ciclo de quoting.
type MMConfig struct {
	CycleSeconds            int     `yaml:"cycle_seconds"`
	MaxMarkets              int     `yaml:"max_markets"`
	QuoteSizeUSD            float64 `yaml:"quote_size_usd"`
	DeltaMin                float64 `yaml:"delta_min"` // puntos (0-100)
	DeltaMax                float64 `yaml:"delta_max"`
	MaxSpreadPts            float64 `yaml:"max_spread_pts"`
	InventorySkewFactor     float64 `yaml:"inventory_skew_factor"`
	RequoteThreshold        float64 `yaml:"requote_threshold"` // puntos de movimiento del mid
	MinQuoteLifetimeSeconds int     `yaml:"min_quote_lifetime_seconds"`
	StaleThresholdSeconds   float64 `yaml:"stale_threshold_seconds"`
	VolHalflife             int     `yaml:"vol_halflife"`
	PostOnly                bool    `yaml:"post_only"`
	TwoSided                bool    `yaml:"two_sided"`
	SplitMerge              bool    `yaml:"split_merge"`
	HangingOrders           bool    `yaml:"hanging_orders"`
	SplitSizeUSD            float64 `yaml:"split_size_usd"`
	MergeThreshold          float64 `yaml:"merge_threshold"` // pares mínimos para merge
	MergeEveryCycles        int     `yaml:"merge_every_cycles"`
	ReconcileEveryCycles    int     `yaml:"reconcile_every_cycles"`
	ScannerRefreshMinutes   int     `yaml:"scanner_refresh_minutes"`
	MinHoursToResolution    float64 `yaml:"min_hours_to_resolution"`
	MaxDaysToResolution     float64 `yaml:"max_days_to_resolution"`
	MinVolume24hUSD         float64 `yaml:"min_volume_24h_usd"`
	MinBookSpreadPts        float64 `yaml:"min_book_spread_pts"` // spread mínimo del book para entrar al universo
	StopFile                string  `yaml:"stop_file"`           // kill switch: si existe, cancela todo y pausa

	PricingEngine          string  `yaml:"pricing_engine"` // as | legacy
	ASGammaBase            float64 `yaml:"as_gamma_base"`
	ASGammaAlpha           float64 `yaml:"as_gamma_alpha"`
	ASKappaDefault         float64 `yaml:"as_kappa_default"`
	ASKappaWindowMinutes   int     `yaml:"as_kappa_window_minutes"`
	ASFeedback             bool    `yaml:"as_feedback"`
	ASFeedbackThresholdBps float64 `yaml:"as_feedback_threshold_bps"`
	ASFeedbackEveryCycles  int     `yaml:"as_feedback_every_cycles"`
}

// ArbConfig controla el scanner de arbitraje de complete-set.
type ArbConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MinProfitPct    float64 `yaml:"min_profit_pct"`
	MaxSizeUSD      float64 `yaml:"max_size_usd"`
	GasCostUSD      float64 `yaml:"gas_cost_usd"`
	EveryCycles     int     `yaml:"every_cycles"`
	FillWaitSeconds float64 `yaml:"fill_wait_seconds"`
}

// RiskConfig agrupa cooldowns, circuit breaker y límites de quote.
type RiskConfig struct {
	CrossRejectThreshold          int     `yaml:"cross_reject_threshold"`
	CrossCooldownSeconds          int     `yaml:"cross_cooldown_seconds"`
	CrossCooldownMaxSeconds       int     `yaml:"cross_cooldown_max_seconds"`
	CircuitBreakerThreshold       int     `yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldownSeconds int     `yaml:"circuit_breaker_cooldown_seconds"`
	MinSpreadPts                  float64 `yaml:"min_spread_pts"`
	MinPrice                      float64 `yaml:"min_price"`
	MaxPrice                      float64 `yaml:"max_price"`
	MaxExposurePct                float64 `yaml:"max_exposure_pct"` // % del balance on-chain
}

// MetricsConfig controla el loop de mantenimiento.
type MetricsConfig struct {
	AdverseSelectionEverySeconds int `yaml:"adverse_selection_every_seconds"`
	DailyEveryMinutes            int `yaml:"daily_every_minutes"`
	PendingWindowSeconds         int `yaml:"pending_window_seconds"`
	RollingWindow                int `yaml:"rolling_window"` // fills recientes para el AS rolling
	HeartbeatSeconds             int `yaml:"heartbeat_seconds"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	WSURL     string `yaml:"ws_url"`
	UseStream bool   `yaml:"use_stream"` // books vía websocket con fallback REST
}

// ChainConfig contiene las credenciales on-chain. La clave privada solo llega por env.
type ChainConfig struct {
	PrivateKey string `yaml:"-"`
	RPCURL     string `yaml:"rpc_url"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse interpreta un documento YAML y aplica overrides de entorno y defaults.
func Parse(data []byte) (*Config, error) {
	// Los bools que por defecto están activos se inicializan antes del unmarshal:
	// una key ausente en el YAML conserva el valor.
	cfg := Config{
		MM: MMConfig{
			PostOnly:      true,
			TwoSided:      true,
			SplitMerge:    true,
			HangingOrders: true,
			ASFeedback:    true,
		},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// CycleInterval devuelve el intervalo del ciclo de quoting.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.MM.CycleSeconds) * time.Second
}

// MinQuoteLifetime devuelve la vida mínima de un quote antes de re-cotizar.
func (c *Config) MinQuoteLifetime() time.Duration {
	return time.Duration(c.MM.MinQuoteLifetimeSeconds) * time.Second
}

// ScannerRefresh devuelve cada cuánto se refresca el universo de mercados.
func (c *Config) ScannerRefresh() time.Duration {
	return time.Duration(c.MM.ScannerRefreshMinutes) * time.Minute
}

// StaleThreshold devuelve el umbral de staleness del mid.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.MM.StaleThresholdSeconds * float64(time.Second))
}

// KappaWindow devuelve la ventana del estimador de kappa.
func (c *Config) KappaWindow() time.Duration {
	return time.Duration(c.MM.ASKappaWindowMinutes) * time.Minute
}

// ArbFillWait devuelve la espera entre colocar las patas del arb y verificar fills.
func (c *Config) ArbFillWait() time.Duration {
	return time.Duration(c.Arb.FillWaitSeconds * float64(time.Second))
}

// CrossCooldown devuelve el cooldown base tras rechazos post-only.
func (c *Config) CrossCooldown() time.Duration {
	return time.Duration(c.Risk.CrossCooldownSeconds) * time.Second
}

// CrossCooldownMax devuelve el techo del cooldown por rechazos post-only.
func (c *Config) CrossCooldownMax() time.Duration {
	return time.Duration(c.Risk.CrossCooldownMaxSeconds) * time.Second
}

// CircuitBreakerCooldown devuelve la pausa por mercado del circuit breaker.
func (c *Config) CircuitBreakerCooldown() time.Duration {
	return time.Duration(c.Risk.CircuitBreakerCooldownSeconds) * time.Second
}

// AdverseSelectionInterval devuelve cada cuánto se mide adverse selection.
func (c *Config) AdverseSelectionInterval() time.Duration {
	return time.Duration(c.Metrics.AdverseSelectionEverySeconds) * time.Second
}

// DailyMetricsInterval devuelve cada cuánto se agregan las métricas diarias.
func (c *Config) DailyMetricsInterval() time.Duration {
	return time.Duration(c.Metrics.DailyEveryMinutes) * time.Minute
}

// PendingWindow devuelve la ventana de fills pendientes de medición.
func (c *Config) PendingWindow() time.Duration {
	return time.Duration(c.Metrics.PendingWindowSeconds) * time.Second
}

// HeartbeatInterval devuelve cada cuánto se refresca el bot status.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Metrics.HeartbeatSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLY_PRIVATE_KEY"); v != "" {
		cfg.Chain.PrivateKey = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("MM_PRICING_ENGINE"); v != "" {
		cfg.MM.PricingEngine = v
	}
	if v := os.Getenv("MM_CYCLE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MM.CycleSeconds = n
		}
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	mm := &cfg.MM
	if mm.CycleSeconds <= 0 {
		mm.CycleSeconds = 10
	}
	if mm.MaxMarkets <= 0 {
		mm.MaxMarkets = 10
	}
	if mm.QuoteSizeUSD <= 0 {
		mm.QuoteSizeUSD = 5
	}
	if mm.DeltaMin <= 0 {
		mm.DeltaMin = 1.5
	}
	if mm.DeltaMax <= 0 {
		mm.DeltaMax = 8
	}
	if mm.MaxSpreadPts <= 0 {
		mm.MaxSpreadPts = 12
	}
	if mm.InventorySkewFactor <= 0 {
		mm.InventorySkewFactor = 0.5
	}
	if mm.RequoteThreshold <= 0 {
		mm.RequoteThreshold = 0.5
	}
	if mm.MinQuoteLifetimeSeconds <= 0 {
		mm.MinQuoteLifetimeSeconds = 10
	}
	if mm.StaleThresholdSeconds <= 0 {
		mm.StaleThresholdSeconds = 60
	}
	if mm.VolHalflife <= 0 {
		mm.VolHalflife = 20
	}
	if mm.SplitSizeUSD <= 0 {
		mm.SplitSizeUSD = 5
	}
	if mm.MergeThreshold <= 0 {
		mm.MergeThreshold = 10
	}
	if mm.MergeEveryCycles <= 0 {
		mm.MergeEveryCycles = 6
	}
	if mm.ReconcileEveryCycles <= 0 {
		mm.ReconcileEveryCycles = 60
	}
	if mm.ScannerRefreshMinutes <= 0 {
		mm.ScannerRefreshMinutes = 5
	}
	if mm.MinHoursToResolution <= 0 {
		mm.MinHoursToResolution = 24
	}
	if mm.MaxDaysToResolution <= 0 {
		mm.MaxDaysToResolution = 60
	}
	if mm.MinBookSpreadPts <= 0 {
		mm.MinBookSpreadPts = 1
	}
	if mm.StopFile == "" {
		mm.StopFile = "STOP_MM"
	}
	if mm.PricingEngine == "" {
		mm.PricingEngine = "as"
	}
	if mm.ASGammaBase <= 0 {
		mm.ASGammaBase = 0.1
	}
	if mm.ASGammaAlpha <= 0 {
		mm.ASGammaAlpha = 0.5
	}
	if mm.ASKappaDefault <= 0 {
		mm.ASKappaDefault = 1.5
	}
	if mm.ASKappaWindowMinutes <= 0 {
		mm.ASKappaWindowMinutes = 60
	}
	if mm.ASFeedbackThresholdBps <= 0 {
		mm.ASFeedbackThresholdBps = 50
	}
	if mm.ASFeedbackEveryCycles <= 0 {
		mm.ASFeedbackEveryCycles = 30
	}

	arb := &cfg.Arb
	if arb.MinProfitPct <= 0 {
		arb.MinProfitPct = 0.5
	}
	if arb.MaxSizeUSD <= 0 {
		arb.MaxSizeUSD = 50
	}
	if arb.GasCostUSD <= 0 {
		arb.GasCostUSD = 0.005
	}
	if arb.EveryCycles <= 0 {
		arb.EveryCycles = 3
	}
	if arb.FillWaitSeconds <= 0 {
		arb.FillWaitSeconds = 2
	}

	risk := &cfg.Risk
	if risk.CrossRejectThreshold <= 0 {
		risk.CrossRejectThreshold = 3
	}
	if risk.CrossCooldownSeconds <= 0 {
		risk.CrossCooldownSeconds = 300
	}
	if risk.CrossCooldownMaxSeconds <= 0 {
		risk.CrossCooldownMaxSeconds = 600
	}
	if risk.CircuitBreakerThreshold <= 0 {
		risk.CircuitBreakerThreshold = 5
	}
	if risk.CircuitBreakerCooldownSeconds <= 0 {
		risk.CircuitBreakerCooldownSeconds = 300
	}
	if risk.MinSpreadPts <= 0 {
		risk.MinSpreadPts = 1.0
	}
	if risk.MinPrice <= 0 {
		risk.MinPrice = 0.01
	}
	if risk.MaxPrice <= 0 {
		risk.MaxPrice = 0.99
	}
	if risk.MaxExposurePct <= 0 {
		risk.MaxExposurePct = 80
	}

	m := &cfg.Metrics
	if m.AdverseSelectionEverySeconds <= 0 {
		m.AdverseSelectionEverySeconds = 30
	}
	if m.DailyEveryMinutes <= 0 {
		m.DailyEveryMinutes = 10
	}
	if m.PendingWindowSeconds <= 0 {
		m.PendingWindowSeconds = 180
	}
	if m.RollingWindow <= 0 {
		m.RollingWindow = 200
	}
	if m.HeartbeatSeconds <= 0 {
		m.HeartbeatSeconds = 60
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.WSURL == "" {
		cfg.API.WSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polymm.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
