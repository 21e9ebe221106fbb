package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polymm/config"
	"github.com/alejandrodnm/polymm/internal/adapters/notify"
	"github.com/alejandrodnm/polymm/internal/adapters/onchain"
	"github.com/alejandrodnm/polymm/internal/adapters/polymarket"
	"github.com/alejandrodnm/polymm/internal/adapters/storage"
	"github.com/alejandrodnm/polymm/internal/application/engine/mm"
	"github.com/alejandrodnm/polymm/internal/application/scheduler"
	"github.com/alejandrodnm/polymm/internal/metrics"
	"github.com/alejandrodnm/polymm/internal/ports"
	"github.com/alejandrodnm/polymm/internal/pricing"
	"github.com/alejandrodnm/polymm/internal/risk"
	"github.com/alejandrodnm/polymm/internal/scanner"
)

const (
	// shutdownTimeout acota el CancelAll final tras SIGINT/SIGTERM.
	shutdownTimeout = 15 * time.Second
	// reportDays es la ventana de --report.
	reportDays = 7
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.Bool("report", false, "print status, inventory, quotes and daily metrics from storage and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		if err := printReport(ctx, store, notify.NewConsole()); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, store); err != nil {
		slog.Error("market maker exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("polymm stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage) error {
	if cfg.Chain.PrivateKey == "" {
		return errors.New("POLY_PRIVATE_KEY is required")
	}

	slog.Info("polymm starting",
		"pricing", cfg.MM.PricingEngine,
		"cycle", cfg.CycleInterval(),
		"max_markets", cfg.MM.MaxMarkets,
		"quote_size_usd", cfg.MM.QuoteSizeUSD,
		"split_merge", cfg.MM.SplitMerge,
		"arb", cfg.Arb.Enabled,
		"stream", cfg.API.UseStream,
	)

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)

	ctf, err := onchain.Dial(cfg.Chain.RPCURL, cfg.Chain.PrivateKey)
	if err != nil {
		return err
	}
	if err := ctf.EnsureApprovals(ctx); err != nil {
		return err
	}

	// books: websocket con fallback REST, o REST directo
	var books ports.BookSource = client
	var stream *polymarket.BookStream
	if cfg.API.UseStream {
		stream = polymarket.NewBookStream(cfg.API.WSURL, client, cfg.StaleThreshold())
		books = stream
	}

	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.Chain.PrivateKey)
	if err != nil {
		return err
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		return err
	}
	trading := polymarket.NewTradingClient(auth, books, ctf)
	slog.Info("wallet ready", "address", auth.Address())

	gasUSD := cfg.Arb.GasCostUSD
	if est := ctf.EstimateGasCostUSD(ctx); est > 0 {
		gasUSD = est
	}

	universe := scanner.New(scanner.Config{
		MaxMarkets: cfg.MM.MaxMarkets,
		Refresh:    cfg.ScannerRefresh(),
		Filter: scanner.FilterConfig{
			MinHoursToResolution: cfg.MM.MinHoursToResolution,
			MaxDaysToResolution:  cfg.MM.MaxDaysToResolution,
			MinVolume24h:         cfg.MM.MinVolume24hUSD,
			MinPrice:             cfg.Risk.MinPrice,
			MaxPrice:             cfg.Risk.MaxPrice,
			MinSpreadPts:         cfg.MM.MinBookSpreadPts,
		},
	}, client, client)

	collector := metrics.NewCollector(store, books, trading, cfg.PendingWindow(), cfg.Metrics.RollingWindow)

	engine := mm.New(engineConfig(cfg, gasUSD), mm.Deps{
		Universe:   universe,
		Exchange:   trading,
		Collateral: ctf,
		Store:      store,
		Adverse:    collector,
	})

	rep, err := engine.Startup(ctx)
	if err != nil {
		return err
	}
	slog.Info("startup reconciliation done",
		"inventory_rows", rep.InventoryRows,
		"restored", rep.Restored,
		"orphans", rep.Orphans,
		"stale", rep.Stale,
		"recovered_fills", rep.Recovered,
	)

	deps := scheduler.Deps{
		Quoter:    engine,
		Metrics:   collector,
		Store:     store,
		Canceller: trading,
	}
	if stream != nil {
		deps.Stream = stream
	}
	sched := scheduler.New(scheduler.Config{
		CycleInterval:     cfg.CycleInterval(),
		AdverseInterval:   cfg.AdverseSelectionInterval(),
		DailyInterval:     cfg.DailyMetricsInterval(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		StopFile:          cfg.MM.StopFile,
	}, deps)

	runErr := sched.Run(ctx)

	// ctx ya está cancelado: el shutdown usa su propio plazo
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown cancel failed", "err", err)
	}
	return runErr
}

// engineConfig traduce la configuración de archivo a la del engine.
func engineConfig(cfg *config.Config, gasUSD float64) mm.Config {
	delta := pricing.DefaultDeltaParams()
	delta.Min = cfg.MM.DeltaMin
	delta.Max = cfg.MM.DeltaMax

	return mm.Config{
		MaxMarkets:       cfg.MM.MaxMarkets,
		QuoteSizeUSD:     cfg.MM.QuoteSizeUSD,
		RequoteThreshold: cfg.MM.RequoteThreshold,
		MinQuoteLifetime: cfg.MinQuoteLifetime(),
		PostOnly:         cfg.MM.PostOnly,
		TwoSided:         cfg.MM.TwoSided,
		SplitMerge:       cfg.MM.SplitMerge,
		HangingOrders:    cfg.MM.HangingOrders,
		SplitSizeUSD:     cfg.MM.SplitSizeUSD,
		MergeThreshold:   cfg.MM.MergeThreshold,
		MergeEvery:       cfg.MM.MergeEveryCycles,
		ReconcileEvery:   cfg.MM.ReconcileEveryCycles,

		PricingEngine: cfg.MM.PricingEngine,
		Delta:         delta,
		SkewFactor:    cfg.MM.InventorySkewFactor,
		AS: pricing.ASParams{
			GammaBase:    cfg.MM.ASGammaBase,
			GammaAlpha:   cfg.MM.ASGammaAlpha,
			Kappa:        cfg.MM.ASKappaDefault,
			MinSpreadPts: cfg.Risk.MinSpreadPts,
			MaxSpreadPts: cfg.MM.MaxSpreadPts,
		},
		VolHalflife:    cfg.MM.VolHalflife,
		StaleThreshold: cfg.StaleThreshold(),
		KappaWindow:    cfg.KappaWindow(),

		ASFeedback:             cfg.MM.ASFeedback,
		ASFeedbackThresholdBps: cfg.MM.ASFeedbackThresholdBps,
		ASFeedbackEvery:        cfg.MM.ASFeedbackEveryCycles,

		Limits: risk.Limits{
			DeltaMax:       cfg.MM.DeltaMax,
			MaxSpreadPts:   cfg.MM.MaxSpreadPts,
			MinSpreadPts:   cfg.Risk.MinSpreadPts,
			MinPrice:       cfg.Risk.MinPrice,
			MaxPrice:       cfg.Risk.MaxPrice,
			MaxExposurePct: cfg.Risk.MaxExposurePct,
		},
		Cooldowns: risk.CooldownConfig{
			CrossThreshold:   cfg.Risk.CrossRejectThreshold,
			CrossBase:        cfg.CrossCooldown(),
			CrossMax:         cfg.CrossCooldownMax(),
			BreakerThreshold: cfg.Risk.CircuitBreakerThreshold,
			BreakerCooldown:  cfg.CircuitBreakerCooldown(),
		},
		Arb: mm.ArbConfig{
			Enabled:      cfg.Arb.Enabled,
			MinProfitPct: cfg.Arb.MinProfitPct,
			MaxSizeUSD:   cfg.Arb.MaxSizeUSD,
			GasCostUSD:   gasUSD,
			Every:        cfg.Arb.EveryCycles,
			FillWait:     cfg.ArbFillWait(),
		},
	}
}

// printReport arma el reporte desde storage, sin tocar el CLOB.
func printReport(ctx context.Context, store ports.Store, n ports.Notifier) error {
	status, err := store.LoadBotStatus(ctx)
	if err != nil {
		return err
	}
	inv, err := store.Inventory(ctx)
	if err != nil {
		return err
	}
	quotes, err := store.ActiveQuotes(ctx)
	if err != nil {
		return err
	}
	since := time.Now().UTC().AddDate(0, 0, -reportDays)
	daily, err := store.DailyMetricsSince(ctx, since.Format(time.DateOnly))
	if err != nil {
		return err
	}
	ops, err := store.CollateralHistory(ctx, since)
	if err != nil {
		return err
	}
	return n.Report(ctx, ports.StatusReport{
		Status:     status,
		Inventory:  inv,
		Quotes:     quotes,
		Daily:      daily,
		Collateral: ops,
	})
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
