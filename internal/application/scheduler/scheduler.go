// Package scheduler runs the market maker's long-lived loops: the quoting
// cycle, metrics maintenance, the status heartbeat, the STOP-file guard and,
// when enabled, the websocket book stream.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// Quoter es el engine de quoting visto desde el scheduler.
type Quoter interface {
	RunCycle(ctx context.Context) error
	Status() domain.BotStatus
}

// Maintainer mide adverse selection y agrega métricas diarias.
type Maintainer interface {
	MeasureAdverseSelection(ctx context.Context) (short, long int, err error)
	ComputeDaily(ctx context.Context) (domain.DailyMetrics, error)
}

// StatusStore persiste el heartbeat y la señal del kill switch.
type StatusStore interface {
	SaveBotStatus(ctx context.Context, s domain.BotStatus) error
	SetSignal(ctx context.Context, key, value string) error
}

// Canceller cancela todas las órdenes abiertas.
type Canceller interface {
	CancelAll(ctx context.Context) error
}

// Runner es un loop externo que vive hasta que el contexto se cancela (book stream).
type Runner interface {
	Run(ctx context.Context) error
}

// Config son los intervalos de cada loop.
type Config struct {
	CycleInterval     time.Duration
	AdverseInterval   time.Duration
	DailyInterval     time.Duration
	HeartbeatInterval time.Duration
	GuardInterval     time.Duration
	StopFile          string // vacío desactiva la guardia
}

// Deps son los colaboradores de los loops. Metrics y Stream son opcionales.
type Deps struct {
	Quoter    Quoter
	Metrics   Maintainer
	Store     StatusStore
	Canceller Canceller
	Stream    Runner
}

// Scheduler coordina los loops con un errgroup: el primero que falla
// cancela al resto.
type Scheduler struct {
	cfg  Config
	deps Deps

	stopped bool // la guardia ya disparó
}

// New crea el scheduler aplicando defaults a los intervalos vacíos.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 10 * time.Second
	}
	if cfg.AdverseInterval <= 0 {
		cfg.AdverseInterval = 30 * time.Second
	}
	if cfg.DailyInterval <= 0 {
		cfg.DailyInterval = 10 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Minute
	}
	if cfg.GuardInterval <= 0 {
		cfg.GuardInterval = 5 * time.Second
	}
	return &Scheduler{cfg: cfg, deps: deps}
}

// Run bloquea hasta que ctx se cancele. Devuelve nil en un apagado normal.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler starting",
		"cycle", s.cfg.CycleInterval,
		"adverse", s.cfg.AdverseInterval,
		"daily", s.cfg.DailyInterval,
		"heartbeat", s.cfg.HeartbeatInterval,
		"stop_file", s.cfg.StopFile,
		"stream", s.deps.Stream != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.quoteOnce(gctx)
		every(gctx, s.cfg.CycleInterval, s.quoteOnce)
		return nil
	})
	if s.deps.Metrics != nil {
		g.Go(func() error {
			every(gctx, s.cfg.AdverseInterval, s.measureAdverse)
			return nil
		})
		g.Go(func() error {
			every(gctx, s.cfg.DailyInterval, s.computeDaily)
			return nil
		})
	}
	g.Go(func() error {
		every(gctx, s.cfg.HeartbeatInterval, s.heartbeat)
		return nil
	})
	if s.cfg.StopFile != "" {
		g.Go(func() error {
			every(gctx, s.cfg.GuardInterval, s.guard)
			return nil
		})
	}
	if s.deps.Stream != nil {
		g.Go(func() error {
			if err := s.deps.Stream.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("scheduler.Run: book stream: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	slog.Info("scheduler stopped")
	return err
}

// every llama fn en cada tick hasta que ctx se cancele.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// ─── Loops ────────────────────────────────────────────────────────────────

// quoteOnce ejecuta un ciclo. Un panic dentro del ciclo se loguea y el loop
// sigue con el próximo tick.
func (s *Scheduler) quoteOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("quote cycle panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	if err := s.deps.Quoter.RunCycle(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("quote cycle failed", "err", err)
		return
	}
	st := s.deps.Quoter.Status()
	slog.Debug("quote cycle complete",
		"cycle", st.Cycle,
		"quotes", st.ActiveQuotes,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

func (s *Scheduler) measureAdverse(ctx context.Context) {
	short, long, err := s.deps.Metrics.MeasureAdverseSelection(ctx)
	if err != nil {
		slog.Warn("adverse selection sampling failed", "err", err)
		return
	}
	if short+long > 0 {
		slog.Debug("adverse selection sampled", "t30", short, "t120", long)
	}
}

func (s *Scheduler) computeDaily(ctx context.Context) {
	m, err := s.deps.Metrics.ComputeDaily(ctx)
	if err != nil {
		slog.Warn("daily metrics failed", "err", err)
		return
	}
	slog.Info("daily metrics updated",
		"date", m.Date,
		"fills", m.FillsCount,
		"pnl_net", fmt.Sprintf("$%.4f", m.PnLNet),
		"adverse_bps", fmt.Sprintf("%.1f", m.AdverseSelectionBps),
	)
}

// heartbeat persiste el último status aunque el ciclo esté bloqueado o pausado.
func (s *Scheduler) heartbeat(ctx context.Context) {
	st := s.deps.Quoter.Status()
	if err := s.deps.Store.SaveBotStatus(ctx, st); err != nil {
		slog.Warn("heartbeat failed", "err", err)
	}
}

// guard dispara el kill switch si aparece el STOP file: cancela todo en el
// CLOB y deja la señal persistida para que el ciclo no vuelva a cotizar.
func (s *Scheduler) guard(ctx context.Context) {
	if s.stopped {
		return
	}
	if _, err := os.Stat(s.cfg.StopFile); err != nil {
		return
	}
	s.stopped = true
	slog.Error("STOP file detected, kill switch engaged", "file", s.cfg.StopFile)

	if err := s.deps.Canceller.CancelAll(ctx); err != nil {
		slog.Error("kill switch: cancel all failed", "err", err)
	}
	if err := s.deps.Store.SetSignal(ctx, domain.SignalKillSwitch, "true"); err != nil {
		slog.Error("kill switch: persist signal failed", "err", err)
	}
}
