package risk

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// CooldownConfig parametriza la escalada por cross-rejects y el breaker.
type CooldownConfig struct {
	CrossThreshold   int
	CrossBase        time.Duration
	CrossMax         time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// CooldownDuration returns the pause after streak consecutive post-only
// cross rejects: zero below threshold, then base doubling every threshold
// rejects, capped at max.
func CooldownDuration(streak, threshold int, base, max time.Duration) time.Duration {
	if threshold < 1 {
		threshold = 1
	}
	if streak < threshold {
		return 0
	}
	level := (streak - threshold) / threshold
	d := base
	for i := 0; i < level && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Outcome clasifica el resultado de un intento de colocación.
type Outcome int

const (
	OutcomePlaced Outcome = iota
	OutcomeCrossReject
	OutcomeFailure
)

type marketState struct {
	streak        int
	cooldownUntil time.Time
	breaker       domain.CircuitBreaker
}

// Cooldowns lleva el streak de cross-rejects y el circuit breaker de cada mercado.
// Lo posee el loop de quoting.
type Cooldowns struct {
	cfg     CooldownConfig
	markets map[string]*marketState
}

// NewCooldowns crea el registro vacío.
func NewCooldowns(cfg CooldownConfig) *Cooldowns {
	return &Cooldowns{cfg: cfg, markets: make(map[string]*marketState)}
}

func (c *Cooldowns) state(marketID string) *marketState {
	s, ok := c.markets[marketID]
	if !ok {
		s = &marketState{breaker: domain.CircuitBreaker{
			Threshold: c.cfg.BreakerThreshold,
			Cooldown:  c.cfg.BreakerCooldown,
		}}
		c.markets[marketID] = s
	}
	return s
}

// Record registra el resultado de colocar un par en marketID.
func (c *Cooldowns) Record(marketID string, outcome Outcome, now time.Time) {
	s := c.state(marketID)
	switch outcome {
	case OutcomePlaced:
		s.streak = 0
		s.cooldownUntil = time.Time{}
		s.breaker.Reset()
		return
	case OutcomeCrossReject:
		s.streak++
		if d := CooldownDuration(s.streak, c.cfg.CrossThreshold, c.cfg.CrossBase, c.cfg.CrossMax); d > 0 {
			s.cooldownUntil = now.Add(d)
			slog.Warn("market cooldown after post-only crosses",
				"market", domain.ShortID(marketID), "streak", s.streak, "cooldown", d)
		}
	case OutcomeFailure:
		s.streak = 0
	}
	if s.breaker.RecordError(now) {
		slog.Warn("circuit breaker tripped",
			"market", domain.ShortID(marketID), "errors", s.breaker.Errors, "pause", s.breaker.Cooldown)
	}
}

// Blocked reports whether marketID must be skipped at now, and why. An expired
// cooldown clears the streak.
func (c *Cooldowns) Blocked(marketID string, now time.Time) (bool, string) {
	s, ok := c.markets[marketID]
	if !ok {
		return false, ""
	}
	if !s.cooldownUntil.IsZero() {
		if now.Before(s.cooldownUntil) {
			return true, "cross_cooldown"
		}
		s.cooldownUntil = time.Time{}
		s.streak = 0
	}
	if !s.breaker.IsOpen(now) {
		return true, "circuit_breaker"
	}
	return false, ""
}

// Streak devuelve el streak actual de cross-rejects.
func (c *Cooldowns) Streak(marketID string) int {
	if s, ok := c.markets[marketID]; ok {
		return s.streak
	}
	return 0
}

// Forget descarta el estado de un mercado que salió del universo.
func (c *Cooldowns) Forget(marketID string) {
	delete(c.markets, marketID)
}

// CoolingDown devuelve cuántos mercados están bloqueados en now.
func (c *Cooldowns) CoolingDown(now time.Time) int {
	n := 0
	for _, s := range c.markets {
		if now.Before(s.cooldownUntil) || (!s.breaker.PausedUntil.IsZero() && now.Before(s.breaker.PausedUntil)) {
			n++
		}
	}
	return n
}
