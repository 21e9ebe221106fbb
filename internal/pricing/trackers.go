package pricing

import (
	"math"
	"time"
)

// VolTracker tracks realized volatility per market as an EWMA of squared
// mid changes, in points.
type VolTracker struct {
	alpha   float64
	ewmaVar map[string]float64
	lastMid map[string]float64
}

// NewVolTracker crea un tracker con half-life en número de observaciones.
func NewVolTracker(halflife int) *VolTracker {
	if halflife < 1 {
		halflife = 1
	}
	return &VolTracker{
		alpha:   1 - math.Pow(0.5, 1/float64(halflife)),
		ewmaVar: make(map[string]float64),
		lastMid: make(map[string]float64),
	}
}

// Update registra un nuevo mid y devuelve la desviación estándar EWMA en puntos.
func (v *VolTracker) Update(marketID string, mid float64) float64 {
	last, seen := v.lastMid[marketID]
	v.lastMid[marketID] = mid
	if !seen || last <= 0 || mid <= 0 {
		return 0
	}
	change := (mid - last) * 100
	sq := change * change
	prev, ok := v.ewmaVar[marketID]
	if !ok {
		prev = sq
	}
	next := v.alpha*sq + (1-v.alpha)*prev
	v.ewmaVar[marketID] = next
	return math.Sqrt(next)
}

// Vol devuelve la última estimación, 0 si no hay datos.
func (v *VolTracker) Vol(marketID string) float64 {
	return math.Sqrt(v.ewmaVar[marketID])
}

// Reset olvida el mercado.
func (v *VolTracker) Reset(marketID string) {
	delete(v.ewmaVar, marketID)
	delete(v.lastMid, marketID)
}

// StaleTracker mide cuánto tiempo lleva el mid sin moverse.
type StaleTracker struct {
	threshold  time.Duration
	lastMid    map[string]float64
	lastChange map[string]time.Time
}

// NewStaleTracker crea un tracker que satura en threshold.
func NewStaleTracker(threshold time.Duration) *StaleTracker {
	return &StaleTracker{
		threshold:  threshold,
		lastMid:    make(map[string]float64),
		lastChange: make(map[string]time.Time),
	}
}

// Update registra el mid observado en now.
func (s *StaleTracker) Update(marketID string, mid float64, now time.Time) {
	prev, seen := s.lastMid[marketID]
	if !seen || math.Abs(mid-prev) > 1e-6 {
		s.lastChange[marketID] = now
	}
	s.lastMid[marketID] = mid
}

// Staleness devuelve 0 (fresco) a 1 (sin cambios durante threshold o más).
func (s *StaleTracker) Staleness(marketID string, now time.Time) float64 {
	last, ok := s.lastChange[marketID]
	if !ok || s.threshold <= 0 {
		return 0
	}
	return math.Min(now.Sub(last).Seconds()/s.threshold.Seconds(), 1)
}

// Reset olvida el mercado.
func (s *StaleTracker) Reset(marketID string) {
	delete(s.lastMid, marketID)
	delete(s.lastChange, marketID)
}

const (
	minKappa = 0.5
	maxKappa = 10.0
)

// KappaEstimator estimates fill intensity as fills per minute over a sliding
// window, clamped to [0.5, 10].
type KappaEstimator struct {
	window   time.Duration
	fallback float64
	fills    map[string][]time.Time
}

// NewKappaEstimator crea un estimador con ventana y kappa por defecto.
func NewKappaEstimator(window time.Duration, fallback float64) *KappaEstimator {
	return &KappaEstimator{
		window:   window,
		fallback: fallback,
		fills:    make(map[string][]time.Time),
	}
}

// RecordFill registra un fill en now y descarta los que salen de la ventana.
func (k *KappaEstimator) RecordFill(marketID string, now time.Time) {
	k.fills[marketID] = k.prune(append(k.fills[marketID], now), now)
}

// Kappa devuelve la intensidad estimada, o el default con menos de 2 fills.
func (k *KappaEstimator) Kappa(marketID string, now time.Time) float64 {
	recent := k.prune(k.fills[marketID], now)
	k.fills[marketID] = recent
	if len(recent) < 2 {
		return k.fallback
	}
	span := recent[len(recent)-1].Sub(recent[0]).Minutes()
	if span <= 0 {
		return k.fallback
	}
	rate := float64(len(recent)-1) / span
	return clamp(rate, minKappa, maxKappa)
}

// Reset olvida el mercado.
func (k *KappaEstimator) Reset(marketID string) {
	delete(k.fills, marketID)
}

func (k *KappaEstimator) prune(fills []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-k.window)
	out := fills[:0]
	for _, t := range fills {
		if !t.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
