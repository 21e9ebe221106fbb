package domain

import "time"

// CircuitBreaker counts errors on one market and enforces a trading pause
// once Threshold is reached. Every error type counts.
type CircuitBreaker struct {
	Errors      int
	Threshold   int
	Cooldown    time.Duration
	PausedUntil time.Time
	Trips       int
}

// IsOpen returns true if quoting is allowed at now. When a pause has expired
// the error count is cleared.
func (cb *CircuitBreaker) IsOpen(now time.Time) bool {
	if cb.PausedUntil.IsZero() {
		return true
	}
	if now.Before(cb.PausedUntil) {
		return false
	}
	cb.PausedUntil = time.Time{}
	cb.Errors = 0
	return true
}

// RecordError registra un fallo y devuelve true si el breaker salta.
func (cb *CircuitBreaker) RecordError(now time.Time) bool {
	cb.Errors++
	if cb.Threshold > 0 && cb.Errors >= cb.Threshold && cb.PausedUntil.IsZero() {
		cb.PausedUntil = now.Add(cb.Cooldown)
		cb.Trips++
		return true
	}
	return false
}

// Reset limpia el contador tras una colocación correcta.
func (cb *CircuitBreaker) Reset() {
	cb.Errors = 0
	cb.PausedUntil = time.Time{}
}
