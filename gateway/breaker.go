package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Protection against broker outages
// ═══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker opens after a run of consecutive broker failures and fails
// fast until the cooldown elapses. Open state is a signal, not a bug.
type CircuitBreaker struct {
	mu sync.RWMutex

	maxConsecutiveFailures int
	cooldown               time.Duration

	consecutiveFailures int
	open                bool
	openedAt            time.Time
	reason              string
}

// NewCircuitBreaker creates a breaker with the given trip threshold and reset
// cooldown.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxConsecutiveFailures: maxFailures,
		cooldown:               cooldown,
	}
}

// Allow reports whether a call may proceed, closing the breaker when the
// cooldown has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.open {
		return true
	}
	if time.Since(cb.openedAt) >= cb.cooldown {
		cb.open = false
		cb.consecutiveFailures = 0
		log.Info().Msg("✅ circuit breaker closed after cooldown")
		return true
	}
	return false
}

// RecordSuccess resets the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
}

// RecordFailure counts a failed call and opens the breaker at the threshold.
func (cb *CircuitBreaker) RecordFailure(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	if cb.consecutiveFailures >= cb.maxConsecutiveFailures && !cb.open {
		cb.open = true
		cb.openedAt = time.Now()
		cb.reason = reason
		log.Warn().
			Str("reason", reason).
			Int("consecutive_failures", cb.consecutiveFailures).
			Dur("cooldown", cb.cooldown).
			Msg("🚨 CIRCUIT BREAKER OPENED")
	}
}

// IsOpen returns the current state without side effects.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.open
}

// Stats returns the failure run, state, and last trip reason.
func (cb *CircuitBreaker) Stats() (failures int, open bool, reason string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveFailures, cb.open, cb.reason
}
