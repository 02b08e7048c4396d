package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// breakerState is the operating mode of a [breaker].
type breakerState int

const (
	// stateClosed admits every connect attempt.
	stateClosed breakerState = iota

	// stateOpen rejects attempts until the reset timeout elapses.
	stateOpen

	// stateHalfOpen admits a limited number of probe attempts; if they all
	// succeed the breaker closes, any failure re-opens it.
	stateHalfOpen
)

// breaker tracks connect health for one model candidate. Callers ask allow
// before dialing and report the outcome with record; a model that keeps
// failing is rejected outright until the reset timeout, so the fallback walk
// skips it without burning a dial on every new session.
//
// Safe for concurrent use: one breaker is shared by all sessions connecting
// through the same [LiveFallback].
type breaker struct {
	model          string
	maxFailures    int
	resetTimeout   time.Duration
	halfOpenProbes int

	mu          sync.Mutex
	state       breakerState
	failures    int
	lastFailure time.Time
	probes      int
	probeOK     int
}

func newBreaker(model string, cfg FallbackConfig) *breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	return &breaker{
		model:          model,
		maxFailures:    cfg.MaxFailures,
		resetTimeout:   cfg.ResetTimeout,
		halfOpenProbes: cfg.HalfOpenProbes,
	}
}

// allow reports whether a connect attempt against this model may proceed.
// It performs the open to half-open transition once the reset timeout has
// elapsed and budgets the half-open probes.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if time.Since(b.lastFailure) < b.resetTimeout {
			return false
		}
		b.state = stateHalfOpen
		b.probes = 0
		b.probeOK = 0
		slog.Info("model breaker half-open", "model", b.model)
	}

	if b.state == stateHalfOpen {
		if b.probes >= b.halfOpenProbes {
			return false
		}
		b.probes++
	}
	return true
}

// record reports the outcome of an attempt that allow admitted.
func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.lastFailure = time.Now()
		if b.state == stateHalfOpen {
			// Any probe failure re-opens immediately.
			b.state = stateOpen
			b.failures = b.maxFailures
			slog.Warn("model breaker re-opened", "model", b.model)
			return
		}
		b.failures++
		if b.state == stateClosed && b.failures >= b.maxFailures {
			b.state = stateOpen
			slog.Warn("model breaker opened",
				"model", b.model, "consecutive_failures", b.failures)
		}
		return
	}

	if b.state == stateHalfOpen {
		b.probeOK++
		if b.probeOK >= b.halfOpenProbes {
			b.state = stateClosed
			b.failures = 0
			slog.Info("model breaker closed after successful probes", "model", b.model)
		}
		return
	}
	b.failures = 0
}
