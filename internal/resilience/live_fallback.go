// Package resilience provides model failover for the live speech backend.
//
// [LiveFallback] wraps a [live.Provider] with an ordered list of model
// candidates. Each candidate carries its own circuit breaker, so a model
// that is hard-down is skipped without burning a connect attempt on every
// new session.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Zachwitte21/reminisce-poc/pkg/provider/live"
)

// ErrAllFailed is returned by [LiveFallback.Connect] when every candidate
// fails or has an open breaker.
var ErrAllFailed = errors.New("all models failed")

// defaultConnectTimeout bounds each per-model connection attempt when no
// timeout is configured.
const defaultConnectTimeout = 15 * time.Second

// FallbackConfig tunes the per-candidate circuit breakers.
type FallbackConfig struct {
	// MaxFailures is the number of consecutive connect failures before a
	// model's breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker rejects a model before it is
	// probed again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of successful probe connects required to
	// fully re-admit a model. Default: 3.
	HalfOpenProbes int
}

// candidate pairs a model name with its dedicated breaker.
type candidate struct {
	model   string
	breaker *breaker
}

// LiveFallback implements [live.Provider] with automatic failover across
// model names on a single backend. When the primary fails or its breaker is
// open, the next healthy model is tried in registration order.
//
// Only the connection attempt is covered by failover; once a session is
// established, mid-stream errors are the caller's responsibility.
//
// Connect is safe for concurrent use. AddFallback is not: register all
// fallbacks during startup, before the first Connect.
type LiveFallback struct {
	provider       live.Provider
	cfg            FallbackConfig
	connectTimeout time.Duration
	candidates     []candidate
}

// Compile-time interface assertion.
var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback creates a [LiveFallback] with primaryModel as the preferred
// model. A non-positive connectTimeout falls back to 15s per attempt.
func NewLiveFallback(provider live.Provider, primaryModel string, connectTimeout time.Duration, cfg FallbackConfig) *LiveFallback {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	primaryModel = strings.TrimSpace(primaryModel)
	return &LiveFallback{
		provider:       provider,
		cfg:            cfg,
		connectTimeout: connectTimeout,
		candidates: []candidate{
			{model: primaryModel, breaker: newBreaker(primaryModel, cfg)},
		},
	}
}

// AddFallback registers an additional model name as a fallback. Blank names
// are dropped.
func (f *LiveFallback) AddFallback(model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	f.candidates = append(f.candidates, candidate{
		model:   model,
		breaker: newBreaker(model, f.cfg),
	})
}

// Connect dials the backend with each candidate model in order until one
// accepts. The model in cfg is overridden per attempt; every attempt gets
// its own deadline so a hung dial cannot stall the whole walk.
func (f *LiveFallback) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	var lastErr error
	for _, c := range f.candidates {
		if !c.breaker.allow() {
			slog.Debug("skipping model, breaker open", "model", c.model)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, f.connectTimeout)
		attemptCfg := cfg
		attemptCfg.Model = c.model
		handle, err := f.provider.Connect(attemptCtx, attemptCfg)
		cancel()

		c.breaker.record(err)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		slog.Warn("model connect failed, trying next", "model", c.model, "error", err)
	}

	if lastErr == nil {
		return nil, fmt.Errorf("%w: every breaker is open", ErrAllFailed)
	}
	return nil, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
