// Package app wires all reminiscence backend subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithProvider). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Zachwitte21/reminisce-poc/internal/auth"
	"github.com/Zachwitte21/reminisce-poc/internal/config"
	"github.com/Zachwitte21/reminisce-poc/internal/health"
	"github.com/Zachwitte21/reminisce-poc/internal/httpapi"
	"github.com/Zachwitte21/reminisce-poc/internal/observe"
	"github.com/Zachwitte21/reminisce-poc/internal/relay"
	"github.com/Zachwitte21/reminisce-poc/internal/resilience"
	"github.com/Zachwitte21/reminisce-poc/internal/store"
	"github.com/Zachwitte21/reminisce-poc/internal/voice"
	"github.com/Zachwitte21/reminisce-poc/pkg/provider/live"
	"github.com/Zachwitte21/reminisce-poc/pkg/provider/live/gemini"
)

// shutdownTimeout bounds the HTTP server drain during Run's teardown.
const shutdownTimeout = 10 * time.Second

// Store is the persistence surface the application needs. *store.Store
// satisfies it; tests may inject a fake.
type Store interface {
	httpapi.TherapyStore
	PhotoMetadata(ctx context.Context, photoID, patientID string) (voice.PhotoDetails, bool, error)
	Ping(ctx context.Context) error
	Close()
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	store    Store
	provider live.Provider
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of connecting to PostgreSQL from config.
func WithStore(s Store) Option {
	return func(a *App) { a.store = s }
}

// WithProvider injects a voice provider instead of building the Gemini
// fallback chain from config.
func WithProvider(p live.Provider) Option {
	return func(a *App) { a.provider = p }
}

// New creates an App by wiring all subsystems together: the PostgreSQL
// store, the Gemini Live provider with its model fallback chain, the voice
// relay, and the HTTP router.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if a.store == nil {
		s, err := store.New(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: init store: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, func() error {
			s.Close()
			return nil
		})
	}

	// ── 2. Voice provider with model fallback ────────────────────────────
	if a.provider == nil {
		a.provider = buildProvider(cfg.Gemini)
	}

	// ── 3. Auth ──────────────────────────────────────────────────────────
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	authorizer := auth.NewAuthorizer(verifier, a.store)

	// ── 4. Relay + router ────────────────────────────────────────────────
	metrics := observe.DefaultMetrics()
	rl := relay.New(authorizer, a.store, a.store, voice.Config{
		Provider: a.provider,
		Voice:    cfg.Gemini.Voice,
	}, metrics)

	api := httpapi.NewHandler(verifier, a.store)
	healthHandler := health.New(health.Database(a.store))
	router := httpapi.Router(api, rl.HandleVoice, healthHandler, metrics)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// buildProvider creates the Gemini Live provider wrapped in the model
// fallback chain with per-model circuit breakers.
func buildProvider(cfg config.GeminiConfig) live.Provider {
	var opts []gemini.Option
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	base := gemini.New(cfg.APIKey, opts...)

	fallback := resilience.NewLiveFallback(base, cfg.Model, cfg.ConnectTimeout, resilience.FallbackConfig{})
	for _, model := range cfg.FallbackModels {
		fallback.AddFallback(model)
	}
	return fallback
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			slog.Warn("http server drain incomplete", "error", err)
		}
		return ctx.Err()
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
