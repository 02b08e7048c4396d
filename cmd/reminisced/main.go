// Command reminisced is the reminiscence therapy backend server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zachwitte21/reminisce-poc/internal/app"
	"github.com/Zachwitte21/reminisce-poc/internal/config"
	"github.com/Zachwitte21/reminisce-poc/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reminisced: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reminisced: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("reminisced starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level is applied live; voice and fallback model changes
	// take effect for new sessions after a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.VoiceChanged || d.FallbackModelsChanged {
			slog.Warn("voice or fallback model changes require a restart to take effect")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
