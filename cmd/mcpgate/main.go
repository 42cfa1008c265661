// Command mcpgate runs the tool-server proxy daemon: a single-process HTTP
// gateway that spawns and supervises stdio tool servers on behalf of its
// callers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"golang.org/x/sync/errgroup"

	"github.com/substratelabs/mcpgate"
)

// shutdownTimeout bounds how long in-flight requests may run once a shutdown
// signal arrives.
const shutdownTimeout = 10 * time.Second

// config is populated from the environment.
type config struct {
	// Addr is the listen address. ENV: MCPGATE_ADDR
	Addr string `env:"MCPGATE_ADDR,default=:8787"`
	// AuthToken is the shared-secret bearer token; empty disables auth and
	// leaves the proxy open, which is intended only for same-host,
	// already-isolated deployments. ENV: MCPGATE_AUTH_TOKEN
	AuthToken string `env:"MCPGATE_AUTH_TOKEN"`
	// LogLevel is one of debug, info, warn, error. ENV: MCPGATE_LOG_LEVEL
	LogLevel string `env:"MCPGATE_LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	registry := mcpgate.NewRegistry(log)
	gateway := mcpgate.NewGateway(log, registry, mcpgate.WithAuthToken(cfg.AuthToken))

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: gateway,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		log.Info("Proxy listening", "addr", cfg.Addr, "auth", cfg.AuthToken != "")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()

		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown incomplete", "error", err)
		}

		// Destroy all live sessions so no child processes are leaked.
		registry.Close()

		return nil
	})

	return eg.Wait()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
