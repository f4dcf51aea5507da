// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the wsecho endpoint: a restricted WebSocket echo server
// with Prometheus metrics and health endpoints on a separate ops port.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wsecho/wsecho/examples/logging"
	"github.com/wsecho/wsecho/pkg/echo"
	"github.com/wsecho/wsecho/pkg/health"
	"github.com/wsecho/wsecho/pkg/metrics"
	"github.com/wsecho/wsecho/pkg/server"
)

const envPrefix = "WSECHO_"

// Config holds the application configuration.
type Config struct {
	// Endpoint
	Host string `env:"HOST" envDefault:"127.0.0.1"`
	Port string `env:"PORT" envDefault:"9105"`

	// Observability
	OpsPort   int    `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel  string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT"   envDefault:"json"`

	// Lifecycle
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxGoroutines   int           `env:"MAX_GOROUTINES"   envDefault:"50000"`
}

func main() {
	// Load .env file (optional)
	if err := godotenv.Load(); err != nil {
		// Fall back to process environment
	}

	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	m := metrics.New("wsecho", nil)

	healthChecker := health.NewChecker(10 * time.Second)
	healthChecker.Register("goroutines", func(ctx context.Context) error {
		count := runtime.NumGoroutine()
		if count > cfg.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, cfg.MaxGoroutines)
		}
		return nil
	})

	// Handler chain: metrics instrumentation around event logging
	instrumented := &InstrumentedHandler{
		handler: logging.New(logger),
		metrics: m,
	}

	srv := server.New(server.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}, &echo.Parser{}, instrumented)

	healthChecker.Register("listener", func(ctx context.Context) error {
		if srv.Addr() == nil {
			return errors.New("listening socket not bound")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Listen(ctx)
	})

	g.Go(func() error {
		return serveOps(ctx, cfg.OpsPort, healthChecker, logger)
	})

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("wsecho terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("wsecho stopped")
}

// setupLogger builds the slog logger from the configured level and format.
func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

// serveOps runs the metrics/health HTTP server until the context is
// cancelled.
func serveOps(ctx context.Context, port int, checker *health.Checker, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", checker.HTTPHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.HandleFunc("/livez", health.LivenessHandler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("ops server started", slog.Int("port", port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
