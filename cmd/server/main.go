// Package main provides the entry point for the audiobook builder API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/audiobook-builder/internal/bootstrap"
	"github.com/maauso/audiobook-builder/internal/config"
	"github.com/maauso/audiobook-builder/internal/server"
	"github.com/maauso/audiobook-builder/internal/telemetry"
)

// janitorInterval is how often finished jobs past retention are pruned.
const janitorInterval = 10 * time.Minute

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting audiobook builder API",
		slog.String("version", version),
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.String("output_dir", cfg.OutputDir),
		slog.String("synth_engine", cfg.SynthEngine),
		slog.Int("max_workers", cfg.MaxWorkers),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("nats_enabled", cfg.NATSEnabled()),
	)

	ctx := context.Background()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		Version:      version,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		TraceStdout:  cfg.TraceStdout,
		Metrics:      cfg.MetricsEnabled,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.AudiobookService, logger)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        tel.MetricsHandler(),
	})

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go deps.AudiobookService.RunJanitor(janitorCtx, cfg.JobRetention, janitorInterval)

	// Create HTTP server. Audiobooks are built in the background, so no
	// request holds the connection for the length of a run.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errCh:
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	stopJanitor()
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown failed: %w", err))
	}
	if err := deps.AudiobookService.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop running jobs: %w", err))
	}
	if err := deps.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dependencies: %w", err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Info("server stopped gracefully")
	return nil
}
