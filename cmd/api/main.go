// Package main is the entry point for the AQI Watch API server.
//
// It loads configuration, opens the storage backends, builds the forecast
// pipeline, loads the latest trained model, schedules the periodic model
// reload, and serves the chi router until SIGINT or SIGTERM.
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

	"aqiwatch/internal/api/handlers"
	"aqiwatch/internal/app"
	"aqiwatch/internal/config"
	"aqiwatch/internal/core"
	"aqiwatch/internal/pipeline"
	"aqiwatch/internal/scheduler"
	"aqiwatch/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("aqiwatch API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.NewPipeline(ctx)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	loadInitialModel(ctx, p, logger)

	reloader := scheduler.NewModelReloader(p, cfg.Forecast.ReloadInterval, 30*time.Second, logger)
	if err := reloader.Start(); err != nil {
		return err
	}
	defer reloader.Stop()

	srv, err := newServer(cfg, logger, a, p)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return runHTTPServer(srv, cfg, logger)
}

// loadInitialModel tries once to load the latest artifact. Without one the
// server still starts; cycles degrade until a model is trained.
func loadInitialModel(ctx context.Context, p *pipeline.Pipeline, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := p.ReloadModel(ctx); err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundArtifact) {
			logger.Warn("no trained model found; forecasts are unavailable until one is saved")
			return
		}
		logger.Error("initial model load failed", "error", err)
		return
	}
	if m := p.Model(); m != nil {
		logger.Info("model loaded", "model_id", m.ID(), "trained_at", m.TrainedAt())
	}
}

// newServer wires the forecast handler and health probes into the core chassis.
func newServer(cfg *config.Config, logger *slog.Logger, a *app.App, svc handlers.PipelineService) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = a.Metrics
	srv.HealthProbes = a.HealthProbes()

	var q handlers.ObservationQueue
	if pub := a.ObservationQueue(); pub != nil {
		q = pub
	}
	h := handlers.NewForecastHandler(svc, q, srv.Validator, logger, cfg.Server.CycleTimeout)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, h.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
