// Package core provides the HTTP chassis for AQI Watch: a chi router with
// the request middleware chain, JSON response helpers and health probes.
// Domain handlers are mounted through V1RouteRegistrars so core never
// imports them.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aqiwatch/internal/config"
)

// MetricsCollector records API request latency.
type MetricsCollector interface {
	RecordAPILatency(ctx context.Context, endpoint string, d time.Duration)
}

// Server holds the router and the dependencies shared by middleware.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1.
	V1RouteRegistrars []func(chi.Router)

	// Closers are closed in order by Shutdown.
	Closers []io.Closer

	router *chi.Mux
}

// NewServer returns a Server with an empty router. Call MountRoutes after
// registering probes and route registrars.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases the registered closers, continuing past failures.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	var errs []error
	for _, c := range s.Closers {
		if err := c.Close(); err != nil {
			s.Logger.Error("error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
