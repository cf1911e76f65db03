// Package server sets up the HTTP server, router and route definitions.
//
// It is the wiring layer: App (app.go) builds the dependency chain once,
// and setupRoutes maps URLs onto handlers built from it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/berri-graph/internal/config"
	"github.com/sakif/berri-graph/internal/handler"
	"github.com/sakif/berri-graph/internal/middleware"
)

// Server owns the router and the App it serves. The App's backends are
// closed when Start returns.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	app    *App
}

// New builds the App from cfg and registers all routes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		app:    app,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures middleware and handlers.
//
//	POST /api/find-mutuals  → sync both users, return introducer candidates
//	GET  /healthz           → ping graph store (and redis when configured)
//	GET  /metrics           → Prometheus exposition
//
// Middleware runs in the order added; RequestID must precede Logger.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	healthHandler := handler.NewHealthHandler(s.app.Checks, s.logger)
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	mutualsHandler := handler.NewMutualsHandler(s.app.Mutuals, s.logger)
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/find-mutuals", mutualsHandler.HandleFindMutuals)
	})
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Close releases the App's backends. Start does this itself.
func (s *Server) Close() error { return s.app.Close() }

// Start serves until SIGINT or SIGTERM, then drains in-flight requests for
// up to 30 seconds and closes the backends.
func (s *Server) Start() error {
	defer s.app.Close()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// a first sync of a large account pages through thousands of entries
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("graph_backend", s.config.Graph.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
