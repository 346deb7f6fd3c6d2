// Package api provides the HTTP server for formlog.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/narvanalabs/formlog/internal/api/handlers"
	"github.com/narvanalabs/formlog/internal/api/health"
	"github.com/narvanalabs/formlog/internal/api/middleware"
	"github.com/narvanalabs/formlog/internal/recorder"
	"github.com/narvanalabs/formlog/internal/sink"
	"github.com/narvanalabs/formlog/internal/stream"
	"github.com/narvanalabs/formlog/pkg/config"
)

// Version is the current version of the server.
// This should be set at build time using ldflags.
var Version = "dev"

// Server represents the HTTP server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	recorder      *recorder.Recorder
	broker        *stream.Broker
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new server. broker may be nil when streaming is disabled.
func NewServer(cfg *config.Config, s sink.Sink, rec *recorder.Recorder, broker *stream.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		recorder:      rec,
		broker:        broker,
		config:        cfg,
		logger:        logger,
		healthChecker: health.NewChecker(s, Version),
	}

	srv.setupRouter()
	srv.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return srv
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	r.Get("/health", s.healthChecker.Handler())

	// Every method reaches the form handler; only POST bodies are logged.
	formHandler := handlers.NewFormHandler(s.recorder, handlers.FormHandlerConfig{
		Action:           s.config.HandlerPath,
		EmitConfirmation: s.config.EmitConfirmation,
		MaxBodyBytes:     s.config.MaxBodyBytes,
	}, s.logger)
	r.HandleFunc(s.config.HandlerPath, formHandler.Handle)

	if s.config.StreamEnabled && s.broker != nil {
		streamHandler := handlers.NewStreamHandler(s.broker, s.logger)
		r.Get("/stream", streamHandler.Stream)
	}

	s.router = r
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// HTTPServer returns the underlying http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Start runs the server until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server",
		"addr", s.httpServer.Addr,
		"handler_path", s.config.HandlerPath,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
