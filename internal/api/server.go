// Package api exposes a read-only HTTP view of the running dispatcher:
// status, the console window, the command catalog, recorded runs and events.
// Commands are never submitted over HTTP; the channel document stays the only
// input.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/commandxml/internal/command"
	"github.com/mattjoyce/commandxml/internal/dispatch"
	"github.com/mattjoyce/commandxml/internal/events"
	"github.com/mattjoyce/commandxml/internal/journal"
)

// StatusSource reports what the dispatch loop is doing.
type StatusSource interface {
	Status() string
	State() dispatch.State
	Running() []string
	Stopping() bool
}

// ConsoleReader exposes the log ring.
type ConsoleReader interface {
	History() []string
	Capacity() int
}

// Catalog lists registered commands.
type Catalog interface {
	Entries() []command.Entry
}

// RunLister reads recorded runs.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Run, error)
}

// Config holds API server configuration
type Config struct {
	Listen      string
	ChannelPath string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	status    StatusSource
	console   ConsoleReader
	catalog   Catalog
	runs      RunLister
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. runs and hub may be nil.
func New(config Config, status StatusSource, console ConsoleReader, catalog Catalog, runs RunLister, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(1)
	}
	return &Server{
		config:    config,
		status:    status,
		console:   console,
		catalog:   catalog,
		runs:      runs,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/console", s.handleConsole)
	r.Get("/commands", s.handleListCommands)
	r.Get("/commands/{name}", s.handleGetCommand)
	r.Get("/runs", s.handleRuns)
	r.Get("/events", s.handleEventSnapshot)
	r.Get("/events/stream", s.handleEvents)
	r.Get("/openapi.json", s.handleOpenAPI)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
