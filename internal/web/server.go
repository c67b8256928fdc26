// Package web provides the HTTP trigger endpoints for library syncs,
// playlist updates and the bulk new-release job.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultAddr is the default server address.
const DefaultAddr = "127.0.0.1:8080"

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr   string
	Logger *log.Logger
}

// Server is the HTTP server for the trigger endpoints.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	logger   *log.Logger
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig, handlers *Handlers) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	router := chi.NewRouter()

	s := &Server{
		router:   router,
		handlers: handlers,
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  s.logger.StandardLog(),
		NoColor: true,
	}))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handlers.Health)

	s.router.Route("/users/{userID}", func(r chi.Router) {
		r.Post("/sync", s.handlers.SyncLibrary)
		r.Post("/playlist", s.handlers.UpdatePlaylist)
		r.Get("/artists", s.handlers.ListArtists)
		r.Post("/artists", s.handlers.AddArtist)
		r.Delete("/artists/{artistID}", s.handlers.RemoveArtist)
		r.Get("/settings", s.handlers.GetSettings)
		r.Put("/settings", s.handlers.UpdateSettings)
	})

	s.router.Get("/artists/search", s.handlers.SearchArtists)

	s.router.Route("/jobs", func(r chi.Router) {
		r.Post("/new-releases", s.handlers.NewReleases)
		r.Post("/reset-marker", s.handlers.AdvanceResetMarker)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for running jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// Run starts the server and handles graceful shutdown on interrupt signals
// or when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	// Channel to receive shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	case <-ctx.Done():
	}
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
