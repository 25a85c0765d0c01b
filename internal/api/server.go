package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/api/handlers"
	"github.com/amaumene/lapis/internal/api/middleware"
)

// Deps are the components exposed over HTTP
type Deps struct {
	Jobs     handlers.JobCounter
	InFlight handlers.InFlightCounter
	Plugins  handlers.PluginLister
	Runner   handlers.JobRunner
	Metrics  http.Handler
	Version  string
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(port string, deps Deps, logger *logrus.Logger) *Server {
	s := &Server{logger: logger}

	mux := http.NewServeMux()
	s.setupRoutes(mux, deps)

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      middleware.Logging(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // on-demand mirrors wait for uploads
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux, deps Deps) {
	mux.Handle("/health", handlers.NewHealthHandler(deps.Version, s.logger))

	if deps.Jobs != nil {
		mux.Handle("/status", handlers.NewStatusHandler(deps.Jobs, deps.InFlight, s.logger))
	}
	if deps.Plugins != nil {
		mux.Handle("/api/plugins", handlers.NewPluginsHandler(deps.Plugins, s.logger))
	}
	if deps.Runner != nil {
		mux.Handle("/api/mirror", handlers.NewMirrorHandler(deps.Runner, 4*time.Minute, s.logger))
	}
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
