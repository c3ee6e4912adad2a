// Package httpserver provides the chi-based HTTP server shared by the
// ingestion and dashboard surfaces: middleware chain, health endpoints,
// metrics exposure, and graceful lifecycle.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/jailtonjunior94/streamflow/internal/observability"
)

// Router registers a route group onto the server's chi router.
type Router interface {
	Register(r chi.Router)
}

// Server is an HTTP server using the chi router.
type Server struct {
	router            chi.Router
	httpServer        *http.Server
	config            Config
	o11y              observability.Observability
	healthChecks      map[string]HealthCheckFunc
	customMiddlewares []func(http.Handler) http.Handler
	shutdownOnce      sync.Once
}

// New creates a server with the given options.
func New(o11y observability.Observability, opts ...Option) (*Server, error) {
	srv := &Server{
		config:       DefaultConfig(),
		o11y:         o11y,
		healthChecks: make(map[string]HealthCheckFunc),
	}

	for _, opt := range opts {
		opt(srv)
	}

	if err := srv.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	srv.router = chi.NewRouter()
	srv.registerMiddlewares()
	srv.registerSupportEndpoints()

	srv.httpServer = &http.Server{
		Addr:         srv.config.Address,
		Handler:      srv.router,
		ReadTimeout:  srv.config.ReadTimeout,
		WriteTimeout: srv.config.WriteTimeout,
		IdleTimeout:  srv.config.IdleTimeout,
	}

	return srv, nil
}

// RegisterRouters mounts route groups onto the server.
func (s *Server) RegisterRouters(routers ...Router) *Server {
	for _, router := range routers {
		router.Register(s.router)
	}
	return s
}

func (s *Server) registerMiddlewares() {
	s.router.Use(recoverMiddleware(s.o11y))
	s.router.Use(requestIDMiddleware())
	s.router.Use(bodyLimitMiddleware(int64(s.config.BodyLimit)))

	if s.config.EnableCORS {
		s.router.Use(corsMiddleware(s.config.CORSOrigins))
	}

	for _, middleware := range s.customMiddlewares {
		s.router.Use(middleware)
	}
}

func (s *Server) registerSupportEndpoints() {
	if s.config.EnableHealthChecks {
		s.router.Get("/health", s.healthHandler())
		s.router.Get("/ready", s.readyHandler())
	}

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", s.o11y.Metrics().Handler())
	}
}

// Start serves until the context is cancelled, then shuts down gracefully
// within the context handed to Shutdown by the caller's supervisor.
func (s *Server) Start(ctx context.Context) error {
	s.o11y.Logger().Info(ctx, "starting HTTP server",
		observability.String("address", s.config.Address),
		observability.String("service", s.config.ServiceName),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("httpserver: listen on %s: %w", s.config.Address, err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown drains in-flight requests. Idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.o11y.Logger().Info(ctx, "shutting down HTTP server",
			observability.String("address", s.config.Address),
		)
		shutdownErr = s.httpServer.Shutdown(ctx)
	})

	return shutdownErr
}
