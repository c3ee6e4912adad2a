package httpserver

import (
	"net/http"
	"strings"
)

// Option configures a Server.
type Option func(*Server)

// WithConfig sets the full configuration.
func WithConfig(cfg Config) Option {
	return func(s *Server) { s.config = cfg }
}

// WithPort sets the listen port.
func WithPort(port string) Option {
	return func(s *Server) {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		s.config.Address = port
	}
}

// WithServiceInfo sets the identity reported by health checks.
func WithServiceInfo(name, version, environment string) Option {
	return func(s *Server) {
		s.config.ServiceName = name
		s.config.ServiceVersion = version
		s.config.Environment = environment
	}
}

// WithBodyLimit sets the maximum request body size in bytes.
func WithBodyLimit(limit int) Option {
	return func(s *Server) { s.config.BodyLimit = limit }
}

// WithCORS enables CORS for the comma-separated origin list.
func WithCORS(origins string) Option {
	return func(s *Server) {
		s.config.EnableCORS = true
		s.config.CORSOrigins = origins
	}
}

// WithMetrics exposes the metrics handler on /metrics.
func WithMetrics() Option {
	return func(s *Server) { s.config.EnableMetrics = true }
}

// WithHealthCheck registers a named readiness check.
func WithHealthCheck(name string, check HealthCheckFunc) Option {
	return func(s *Server) { s.healthChecks[name] = check }
}

// WithMiddleware appends a custom middleware after the built-in chain.
func WithMiddleware(middleware func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.customMiddlewares = append(s.customMiddlewares, middleware)
	}
}
