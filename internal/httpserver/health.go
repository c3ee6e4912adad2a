package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthCheckFunc probes one dependency. A nil error means healthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status      string                 `json:"status"`
	Service     string                 `json:"service"`
	Version     string                 `json:"version"`
	Environment string                 `json:"environment"`
	Timestamp   time.Time              `json:"timestamp"`
	Checks      map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one dependency's probe outcome.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const healthCheckTimeout = 5 * time.Second

// runChecks probes every dependency concurrently under one timeout.
func runChecks(ctx context.Context, checks map[string]HealthCheckFunc) (map[string]CheckResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		results   = make(map[string]CheckResult, len(checks))
		hasErrors bool
	)

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()

			result := CheckResult{Status: "healthy"}
			if err := check(ctx); err != nil {
				result = CheckResult{Status: "unhealthy", Error: err.Error()}
			}

			mu.Lock()
			results[name] = result
			if result.Status != "healthy" {
				hasErrors = true
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	return results, hasErrors
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, hasErrors := runChecks(r.Context(), s.healthChecks)

		status, code := "healthy", http.StatusOK
		if hasErrors {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(HealthStatus{
			Status:      status,
			Service:     s.config.ServiceName,
			Version:     s.config.ServiceVersion,
			Environment: s.config.Environment,
			Timestamp:   time.Now().UTC(),
			Checks:      results,
		})
	}
}

func (s *Server) readyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, hasErrors := runChecks(r.Context(), s.healthChecks); hasErrors {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Service Unavailable"))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
