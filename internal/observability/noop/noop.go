// Package noop provides a no-op Observability implementation for tests and
// for components that have not been wired with a real provider yet.
package noop

import (
	"context"
	"net/http"

	"github.com/jailtonjunior94/streamflow/internal/observability"
)

type noopProvider struct{}

// New creates a no-op Observability provider.
func New() observability.Observability {
	return &noopProvider{}
}

func (n *noopProvider) Logger() observability.Logger   { return &noopLogger{} }
func (n *noopProvider) Metrics() observability.Metrics { return &noopMetrics{} }

type noopLogger struct{}

func (l *noopLogger) Debug(context.Context, string, ...observability.Field) {}
func (l *noopLogger) Info(context.Context, string, ...observability.Field)  {}
func (l *noopLogger) Warn(context.Context, string, ...observability.Field)  {}
func (l *noopLogger) Error(context.Context, string, ...observability.Field) {}

func (l *noopLogger) With(...observability.Field) observability.Logger { return l }

type noopMetrics struct{}

func (m *noopMetrics) Counter(string, string, ...string) observability.Counter {
	return noopInstrument{}
}

func (m *noopMetrics) Histogram(string, string, ...string) observability.Histogram {
	return noopInstrument{}
}

func (m *noopMetrics) Gauge(string, string, ...string) observability.Gauge {
	return noopInstrument{}
}

func (m *noopMetrics) Handler() http.Handler { return http.NotFoundHandler() }

type noopInstrument struct{}

func (noopInstrument) Add(float64, ...string)     {}
func (noopInstrument) Increment(...string)        {}
func (noopInstrument) Observe(float64, ...string) {}
func (noopInstrument) Set(float64, ...string)     {}
