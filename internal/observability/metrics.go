package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides application metric instruments. Instruments are memoized
// by name: requesting the same name twice returns the same instrument, so
// components can resolve instruments lazily on the hot path.
type Metrics interface {
	Counter(name, help string, labels ...string) Counter
	Histogram(name, help string, labels ...string) Histogram
	Gauge(name, help string, labels ...string) Gauge

	// Handler exposes the backing registry for the /metrics endpoint.
	Handler() http.Handler
}

// Counter is a monotonically increasing metric.
type Counter interface {
	Add(value float64, labelValues ...string)
	Increment(labelValues ...string)
}

// Histogram records a distribution of values.
type Histogram interface {
	Observe(value float64, labelValues ...string)
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64, labelValues ...string)
	Add(value float64, labelValues ...string)
}

type promMetrics struct {
	registry  *prometheus.Registry
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics creates a Metrics implementation backed by a dedicated
// prometheus registry, with Go runtime and process collectors registered.
func NewPrometheusMetrics(serviceName string) Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &promMetrics{
		registry:   registry,
		namespace:  sanitizeName(serviceName),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func sanitizeName(name string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)
}

func (m *promMetrics) Counter(name, help string, labels ...string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      sanitizeName(name),
			Help:      help,
		}, labels)
		m.registry.MustRegister(vec)
		m.counters[name] = vec
	}

	return &promCounter{vec: vec}
}

func (m *promMetrics) Histogram(name, help string, labels ...string) Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()

	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      sanitizeName(name),
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		}, labels)
		m.registry.MustRegister(vec)
		m.histograms[name] = vec
	}

	return &promHistogram{vec: vec}
}

func (m *promMetrics) Gauge(name, help string, labels ...string) Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()

	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      sanitizeName(name),
			Help:      help,
		}, labels)
		m.registry.MustRegister(vec)
		m.gauges[name] = vec
	}

	return &promGauge{vec: vec}
}

func (m *promMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type promCounter struct {
	vec *prometheus.CounterVec
}

func (c *promCounter) Add(value float64, labelValues ...string) {
	c.vec.WithLabelValues(labelValues...).Add(value)
}

func (c *promCounter) Increment(labelValues ...string) {
	c.vec.WithLabelValues(labelValues...).Inc()
}

type promHistogram struct {
	vec *prometheus.HistogramVec
}

func (h *promHistogram) Observe(value float64, labelValues ...string) {
	h.vec.WithLabelValues(labelValues...).Observe(value)
}

type promGauge struct {
	vec *prometheus.GaugeVec
}

func (g *promGauge) Set(value float64, labelValues ...string) {
	g.vec.WithLabelValues(labelValues...).Set(value)
}

func (g *promGauge) Add(value float64, labelValues ...string) {
	g.vec.WithLabelValues(labelValues...).Add(value)
}
