package domain

import "time"

// MetricType classifies an emitted measurement.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
	MetricTypeTimer     MetricType = "timer"
)

// Metric is a derived measurement emitted by the stream processor. Metrics
// are not persisted by the core; they are routed through the analytics
// exchange for the alert engine and external sinks.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewCounter creates a counter metric observation.
func NewCounter(name string, value float64, tags map[string]string, at time.Time) Metric {
	return Metric{Name: name, Type: MetricTypeCounter, Value: value, Tags: tags, Timestamp: at.UTC()}
}

// NewGauge creates a gauge metric observation.
func NewGauge(name string, value float64, tags map[string]string, at time.Time) Metric {
	return Metric{Name: name, Type: MetricTypeGauge, Value: value, Tags: tags, Timestamp: at.UTC()}
}

// NewTimer creates a timer observation in seconds.
func NewTimer(name string, seconds float64, tags map[string]string, at time.Time) Metric {
	return Metric{Name: name, Type: MetricTypeTimer, Value: seconds, Tags: tags, Timestamp: at.UTC()}
}
