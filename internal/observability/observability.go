package observability

// Observability is the facade injected into every component. It is the only
// observability type that application layers should depend on.
type Observability interface {
	Logger() Logger
	Metrics() Metrics
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field.
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field rendered as a string.
func Duration(key string, value interface{ String() string }) Field {
	return Field{Key: key, Value: value.String()}
}

// Error creates an error field.
func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with any value type.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

type provider struct {
	logger  Logger
	metrics Metrics
}

func (p *provider) Logger() Logger   { return p.logger }
func (p *provider) Metrics() Metrics { return p.metrics }

// Option configures the observability provider.
type Option func(*provider)

// WithLogger overrides the default slog logger.
func WithLogger(l Logger) Option {
	return func(p *provider) { p.logger = l }
}

// WithMetrics overrides the default prometheus metrics.
func WithMetrics(m Metrics) Option {
	return func(p *provider) { p.metrics = m }
}

// New creates an Observability provider for the given service. Defaults to a
// JSON slog logger at info level and a dedicated prometheus registry.
func New(serviceName string, opts ...Option) Observability {
	p := &provider{}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = NewSlogLogger(LogLevelInfo, LogFormatJSON, serviceName)
	}
	if p.metrics == nil {
		p.metrics = NewPrometheusMetrics(serviceName)
	}

	return p
}
