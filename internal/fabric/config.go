package fabric

import (
	"errors"
	"time"
)

// Config holds the broker client configuration.
type Config struct {
	// Connection URL (amqp:// or amqps://).
	URL string

	// Heartbeat interval for detecting dead connections.
	Heartbeat time.Duration

	// Timeout for connection establishment.
	ConnectionTimeout time.Duration

	// Timeout applied to each publish.
	PublishTimeout time.Duration

	// Backoff bounds for automatic reconnection.
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
	ReconnectMaxElapsed      time.Duration

	// Prefetch applied to consumers that do not override it.
	DefaultPrefetchCount int

	// Delivery attempts before a message is rejected to the DLQ.
	MaxRetries int

	// Enables the reconnect loop.
	EnableAutoReconnect bool

	ServiceName string
}

// DefaultConfig returns production-safe defaults.
func DefaultConfig() Config {
	return Config{
		Heartbeat:                10 * time.Second,
		ConnectionTimeout:        30 * time.Second,
		PublishTimeout:           5 * time.Second,
		ReconnectInitialInterval: 1 * time.Second,
		ReconnectMaxInterval:     30 * time.Second,
		ReconnectMaxElapsed:      5 * time.Minute,
		DefaultPrefetchCount:     10,
		MaxRetries:               3,
		EnableAutoReconnect:      true,
		ServiceName:              "unknown-service",
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("broker URL is required")
	}

	if c.ServiceName == "" {
		return errors.New("service name is required")
	}

	if c.Heartbeat <= 0 {
		return errors.New("heartbeat must be positive")
	}

	if c.ConnectionTimeout <= 0 {
		return errors.New("connection timeout must be positive")
	}

	if c.PublishTimeout <= 0 {
		return errors.New("publish timeout must be positive")
	}

	if c.ReconnectMaxInterval < c.ReconnectInitialInterval {
		return errors.New("reconnect max interval must be >= initial interval")
	}

	if c.DefaultPrefetchCount < 1 {
		return errors.New("default prefetch count must be >= 1")
	}

	if c.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}

	return nil
}

// Option configures the Client.
type Option func(*Client)

// WithConfig sets the full configuration.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.config = cfg }
}

// WithURL sets the broker connection URL.
func WithURL(url string) Option {
	return func(c *Client) { c.config.URL = url }
}

// WithServiceName sets the service name used in logs.
func WithServiceName(name string) Option {
	return func(c *Client) { c.config.ServiceName = name }
}

// WithPrefetchCount sets the default consumer prefetch.
func WithPrefetchCount(count int) Option {
	return func(c *Client) { c.config.DefaultPrefetchCount = count }
}

// WithMaxRetries sets the delivery attempts before DLQ routing.
func WithMaxRetries(retries int) Option {
	return func(c *Client) { c.config.MaxRetries = retries }
}

// WithAutoReconnect toggles the reconnect loop.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Client) { c.config.EnableAutoReconnect = enabled }
}
