package fabric

import (
	"context"
	"fmt"
	"sync"

	"github.com/jailtonjunior94/streamflow/internal/observability"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Client is a managed RabbitMQ connection. It is thread-safe and must not be
// copied after creation; always use pointers.
//
// Characteristics:
//   - Automatic reconnection with exponential backoff
//   - Idempotent topology declaration
//   - Graceful shutdown
type Client struct {
	config Config
	o11y   observability.Observability

	mu     sync.RWMutex
	conn   *amqp.Connection
	closed bool

	shutdownOnce sync.Once
	reconnecting sync.WaitGroup
	stopRecon    chan struct{}
}

// New creates a Client and establishes the initial connection.
func New(o11y observability.Observability, opts ...Option) (*Client, error) {
	client := &Client{
		config:    DefaultConfig(),
		o11y:      o11y,
		stopRecon: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(client)
	}

	if err := client.config.Validate(); err != nil {
		return nil, fmt.Errorf("fabric: invalid configuration: %w", err)
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("fabric: failed to establish initial connection: %w", err)
	}

	o11y.Logger().Info(context.Background(), "broker client connected",
		observability.String("service", client.config.ServiceName),
	)

	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp.DialConfig(c.config.URL, amqp.Config{
		Heartbeat: c.config.Heartbeat,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.config.EnableAutoReconnect {
		c.watchConnection(conn)
	}

	return nil
}

// watchConnection reconnects with exponential backoff when the broker drops
// the connection.
func (c *Client) watchConnection(conn *amqp.Connection) {
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.reconnecting.Add(1)
	go func() {
		defer c.reconnecting.Done()

		select {
		case <-c.stopRecon:
			return
		case amqpErr, ok := <-closeCh:
			if !ok || c.isClosed() {
				return
			}

			c.o11y.Logger().Warn(context.Background(), "broker connection lost, reconnecting",
				observability.Error(amqpErr),
			)

			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = c.config.ReconnectInitialInterval
			policy.MaxInterval = c.config.ReconnectMaxInterval
			policy.MaxElapsedTime = c.config.ReconnectMaxElapsed

			err := backoff.Retry(func() error {
				if c.isClosed() {
					return backoff.Permanent(ErrClientClosed)
				}
				return c.connect()
			}, policy)

			if err != nil {
				c.o11y.Logger().Error(context.Background(), "broker reconnection exhausted",
					observability.Error(err),
				)
				return
			}

			c.o11y.Logger().Info(context.Background(), "broker connection re-established")
		}
	}()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Channel returns a fresh AMQP channel. The caller owns the channel and must
// close it.
func (c *Client) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	if c.conn == nil || c.conn.IsClosed() {
		return nil, ErrNotConnected
	}

	return c.conn.Channel()
}

// IsConnected reports whether the client holds a live connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// Ping verifies broker connectivity for health checks.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return c.config
}

// DeclareExchange declares a durable topic exchange. Idempotent.
func (c *Client) DeclareExchange(ctx context.Context, name string) error {
	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("fabric: get channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("fabric: declare exchange %q: %w", name, err)
	}

	c.o11y.Logger().Info(ctx, "exchange declared",
		observability.String("exchange", name),
	)

	return nil
}

// QueueSpec describes a durable queue binding plus its dead-letter pair.
type QueueSpec struct {
	Name       string
	RoutingKey string
	Exchange   string
	Durable    bool

	// TTL for messages parked in the DLQ; 0 means no TTL.
	DLQTTLMs int32
}

// DLXName returns the parallel dead-letter exchange for a queue.
func (s QueueSpec) DLXName() string { return s.Name + ".dlx" }

// DLQName returns the dead-letter queue name.
func (s QueueSpec) DLQName() string { return s.Name + ".dlq" }

// DeclareQueue declares the queue, binds it to its exchange, and sets up the
// parallel DLX/DLQ keyed identically. Rejected messages with no retry budget
// retain their original routing key, so the DLQ binds with the same pattern
// as the main queue.
func (c *Client) DeclareQueue(ctx context.Context, spec QueueSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("fabric: queue name is required")
	}
	if spec.Exchange == "" {
		return fmt.Errorf("fabric: exchange is required for queue %q", spec.Name)
	}

	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("fabric: get channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(spec.DLXName(), amqp.ExchangeTopic, spec.Durable, false, false, false, nil); err != nil {
		return fmt.Errorf("fabric: declare DLX for %q: %w", spec.Name, err)
	}

	dlqArgs := amqp.Table{}
	if spec.DLQTTLMs > 0 {
		dlqArgs["x-message-ttl"] = spec.DLQTTLMs
	}

	if _, err := ch.QueueDeclare(spec.DLQName(), spec.Durable, false, false, false, dlqArgs); err != nil {
		return fmt.Errorf("fabric: declare DLQ for %q: %w", spec.Name, err)
	}

	if err := ch.QueueBind(spec.DLQName(), spec.RoutingKey, spec.DLXName(), false, nil); err != nil {
		return fmt.Errorf("fabric: bind DLQ for %q: %w", spec.Name, err)
	}

	mainArgs := amqp.Table{
		"x-dead-letter-exchange": spec.DLXName(),
	}

	if _, err := ch.QueueDeclare(spec.Name, spec.Durable, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("fabric: declare queue %q: %w", spec.Name, err)
	}

	if err := ch.QueueBind(spec.Name, spec.RoutingKey, spec.Exchange, false, nil); err != nil {
		return fmt.Errorf("fabric: bind queue %q: %w", spec.Name, err)
	}

	c.o11y.Logger().Info(ctx, "queue declared",
		observability.String("queue", spec.Name),
		observability.String("exchange", spec.Exchange),
		observability.String("routing_key", spec.RoutingKey),
		observability.String("dlq", spec.DLQName()),
	)

	return nil
}

// Shutdown closes the connection gracefully. Idempotent.
func (c *Client) Shutdown(ctx context.Context) error {
	var err error

	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		close(c.stopRecon)

		if conn != nil && !conn.IsClosed() {
			done := make(chan error, 1)
			go func() { done <- conn.Close() }()

			select {
			case err = <-done:
			case <-ctx.Done():
				err = fmt.Errorf("fabric: shutdown cancelled: %w", ctx.Err())
			}
		}

		c.reconnecting.Wait()

		c.o11y.Logger().Info(context.Background(), "broker client closed")
	})

	return err
}
