package fabric

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jailtonjunior94/streamflow/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery is a message handed to a consumer handler.
type Delivery struct {
	Body          []byte
	RoutingKey    string
	Exchange      string
	CorrelationID string
	MessageID     string
	Headers       map[string]any
	Redelivered   bool
}

// Handler processes a delivery. Returning nil acknowledges the message; an
// error rejects it (requeued until the retry budget is spent, then routed to
// the DLQ via the queue's DLX).
type Handler func(ctx context.Context, delivery Delivery) error

// Consumer consumes one queue with manual acknowledgement and a prefetch
// bound so slow consumers exert backpressure.
type Consumer struct {
	client *Client
	o11y   observability.Observability

	queue         string
	prefetchCount int
	maxRetries    int

	mu       sync.RWMutex
	handlers map[string]Handler

	// Delivery attempts per message id; entries are dropped on ack or on
	// final rejection.
	attemptsMu sync.Mutex
	attempts   map[string]int

	failures observability.Counter
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithQueue sets the queue to consume.
func WithQueue(name string) ConsumerOption {
	return func(c *Consumer) { c.queue = name }
}

// WithConsumerPrefetch overrides the client's default prefetch.
func WithConsumerPrefetch(count int) ConsumerOption {
	return func(c *Consumer) { c.prefetchCount = count }
}

// WithConsumerMaxRetries overrides the client's default retry budget.
func WithConsumerMaxRetries(retries int) ConsumerOption {
	return func(c *Consumer) { c.maxRetries = retries }
}

// NewConsumer creates a Consumer bound to one queue.
func NewConsumer(client *Client, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		client:        client,
		o11y:          client.o11y,
		prefetchCount: client.config.DefaultPrefetchCount,
		maxRetries:    client.config.MaxRetries,
		handlers:      make(map[string]Handler),
		attempts:      make(map[string]int),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.failures = client.o11y.Metrics().Counter(
		"consumer_failures_total",
		"Messages whose handler returned an error.",
		"queue",
	)

	return c
}

// RegisterHandler registers a handler for a routing key. The key may be
// exact ("events.web.click"), a topic pattern ("events.*", "analytics.#"),
// or the catch-all "#".
func (c *Consumer) RegisterHandler(routingKey string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[routingKey] = handler
}

// handlerFor resolves the handler whose pattern matches the routing key.
// Exact matches win over patterns.
func (c *Consumer) handlerFor(routingKey string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if h, ok := c.handlers[routingKey]; ok {
		return h, true
	}

	for pattern, h := range c.handlers {
		if topicMatch(pattern, routingKey) {
			return h, true
		}
	}

	return nil, false
}

// topicMatch implements AMQP topic matching: "*" matches exactly one word,
// "#" matches zero or more words.
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}

	switch pattern[0] {
	case "#":
		if len(pattern) == 1 {
			return true
		}
		for i := 0; i <= len(words); i++ {
			if matchWords(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(words) > 0 && matchWords(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && matchWords(pattern[1:], words[1:])
	}
}

// Consume starts consuming and blocks until the context is cancelled or the
// deliveries channel closes. Messages are processed in broker order; the
// prefetch bound caps in-flight messages.
func (c *Consumer) Consume(ctx context.Context) error {
	if c.queue == "" {
		return fmt.Errorf("fabric: consumer queue is required")
	}

	ch, err := c.client.Channel()
	if err != nil {
		return fmt.Errorf("fabric: get channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		return fmt.Errorf("fabric: set QoS: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("fabric: start consuming %q: %w", c.queue, err)
	}

	c.o11y.Logger().Info(ctx, "consumer started",
		observability.String("queue", c.queue),
		observability.Int("prefetch", c.prefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			c.o11y.Logger().Info(ctx, "consumer stopped",
				observability.String("queue", c.queue),
			)
			return ctx.Err()

		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("fabric: deliveries channel closed for %q", c.queue)
			}
			c.process(ctx, delivery)
		}
	}
}

func (c *Consumer) process(ctx context.Context, delivery amqp.Delivery) {
	d := Delivery{
		Body:          delivery.Body,
		RoutingKey:    delivery.RoutingKey,
		Exchange:      delivery.Exchange,
		CorrelationID: delivery.CorrelationId,
		MessageID:     delivery.MessageId,
		Headers:       delivery.Headers,
		Redelivered:   delivery.Redelivered,
	}

	handler, ok := c.handlerFor(delivery.RoutingKey)
	if !ok {
		c.o11y.Logger().Warn(ctx, "no handler for routing key, rejecting to DLQ",
			observability.String("queue", c.queue),
			observability.String("routing_key", delivery.RoutingKey),
		)
		c.reject(ctx, delivery, false)
		return
	}

	if err := c.invoke(ctx, handler, d); err != nil {
		c.failures.Increment(c.queue)
		c.o11y.Logger().Error(ctx, "handler error",
			observability.String("queue", c.queue),
			observability.String("routing_key", delivery.RoutingKey),
			observability.Error(err),
		)

		requeue := c.consumeRetryBudget(delivery.MessageId)
		c.reject(ctx, delivery, requeue)
		return
	}

	c.clearAttempts(delivery.MessageId)

	if err := delivery.Ack(false); err != nil {
		c.o11y.Logger().Error(ctx, "failed to ack message",
			observability.String("queue", c.queue),
			observability.Error(err),
		)
	}
}

// invoke runs the handler, converting panics into errors so one bad message
// cannot take the consumer down.
func (c *Consumer) invoke(ctx context.Context, handler Handler, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fabric: handler panic: %v", r)
		}
	}()

	return handler(ctx, d)
}

// consumeRetryBudget records a failed attempt and reports whether the
// message should be requeued. Messages without an id have no budget and go
// straight to the DLQ.
func (c *Consumer) consumeRetryBudget(messageID string) bool {
	if messageID == "" || c.maxRetries == 0 {
		return false
	}

	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()

	c.attempts[messageID]++
	if c.attempts[messageID] >= c.maxRetries {
		delete(c.attempts, messageID)
		return false
	}

	return true
}

func (c *Consumer) clearAttempts(messageID string) {
	if messageID == "" {
		return
	}

	c.attemptsMu.Lock()
	delete(c.attempts, messageID)
	c.attemptsMu.Unlock()
}

func (c *Consumer) reject(ctx context.Context, delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.o11y.Logger().Error(ctx, "failed to nack message",
			observability.String("queue", c.queue),
			observability.Error(err),
		)
	}
}
