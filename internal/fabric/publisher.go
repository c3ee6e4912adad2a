package fabric

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/domain"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes envelopes to an exchange. One publisher channel per
// service is sufficient; the channel is guarded by a mutex and reopened
// after connection loss.
type Publisher interface {
	Publish(ctx context.Context, exchange string, envelope *domain.Envelope) error
	Close() error
}

type publisher struct {
	client *Client

	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher creates a Publisher backed by the client.
func NewPublisher(client *Client) Publisher {
	return &publisher{client: client}
}

// channel returns the publisher channel, opening one if needed. Caller must
// hold p.mu.
func (p *publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.client.Channel()
	if err != nil {
		return nil, err
	}

	p.ch = ch
	return ch, nil
}

func (p *publisher) Publish(ctx context.Context, exchange string, envelope *domain.Envelope) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range envelope.Headers {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Body:          envelope.Payload,
		Headers:       headers,
		CorrelationId: envelope.CorrelationID,
		MessageId:     uuid.NewString(),
		Priority:      envelope.Priority,
		Timestamp:     envelope.Timestamp,
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if envelope.ExpirationMs > 0 {
		msg.Expiration = strconv.FormatInt(envelope.ExpirationMs, 10)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.client.config.PublishTimeout)
	defer cancel()

	if err := ch.PublishWithContext(publishCtx, exchange, envelope.RoutingKey, false, false, msg); err != nil {
		// Drop the broken channel so the next publish reopens one.
		_ = p.ch.Close()
		p.ch = nil
		return err
	}

	return nil
}

func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return nil
	}

	err := p.ch.Close()
	p.ch = nil
	return err
}
