package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/fabric"
	"github.com/jailtonjunior94/streamflow/internal/observability"
)

// Service persists every event flowing through the broker. It consumes the
// storage.events queue, which is bound to the full events.# pattern, and
// writes each message idempotently so redeliveries never duplicate rows.
type Service struct {
	consumer *fabric.Consumer
	o11y     observability.Observability
}

// NewService wires the events repository to its durable queue. Messages
// that fail to decode or insert are retried by the consumer and end up on
// the dead letter queue once the retry budget is spent.
func NewService(client *fabric.Client, events *EventsRepository, o11y observability.Observability) *Service {
	stored := o11y.Metrics().Counter(
		"events_stored_total",
		"Events persisted by the storage consumer.",
		"outcome",
	)

	consumer := fabric.NewConsumer(client, fabric.WithQueue(fabric.QueueStorageEvents))
	consumer.RegisterHandler("events.#", func(ctx context.Context, delivery fabric.Delivery) error {
		var event domain.Event
		if err := json.Unmarshal(delivery.Body, &event); err != nil {
			stored.Increment("malformed")
			return fmt.Errorf("storage: decode event: %w", err)
		}

		if err := events.Insert(ctx, &event); err != nil {
			stored.Increment("failed")
			return err
		}

		stored.Increment("completed")
		return nil
	})

	return &Service{consumer: consumer, o11y: o11y}
}

// Run consumes until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.o11y.Logger().Info(ctx, "storage consumer started")
	return s.consumer.Consume(ctx)
}
