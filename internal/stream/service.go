package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/fabric"
	"github.com/jailtonjunior94/streamflow/internal/observability"
)

// Service hosts the processor on the analytics.events queue.
type Service struct {
	consumer  *fabric.Consumer
	processor *Processor
	o11y      observability.Observability
}

// NewService wires the processor to its durable queue.
func NewService(client *fabric.Client, processor *Processor, o11y observability.Observability) *Service {
	consumer := fabric.NewConsumer(client, fabric.WithQueue(fabric.QueueAnalyticsEvents))
	consumer.RegisterHandler("events.#", func(ctx context.Context, delivery fabric.Delivery) error {
		var event domain.Event
		if err := json.Unmarshal(delivery.Body, &event); err != nil {
			return fmt.Errorf("stream: decode event: %w", err)
		}

		return processor.Process(ctx, event)
	})

	return &Service{consumer: consumer, processor: processor, o11y: o11y}
}

// Run consumes until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.o11y.Logger().Info(ctx, "stream processor started")
	return s.consumer.Consume(ctx)
}
