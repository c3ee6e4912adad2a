package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/fabric"
	"github.com/jailtonjunior94/streamflow/internal/observability"
)

// Service hosts the alert engine on its two durable queues: analytics
// payloads from the stream processor and direct alert messages.
type Service struct {
	engine    *Engine
	analytics *fabric.Consumer
	direct    *fabric.Consumer
	o11y      observability.Observability
}

// NewService wires the engine to the broker.
func NewService(client *fabric.Client, engine *Engine, o11y observability.Observability) *Service {
	analytics := fabric.NewConsumer(client, fabric.WithQueue(fabric.QueueAlertingAnalytics))
	analytics.RegisterHandler("analytics.#", func(ctx context.Context, delivery fabric.Delivery) error {
		var metric domain.Metric
		if err := json.Unmarshal(delivery.Body, &metric); err != nil {
			return fmt.Errorf("alerting: decode metric: %w", err)
		}
		return engine.HandleMetric(ctx, metric)
	})

	direct := fabric.NewConsumer(client, fabric.WithQueue(fabric.QueueAlertingDirect))
	direct.RegisterHandler("alerts.#", func(ctx context.Context, delivery fabric.Delivery) error {
		var msg domain.AlertMessage
		if err := json.Unmarshal(delivery.Body, &msg); err != nil {
			return fmt.Errorf("alerting: decode alert message: %w", err)
		}
		return engine.HandleDirect(ctx, msg)
	})

	return &Service{engine: engine, analytics: analytics, direct: direct, o11y: o11y}
}

// Run recovers the active set and consumes both queues until the context
// is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.engine.Start(ctx); err != nil {
		return err
	}

	s.o11y.Logger().Info(ctx, "alert engine started")

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.analytics.Consume(ctx) })
	group.Go(func() error { return s.direct.Consume(ctx) })
	return group.Wait()
}
