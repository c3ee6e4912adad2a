package fabric

import (
	"context"
	"fmt"
)

// Exchange names. All three are durable topic exchanges.
const (
	ExchangeEvents    = "events"
	ExchangeAnalytics = "analytics"
	ExchangeAlerts    = "alerts"
)

// Queue names.
const (
	QueueAnalyticsEvents   = "analytics.events"
	QueueStorageEvents     = "storage.events"
	QueueAlertingAnalytics = "alerting.analytics"
	QueueAlertingDirect    = "alerting.direct"
)

// DLQTTLMs is how long dead-lettered messages are kept.
const DLQTTLMs = 300_000

// Routing keys with fixed meaning; event routing keys are derived from the
// event type ("events.<event_type>").
const (
	RoutingKeyMetrics           = "analytics.metrics"
	RoutingKeyAlertNotification = "alerts.notification"
)

// Topology is the full broker layout binding the pipeline stages together.
func Topology() []QueueSpec {
	return []QueueSpec{
		{Name: QueueAnalyticsEvents, RoutingKey: "events.*", Exchange: ExchangeEvents, Durable: true, DLQTTLMs: DLQTTLMs},
		{Name: QueueStorageEvents, RoutingKey: "events.#", Exchange: ExchangeEvents, Durable: true, DLQTTLMs: DLQTTLMs},
		{Name: QueueAlertingAnalytics, RoutingKey: "analytics.*", Exchange: ExchangeAnalytics, Durable: true, DLQTTLMs: DLQTTLMs},
		{Name: QueueAlertingDirect, RoutingKey: "alerts.*", Exchange: ExchangeAlerts, Durable: true, DLQTTLMs: DLQTTLMs},
	}
}

// DeclareTopology declares the exchanges and queues the pipeline depends on.
// A declaration failure is fatal for the process; the caller must abort.
func DeclareTopology(ctx context.Context, client *Client) error {
	for _, exchange := range []string{ExchangeEvents, ExchangeAnalytics, ExchangeAlerts} {
		if err := client.DeclareExchange(ctx, exchange); err != nil {
			return fmt.Errorf("fabric: topology: %w", err)
		}
	}

	for _, spec := range Topology() {
		if err := client.DeclareQueue(ctx, spec); err != nil {
			return fmt.Errorf("fabric: topology: %w", err)
		}
	}

	return nil
}
