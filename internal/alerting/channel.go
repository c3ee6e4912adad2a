package alerting

import (
	"context"

	"github.com/jailtonjunior94/streamflow/internal/domain"
)

// Channel delivers alert notifications to one destination. Send failures
// are logged per channel and never block other channels for the same alert.
type Channel interface {
	// Name identifies the channel in rule channel lists ("email", "slack",
	// "webhook").
	Name() string

	// Available reports whether the channel is configured and usable. An
	// unavailable channel is skipped without counting as a failed send.
	Available() bool

	// Send delivers one alert. The context carries the per-send timeout.
	Send(ctx context.Context, alert *domain.Alert) error
}
