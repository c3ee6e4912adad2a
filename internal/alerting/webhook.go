package alerting

import (
	"context"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/httpclient"
)

// WebhookChannel posts the alert as JSON to a configured endpoint through
// the retrying HTTP client.
type WebhookChannel struct {
	client *httpclient.Client
	url    string
}

// NewWebhookChannel creates the webhook channel. With no URL it reports
// itself unavailable.
func NewWebhookChannel(url string, client *httpclient.Client) *WebhookChannel {
	if client == nil {
		client = httpclient.New()
	}
	return &WebhookChannel{client: client, url: url}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Available() bool { return c.url != "" }

func (c *WebhookChannel) Send(ctx context.Context, alert *domain.Alert) error {
	return c.client.PostJSON(ctx, c.url, alert)
}
