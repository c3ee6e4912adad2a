package alerting

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/jailtonjunior94/streamflow/internal/domain"
)

// slackPoster is the subset of the slack client used here, swappable for
// tests.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackChannel posts alerts into a Slack channel via chat.postMessage.
type SlackChannel struct {
	client  slackPoster
	channel string
}

// NewSlackChannel creates the Slack channel. With no token or channel it
// reports itself unavailable.
func NewSlackChannel(token, channel string) *SlackChannel {
	c := &SlackChannel{channel: channel}
	if token != "" {
		c.client = slack.New(token)
	}
	return c
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Available() bool {
	return c.client != nil && c.channel != ""
}

func (c *SlackChannel) Send(ctx context.Context, alert *domain.Alert) error {
	attachment := slack.Attachment{
		Color: levelColor(alert.Level),
		Title: alert.Title,
		Text:  alert.Message,
		Fields: []slack.AttachmentField{
			{Title: "Rule", Value: alert.RuleID, Short: true},
			{Title: "Level", Value: string(alert.Level), Short: true},
			{Title: "Fired at", Value: alert.FiredAt.Format("2006-01-02 15:04:05 MST"), Short: true},
		},
		Footer: alert.ID,
	}

	_, _, err := c.client.PostMessageContext(ctx, c.channel,
		slack.MsgOptionText(alert.Title, false),
		slack.MsgOptionAttachments(attachment),
	)
	if err != nil {
		return fmt.Errorf("alerting: slack send: %w", err)
	}
	return nil
}

func levelColor(level domain.AlertLevel) string {
	switch level {
	case domain.AlertLevelCritical:
		return "danger"
	case domain.AlertLevelError, domain.AlertLevelWarning:
		return "warning"
	default:
		return "good"
	}
}
