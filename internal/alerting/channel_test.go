package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/httpclient"
)

func sampleAlert() *domain.Alert {
	firedAt := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	alert := domain.NewAlert("high_error_rate", domain.AlertLevelCritical,
		"error volume exceeded threshold", "more than 10 errors in a minute",
		map[string]any{"source": "checkout"}, firedAt)
	alert.Deliver()
	return alert
}

func TestEmailChannelAvailability(t *testing.T) {
	assert.False(t, NewEmailChannel(EmailConfig{}).Available())
	assert.False(t, NewEmailChannel(EmailConfig{Host: "smtp.example.com", From: "a@example.com"}).Available())

	channel := NewEmailChannel(EmailConfig{
		Host: "smtp.example.com",
		Port: "587",
		From: "alerts@example.com",
		To:   "oncall@example.com, ops@example.com ,",
	})
	assert.True(t, channel.Available())
	assert.Equal(t, "email", channel.Name())
	assert.Equal(t, []string{"oncall@example.com", "ops@example.com"}, channel.to)
}

func TestEmailChannelSend(t *testing.T) {
	channel := NewEmailChannel(EmailConfig{
		Host: "smtp.example.com",
		Port: "587",
		From: "alerts@example.com",
		To:   "oncall@example.com",
	})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	channel.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, channel.Send(context.Background(), sampleAlert()))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"oncall@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [CRITICAL] error volume exceeded threshold")
	assert.Contains(t, string(gotMsg), "rule: high_error_rate")
}

func TestEmailChannelSendRespectsContext(t *testing.T) {
	channel := NewEmailChannel(EmailConfig{
		Host: "smtp.example.com",
		Port: "587",
		From: "alerts@example.com",
		To:   "oncall@example.com",
	})
	channel.send = func(string, smtp.Auth, string, []string, []byte) error {
		time.Sleep(time.Second)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := channel.Send(ctx, sampleAlert())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeSlackPoster struct {
	channelID string
	options   []slack.MsgOption
	err       error
}

func (f *fakeSlackPoster) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channelID = channelID
	f.options = options
	return "", "", f.err
}

func TestSlackChannelAvailability(t *testing.T) {
	assert.False(t, NewSlackChannel("", "#alerts").Available())
	assert.False(t, NewSlackChannel("xoxb-token", "").Available())
	assert.True(t, NewSlackChannel("xoxb-token", "#alerts").Available())
}

func TestSlackChannelSend(t *testing.T) {
	poster := &fakeSlackPoster{}
	channel := &SlackChannel{client: poster, channel: "#alerts"}

	require.NoError(t, channel.Send(context.Background(), sampleAlert()))
	assert.Equal(t, "#alerts", poster.channelID)
	assert.Len(t, poster.options, 2)

	poster.err = assert.AnError
	assert.Error(t, channel.Send(context.Background(), sampleAlert()))
}

func TestLevelColor(t *testing.T) {
	assert.Equal(t, "danger", levelColor(domain.AlertLevelCritical))
	assert.Equal(t, "warning", levelColor(domain.AlertLevelError))
	assert.Equal(t, "warning", levelColor(domain.AlertLevelWarning))
	assert.Equal(t, "good", levelColor(domain.AlertLevelInfo))
}

func TestWebhookChannel(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "application/json"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewWebhookChannel(server.URL, httpclient.New())
	assert.True(t, channel.Available())
	assert.Equal(t, "webhook", channel.Name())

	alert := sampleAlert()
	require.NoError(t, channel.Send(context.Background(), alert))
	assert.Equal(t, alert.ID, received["id"])

	assert.False(t, NewWebhookChannel("", nil).Available())
}
