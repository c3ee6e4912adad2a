package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	valid := func() Event {
		return Event{
			ID:        NewEventID(),
			Type:      "web.click",
			Source:    "checkout",
			Timestamp: now,
			Severity:  SeverityLow,
			Data:      map[string]any{"page": "/cart"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		field   string
		wantErr bool
	}{
		{name: "valid event", mutate: func(e *Event) {}},
		{
			name:    "missing source",
			mutate:  func(e *Event) { e.Source = "  " },
			field:   "source",
			wantErr: true,
		},
		{
			name:    "missing type",
			mutate:  func(e *Event) { e.Type = "" },
			field:   "type",
			wantErr: true,
		},
		{
			name:    "unknown category",
			mutate:  func(e *Event) { e.Type = "payment.failed" },
			field:   "type",
			wantErr: true,
		},
		{
			name:    "unknown severity",
			mutate:  func(e *Event) { e.Severity = "urgent" },
			field:   "severity",
			wantErr: true,
		},
		{
			name: "error with low severity",
			mutate: func(e *Event) {
				e.Type = "error"
				e.Severity = SeverityLow
			},
			field:   "severity",
			wantErr: true,
		},
		{
			name: "error with high severity is fine",
			mutate: func(e *Event) {
				e.Type = "error"
				e.Severity = SeverityHigh
			},
		},
		{
			name: "user.login without user id",
			mutate: func(e *Event) {
				e.Type = "user.login"
				e.UserID = ""
			},
			field:   "user_id",
			wantErr: true,
		},
		{
			name: "user.login with user id",
			mutate: func(e *Event) {
				e.Type = "user.login"
				e.UserID = "u-42"
			},
		},
		{
			name:    "timestamp in the future",
			mutate:  func(e *Event) { e.Timestamp = now.Add(6 * time.Minute) },
			field:   "timestamp",
			wantErr: true,
		},
		{
			name:   "timestamp within allowed skew",
			mutate: func(e *Event) { e.Timestamp = now.Add(4 * time.Minute) },
		},
		{
			name:    "too many tags",
			mutate:  func(e *Event) { e.Tags = make([]string, MaxTags+1) },
			field:   "tags",
			wantErr: true,
		},
		{
			name: "data too large",
			mutate: func(e *Event) {
				e.Data = map[string]any{"blob": strings.Repeat("x", MaxDataBytes)}
			},
			field:   "data",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := valid()
			tt.mutate(&event)

			err := event.Validate(now)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, IsValidation(err))

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestEventStamp(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("fills missing identity", func(t *testing.T) {
		event := Event{Type: "api.request", Source: "gateway"}
		event.Stamp(now, "caller-7")

		assert.NotEmpty(t, event.ID)
		assert.Equal(t, now, event.Timestamp)
		assert.Equal(t, SeverityLow, event.Severity)
		assert.Equal(t, "caller-7", event.UserID)
		assert.NotNil(t, event.Data)
	})

	t.Run("preserves producer values", func(t *testing.T) {
		ts := now.Add(-time.Hour)
		event := Event{
			ID:        "fixed-id",
			Type:      "api.request",
			Source:    "gateway",
			Timestamp: ts,
			Severity:  SeverityHigh,
			UserID:    "u-1",
		}
		event.Stamp(now, "caller-7")

		assert.Equal(t, "fixed-id", event.ID)
		assert.Equal(t, ts, event.Timestamp)
		assert.Equal(t, SeverityHigh, event.Severity)
		assert.Equal(t, "u-1", event.UserID)
	})
}

func TestEventCategory(t *testing.T) {
	assert.Equal(t, "web", (&Event{Type: "web.click"}).Category())
	assert.Equal(t, "error", (&Event{Type: "error"}).Category())
	assert.Equal(t, "user", (&Event{Type: "user.login"}).Category())
}

func TestEventRoutingKey(t *testing.T) {
	event := Event{Type: "web.pageview"}
	assert.Equal(t, "events.web.pageview", event.RoutingKey())
}
