package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity classifies the impact of an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether the severity is one of the known values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Event categories. The event type is either a bare category ("error",
// "metric", "custom") or a category plus a dotted subtype ("web.click",
// "user.login"). The custom category carries its free-form sub-tag in
// data.custom_type and is treated as a single bucket everywhere.
const (
	CategoryWeb    = "web"
	CategoryAPI    = "api"
	CategoryUser   = "user"
	CategoryError  = "error"
	CategoryMetric = "metric"
	CategoryCustom = "custom"
)

const (
	// MaxDataBytes is the maximum serialized size of the data payload.
	MaxDataBytes = 100 * 1024

	// MaxTags is the maximum number of tags per event.
	MaxTags = 10

	// MaxClockSkew is how far in the future an event timestamp may be.
	MaxClockSkew = 5 * time.Minute
)

// Event is the unit of input for the pipeline. Events are immutable after
// publish; the ingestion edge is the only place that stamps identity.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Source        string         `json:"source"`
	Timestamp     time.Time      `json:"timestamp"`
	Severity      Severity       `json:"severity"`
	Data          map[string]any `json:"data"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
}

// Category returns the event's top-level type bucket.
func (e *Event) Category() string {
	if idx := strings.IndexByte(e.Type, '.'); idx > 0 {
		return e.Type[:idx]
	}
	return e.Type
}

func validCategory(category string) bool {
	switch category {
	case CategoryWeb, CategoryAPI, CategoryUser, CategoryError, CategoryMetric, CategoryCustom:
		return true
	}
	return false
}

// Stamp assigns identity to an event at the ingestion edge: a fresh id, the
// current timestamp when absent, a default severity, and the caller identity
// when the producer did not name a user.
func (e *Event) Stamp(now time.Time, callerID string) {
	if e.ID == "" {
		e.ID = NewEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityLow
	}
	if e.UserID == "" {
		e.UserID = callerID
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
}

// Validate checks the event against the ingestion contract. It returns a
// *ValidationError so callers can surface the offending field.
func (e *Event) Validate(now time.Time) error {
	if strings.TrimSpace(e.Source) == "" {
		return newValidationError("source", "source is required")
	}

	if e.Type == "" {
		return newValidationError("type", "type is required")
	}

	if !validCategory(e.Category()) {
		return newValidationError("type", fmt.Sprintf("unknown event type %q", e.Type))
	}

	if !e.Severity.IsValid() {
		return newValidationError("severity", fmt.Sprintf("unknown severity %q", e.Severity))
	}

	if e.Category() == CategoryError && e.Severity == SeverityLow {
		return newValidationError("severity", "error events must have severity above low")
	}

	if e.Type == "user.login" && e.UserID == "" {
		return newValidationError("user_id", "user.login events require user_id")
	}

	if !e.Timestamp.IsZero() && e.Timestamp.After(now.Add(MaxClockSkew)) {
		return newValidationError("timestamp", "timestamp is in the future")
	}

	if len(e.Tags) > MaxTags {
		return newValidationError("tags", fmt.Sprintf("at most %d tags allowed", MaxTags))
	}

	if e.Data != nil {
		serialized, err := json.Marshal(e.Data)
		if err != nil {
			return newValidationError("data", "data is not serializable")
		}
		if len(serialized) > MaxDataBytes {
			return newValidationError("data", fmt.Sprintf("data exceeds %d bytes", MaxDataBytes))
		}
	}

	return nil
}

// NewEventID generates an opaque 128-bit event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// RoutingKey returns the broker routing key for the event
// ("events.<event_type>").
func (e *Event) RoutingKey() string {
	return "events." + e.Type
}
