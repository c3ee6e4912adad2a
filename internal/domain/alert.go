package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// AlertState is the position of an alert in its life cycle.
type AlertState string

const (
	AlertStatePending    AlertState = "pending"
	AlertStateActive     AlertState = "active"
	AlertStateSuppressed AlertState = "suppressed"
	AlertStateEscalated  AlertState = "escalated"
	AlertStateResolved   AlertState = "resolved"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelError    AlertLevel = "error"
	AlertLevelCritical AlertLevel = "critical"
)

// IsValid reports whether the level is one of the known values.
func (l AlertLevel) IsValid() bool {
	switch l {
	case AlertLevelInfo, AlertLevelWarning, AlertLevelError, AlertLevelCritical:
		return true
	}
	return false
}

// Alert is a single firing of a rule. Resolved alerts are never re-opened;
// a later firing of the same rule creates a new alert.
type Alert struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"rule_id"`
	Level          AlertLevel     `json:"level"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	State          AlertState     `json:"state"`
	FiredAt        time.Time      `json:"fired_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	EscalatedAt    *time.Time     `json:"escalated_at,omitempty"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
}

// NewAlert creates a pending alert for a rule firing. Alert ids are ULIDs so
// rows sort by fire time.
func NewAlert(ruleID string, level AlertLevel, title, message string, data map[string]any, firedAt time.Time) *Alert {
	return &Alert{
		ID:      NewAlertID(),
		RuleID:  ruleID,
		Level:   level,
		Title:   title,
		Message: message,
		Data:    data,
		State:   AlertStatePending,
		FiredAt: firedAt.UTC(),
	}
}

// NewAlertID generates a lexicographically sortable alert identifier.
func NewAlertID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Deliver moves a pending alert into the active set.
func (a *Alert) Deliver() {
	if a.State == AlertStatePending {
		a.State = AlertStateActive
	}
}

// Acknowledge records the acknowledging actor. Resolved alerts cannot be
// acknowledged.
func (a *Alert) Acknowledge(actor string, at time.Time) error {
	if a.State == AlertStateResolved {
		return ErrAlertResolved
	}

	at = at.UTC()
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = actor
	return nil
}

// Resolve moves the alert into its terminal state.
func (a *Alert) Resolve(actor string, at time.Time) error {
	if a.State == AlertStateResolved {
		return ErrAlertResolved
	}

	at = at.UTC()
	a.State = AlertStateResolved
	a.ResolvedAt = &at
	a.ResolvedBy = actor
	return nil
}

// MarkEscalated flags the alert as escalated. At most one escalation is
// produced per alert; callers must check EscalatedAt before cloning.
func (a *Alert) MarkEscalated(at time.Time) error {
	if a.State == AlertStateResolved {
		return ErrAlertResolved
	}

	at = at.UTC()
	a.State = AlertStateEscalated
	a.EscalatedAt = &at
	return nil
}

// Acknowledged reports whether an actor has acknowledged the alert.
func (a *Alert) Acknowledged() bool {
	return a.AcknowledgedAt != nil
}

// Resolved reports whether the alert is terminal.
func (a *Alert) Resolved() bool {
	return a.State == AlertStateResolved
}

// EscalationTitle is the title prefix applied to escalation clones.
const EscalationTitle = "ESCALATED: "

// Escalate produces the one-shot escalation clone: a fresh alert at critical
// level whose title is prefixed and whose data records the origin.
func (a *Alert) Escalate(at time.Time) *Alert {
	data := make(map[string]any, len(a.Data)+1)
	for k, v := range a.Data {
		data[k] = v
	}
	data["escalated_from"] = a.ID

	clone := NewAlert(a.RuleID, AlertLevelCritical, EscalationTitle+a.Title, a.Message, data, at)
	clone.State = AlertStateActive
	return clone
}

// AlertMessage is the direct alert schema accepted on the alerts exchange.
type AlertMessage struct {
	RuleID  string         `json:"rule_id"`
	Level   AlertLevel     `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Value   *float64       `json:"value,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Validate checks the direct alert schema.
func (m *AlertMessage) Validate() error {
	if m.RuleID == "" {
		return newValidationError("rule_id", "rule_id is required")
	}
	if m.Title == "" {
		return newValidationError("title", "title is required")
	}
	if m.Level != "" && !m.Level.IsValid() {
		return newValidationError("level", "unknown alert level")
	}
	return nil
}
