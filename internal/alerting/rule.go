package alerting

import (
	"errors"
	"fmt"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/stream/condition"
)

var (
	// ErrRuleExists is returned when registering a duplicate rule id.
	ErrRuleExists = errors.New("alerting: rule already registered")

	// ErrRuleNotFound is returned for operations on unknown rules.
	ErrRuleNotFound = errors.New("alerting: rule not found")
)

// Default life-cycle settings applied to alerts whose rule carries none.
const (
	DefaultSuppressionMinutes = 5
	DefaultEscalationMinutes  = 15
)

// Rule is an alert rule evaluated against the analytics stream. Conditions
// use the same fixed grammar as stream rules, minus window references; the
// alert engine holds no windows of its own.
//
// A rule with no condition is direct-only: it is never evaluated against
// metrics and exists to carry suppression, escalation, and channel
// settings for direct alert messages bearing its id.
type Rule struct {
	ID        string
	Condition string
	Level     domain.AlertLevel
	Title     string
	Message   string

	// Channels restricts fan-out to the named channels; empty means all.
	Channels []string

	// SuppressionMinutes drops re-firings of this rule while an unresolved
	// alert from the same rule is younger than the window. Zero disables.
	SuppressionMinutes int

	// EscalationMinutes escalates an unacknowledged alert after the
	// interval. Zero disables.
	EscalationMinutes int

	Enabled bool

	expr condition.Expr
}

// compile parses the condition. Window references are rejected because the
// engine evaluates against metric payloads, not event windows.
func (r *Rule) compile() error {
	if r.ID == "" {
		return fmt.Errorf("alerting: rule id is required")
	}
	if r.Level != "" && !r.Level.IsValid() {
		return fmt.Errorf("alerting: rule %q: unknown level %q", r.ID, r.Level)
	}
	if r.Condition == "" {
		return nil
	}

	expr, err := condition.Parse(r.Condition)
	if err != nil {
		return fmt.Errorf("alerting: rule %q: %w", r.ID, err)
	}

	if windows := condition.Windows(expr); len(windows) > 0 {
		return fmt.Errorf("alerting: rule %q: window references are not available in alert conditions", r.ID)
	}

	r.expr = expr
	return nil
}

// usesChannel reports whether the rule fans out to the named channel.
func (r *Rule) usesChannel(name string) bool {
	if len(r.Channels) == 0 {
		return true
	}
	for _, c := range r.Channels {
		if c == name {
			return true
		}
	}
	return false
}
