package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/stream/condition"
)

var (
	// ErrRuleExists is returned when registering a duplicate rule name.
	ErrRuleExists = errors.New("stream: rule already registered")

	// ErrRuleNotFound is returned for operations on unknown rules.
	ErrRuleNotFound = errors.New("stream: rule not found")
)

// Action handles a rule firing. A non-nil record is published onto
// "analytics.<action_name>".
type Action func(ctx context.Context, event domain.Event) (any, error)

// Rule is a declarative detector evaluated against every incoming event.
// Rules are hot-loadable; disabling is a flag rather than removal.
type Rule struct {
	Name      string
	Condition string
	Action    string
	Threshold *float64
	Window    string
	Channels  []string
	Enabled   bool

	expr condition.Expr
}

// compile parses the condition and verifies that every referenced window is
// registered. Bad rules are rejected here, at registration.
func (r *Rule) compile(windowExists func(string) bool) error {
	if r.Name == "" {
		return fmt.Errorf("stream: rule name is required")
	}
	if r.Action == "" {
		return fmt.Errorf("stream: rule %q: action is required", r.Name)
	}

	expr, err := condition.Parse(r.Condition)
	if err != nil {
		return fmt.Errorf("stream: rule %q: %w", r.Name, err)
	}

	for _, window := range condition.Windows(expr) {
		if !windowExists(window) {
			return fmt.Errorf("stream: rule %q references unknown window %q", r.Name, window)
		}
	}

	r.expr = expr
	return nil
}
