package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/fabric"
	"github.com/jailtonjunior94/streamflow/internal/observability"
	"github.com/jailtonjunior94/streamflow/internal/stream/condition"
)

// Default sliding windows maintained for every event stream.
var defaultWindows = []struct {
	name string
	size time.Duration
}{
	{"1min", time.Minute},
	{"5min", 5 * time.Minute},
	{"1hour", time.Hour},
}

// Processor maintains the window registry, evaluates rules over each
// arriving event, and emits derived metrics onto the analytics exchange.
//
// For each event the order is fixed: window updates, then rule evaluation,
// then metric emission. A failing rule action is logged and counted but
// never halts the remaining rules or subsequent events.
type Processor struct {
	o11y      observability.Observability
	publisher fabric.Publisher
	now       func() time.Time

	mu          sync.RWMutex
	windows     map[string]*Window
	aggregators map[string]Aggregator
	rules       map[string]*Rule
	actions     map[string]Action

	// Running totals backing the metrics[<name>] condition lookups.
	valuesMu   sync.RWMutex
	totals     map[string]float64
	lastValues map[string]float64

	processed    observability.Counter
	ruleFailures observability.Counter
}

// ProcessorOption configures the Processor.
type ProcessorOption func(*Processor)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor with the default windows, the built-in
// aggregators, and the built-in rules registered.
func NewProcessor(o11y observability.Observability, publisher fabric.Publisher, opts ...ProcessorOption) (*Processor, error) {
	p := &Processor{
		o11y:        o11y,
		publisher:   publisher,
		now:         time.Now,
		windows:     make(map[string]*Window),
		aggregators: make(map[string]Aggregator),
		rules:       make(map[string]*Rule),
		actions:     make(map[string]Action),
		totals:      make(map[string]float64),
		lastValues:  make(map[string]float64),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.processed = o11y.Metrics().Counter(
		"events_processed_total",
		"Stream processor outcomes per event.",
		"outcome",
	)
	p.ruleFailures = o11y.Metrics().Counter(
		"rule_action_failures_total",
		"Rule actions that returned an error or panicked.",
		"rule",
	)

	for _, w := range defaultWindows {
		if err := p.RegisterWindow(w.name, w.size, 0); err != nil {
			return nil, err
		}
	}

	p.RegisterAggregator("count", Count())

	if err := p.registerBuiltinRules(); err != nil {
		return nil, err
	}

	return p, nil
}

// RegisterWindow adds a named sliding window.
func (p *Processor) RegisterWindow(name string, size, slide time.Duration) error {
	window, err := NewWindow(name, size, slide)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.windows[name]; exists {
		return fmt.Errorf("%w: %q", ErrWindowExists, name)
	}

	p.windows[name] = window
	return nil
}

// RegisterAggregator adds a named aggregator.
func (p *Processor) RegisterAggregator(name string, agg Aggregator) {
	p.mu.Lock()
	p.aggregators[name] = agg
	p.mu.Unlock()
}

// WindowAggregate applies a registered aggregator to a window snapshot.
func (p *Processor) WindowAggregate(windowName, aggregatorName string) (float64, error) {
	p.mu.RLock()
	window, wok := p.windows[windowName]
	agg, aok := p.aggregators[aggregatorName]
	p.mu.RUnlock()

	if !wok {
		return 0, fmt.Errorf("stream: unknown window %q", windowName)
	}
	if !aok {
		return 0, fmt.Errorf("stream: unknown aggregator %q", aggregatorName)
	}

	return agg(window.Snapshot(p.now())), nil
}

// RegisterRule compiles and registers a rule with its action. Conditions
// referencing unknown identifiers or windows are rejected here.
func (p *Processor) RegisterRule(rule Rule, action Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.rules[rule.Name]; exists {
		return fmt.Errorf("%w: %q", ErrRuleExists, rule.Name)
	}

	if err := rule.compile(func(name string) bool {
		_, ok := p.windows[name]
		return ok
	}); err != nil {
		return err
	}

	p.rules[rule.Name] = &rule
	p.actions[rule.Name] = action
	return nil
}

// SetRuleEnabled flips a rule's enabled flag.
func (p *Processor) SetRuleEnabled(name string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rule, ok := p.rules[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRuleNotFound, name)
	}

	rule.Enabled = enabled
	return nil
}

// Process runs the full per-event protocol.
func (p *Processor) Process(ctx context.Context, event domain.Event) error {
	now := p.now()

	// 1. Window updates strictly precede rule evaluation.
	p.mu.RLock()
	for _, window := range p.windows {
		window.Append(event)
	}
	p.mu.RUnlock()

	// 2. Rule evaluation strictly precedes metric emission.
	p.evaluateRules(ctx, event, now)

	// 3. Derived metrics.
	if err := p.emitMetrics(ctx, event, now); err != nil {
		p.processed.Increment("failed")
		return err
	}

	p.processed.Increment("completed")
	return nil
}

func (p *Processor) evaluateRules(ctx context.Context, event domain.Event, now time.Time) {
	p.mu.RLock()
	rules := make([]*Rule, 0, len(p.rules))
	for _, rule := range p.rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	p.mu.RUnlock()

	evalCtx := p.conditionContext(event, now)

	for _, rule := range rules {
		matched, err := condition.EvalBool(rule.expr, evalCtx)
		if err != nil {
			p.ruleFailures.Increment(rule.Name)
			p.o11y.Logger().Error(ctx, "rule condition evaluation failed",
				observability.String("rule", rule.Name),
				observability.Error(err),
			)
			continue
		}

		if !matched {
			continue
		}

		p.fireRule(ctx, rule, event)
	}
}

func (p *Processor) conditionContext(event domain.Event, now time.Time) *condition.Context {
	return &condition.Context{
		EventType: event.Type,
		Severity:  string(event.Severity),
		Source:    event.Source,
		Tags:      event.Tags,
		Data:      event.Data,
		WindowCount: func(name string) (float64, bool) {
			p.mu.RLock()
			window, ok := p.windows[name]
			p.mu.RUnlock()
			if !ok {
				return 0, false
			}
			return float64(window.Count(now)), true
		},
		Metric: func(name string) (float64, bool) {
			p.valuesMu.RLock()
			defer p.valuesMu.RUnlock()
			v, ok := p.lastValues[name]
			return v, ok
		},
	}
}

// fireRule invokes the rule's action; errors and panics are contained.
func (p *Processor) fireRule(ctx context.Context, rule *Rule, event domain.Event) {
	p.mu.RLock()
	action := p.actions[rule.Name]
	p.mu.RUnlock()

	if action == nil {
		return
	}

	record, err := p.invokeAction(ctx, action, event)
	if err != nil {
		p.ruleFailures.Increment(rule.Name)
		p.o11y.Logger().Error(ctx, "rule action failed",
			observability.String("rule", rule.Name),
			observability.String("event_id", event.ID),
			observability.Error(err),
		)
		return
	}

	if record == nil {
		return
	}

	envelope, err := domain.NewEnvelope("analytics."+rule.Action, record)
	if err != nil {
		p.ruleFailures.Increment(rule.Name)
		p.o11y.Logger().Error(ctx, "rule record marshal failed",
			observability.String("rule", rule.Name),
			observability.Error(err),
		)
		return
	}
	envelope.CorrelationID = event.CorrelationID

	if err := p.publisher.Publish(ctx, fabric.ExchangeAnalytics, envelope); err != nil {
		p.ruleFailures.Increment(rule.Name)
		p.o11y.Logger().Error(ctx, "rule record publish failed",
			observability.String("rule", rule.Name),
			observability.Error(err),
		)
	}
}

func (p *Processor) invokeAction(ctx context.Context, action Action, event domain.Event) (record any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream: action panic: %v", r)
		}
	}()

	return action(ctx, event)
}

// emitMetrics publishes the per-event derived metrics onto
// analytics.metrics and refreshes the metrics[<name>] lookup table.
func (p *Processor) emitMetrics(ctx context.Context, event domain.Event, now time.Time) error {
	category := event.Category()

	metrics := []domain.Metric{
		domain.NewCounter("events_total",
			p.bump("events_total", "source="+event.Source+",type="+category),
			map[string]string{"source": event.Source, "type": category}, now),
		domain.NewCounter("events_by_severity",
			p.bump("events_by_severity", "severity="+string(event.Severity)),
			map[string]string{"severity": string(event.Severity)}, now),
		domain.NewTimer("event_processing_time",
			now.Sub(event.Timestamp).Seconds(),
			map[string]string{"source": event.Source}, now),
	}

	p.mu.RLock()
	windows := make([]*Window, 0, len(p.windows))
	for _, w := range p.windows {
		windows = append(windows, w)
	}
	p.mu.RUnlock()

	for _, window := range windows {
		name := "window_" + window.Name() + "_count"
		value := float64(window.Count(now))
		p.record(name, value)
		metrics = append(metrics, domain.NewGauge(name, value, nil, now))
	}

	p.record("event_processing_time", now.Sub(event.Timestamp).Seconds())

	for i := range metrics {
		envelope, err := domain.NewEnvelope(fabric.RoutingKeyMetrics, metrics[i])
		if err != nil {
			return fmt.Errorf("stream: marshal metric %q: %w", metrics[i].Name, err)
		}
		envelope.CorrelationID = event.CorrelationID

		if err := p.publisher.Publish(ctx, fabric.ExchangeAnalytics, envelope); err != nil {
			return fmt.Errorf("stream: publish metric %q: %w", metrics[i].Name, err)
		}
	}

	return nil
}

// bump increments a running total for a tagged counter and mirrors the
// untagged total into the metrics[<name>] table.
func (p *Processor) bump(name, tagKey string) float64 {
	p.valuesMu.Lock()
	defer p.valuesMu.Unlock()

	p.totals[name+"|"+tagKey]++
	p.lastValues[name]++
	return p.totals[name+"|"+tagKey]
}

func (p *Processor) record(name string, value float64) {
	p.valuesMu.Lock()
	p.lastValues[name] = value
	p.valuesMu.Unlock()
}

// registerBuiltinRules installs the two detectors every deployment carries.
func (p *Processor) registerBuiltinRules() error {
	highErrorRate := Rule{
		Name:      "high_error_rate",
		Condition: `event_type == "error" and windows["1min"].count() > 10`,
		Action:    "high_error_rate",
		Window:    "1min",
		Enabled:   true,
	}
	if err := p.RegisterRule(highErrorRate, p.directAlertAction(
		"high_error_rate",
		domain.AlertLevelCritical,
		"high_error_rate: error volume exceeded threshold",
		"more than 10 error events observed in the 1min window",
	)); err != nil {
		return err
	}

	activitySpike := Rule{
		Name:      "activity_spike",
		Condition: `event_type in ("user.login", "user.logout") and windows["5min"].count() > 100`,
		Action:    "activity_spike",
		Window:    "5min",
		Enabled:   true,
	}
	return p.RegisterRule(activitySpike, p.directAlertAction(
		"activity_spike",
		domain.AlertLevelWarning,
		"activity_spike: unusual login/logout volume",
		"more than 100 events observed in the 5min window",
	))
}

// directAlertAction publishes a direct alert message onto the alerts
// exchange under "alerts.<rule_name>".
func (p *Processor) directAlertAction(ruleID string, level domain.AlertLevel, title, message string) Action {
	return func(ctx context.Context, event domain.Event) (any, error) {
		alert := domain.AlertMessage{
			RuleID:  ruleID,
			Level:   level,
			Title:   title,
			Message: message,
			Data: map[string]any{
				"event_id": event.ID,
				"source":   event.Source,
				"type":     event.Type,
			},
		}

		envelope, err := domain.NewEnvelope("alerts."+ruleID, alert)
		if err != nil {
			return nil, err
		}
		envelope.CorrelationID = event.CorrelationID

		if err := p.publisher.Publish(ctx, fabric.ExchangeAlerts, envelope); err != nil {
			return nil, err
		}

		return nil, nil
	}
}
