package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/observability"
	"github.com/jailtonjunior94/streamflow/internal/stream/condition"
)

// alertStore is the persistence surface the engine needs; satisfied by
// storage.AlertsRepository.
type alertStore interface {
	Insert(ctx context.Context, alert *domain.Alert) error
	UpdateState(ctx context.Context, id string, state domain.AlertState) error
	Acknowledge(ctx context.Context, id, actor string, at time.Time) error
	Resolve(ctx context.Context, id, actor string, at time.Time) error
	MarkEscalated(ctx context.Context, id string, at time.Time) error
	ListUnresolved(ctx context.Context) ([]domain.Alert, error)
}

// Engine owns the alert life cycle: it evaluates alert rules against the
// analytics stream, accepts direct alert messages, applies suppression,
// persists every surviving alert, fans notifications out, and escalates
// unacknowledged alerts.
//
// All mutable state is guarded by one coarse mutex; mutations arrive only
// from the consume loops, the lifecycle scan, and the acknowledge/resolve
// admin paths.
type Engine struct {
	store         alertStore
	channels      []Channel
	o11y          observability.Observability
	notifyTimeout time.Duration
	now           func() time.Time

	mu           sync.Mutex
	rules        map[string]*Rule
	active       map[string]*domain.Alert
	lastFired    map[string]time.Time
	metricValues map[string]float64

	fired          observability.Counter
	suppressedCnt  observability.Counter
	notifyFailures observability.Counter
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithNotifyTimeout bounds each channel send.
func WithNotifyTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.notifyTimeout = d }
}

// WithEngineClock overrides the wall clock, for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates the engine with the built-in rules for the two stream
// detectors pre-registered.
func NewEngine(store alertStore, channels []Channel, o11y observability.Observability, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:         store,
		channels:      channels,
		o11y:          o11y,
		notifyTimeout: 10 * time.Second,
		now:           time.Now,
		rules:         make(map[string]*Rule),
		active:        make(map[string]*domain.Alert),
		lastFired:     make(map[string]time.Time),
		metricValues:  make(map[string]float64),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.fired = o11y.Metrics().Counter(
		"alerts_fired_total",
		"Alerts created, by rule.",
		"rule",
	)
	e.suppressedCnt = o11y.Metrics().Counter(
		"alerts_suppressed_total",
		"Alert firings dropped by the suppression window, by rule.",
		"rule",
	)
	e.notifyFailures = o11y.Metrics().Counter(
		"alert_notify_failures_total",
		"Notification sends that returned an error, by channel.",
		"channel",
	)

	for _, rule := range builtinRules() {
		if err := e.RegisterRule(rule); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// builtinRules carries the life-cycle settings for the two detectors wired
// into the stream processor. Their firing conditions live stream-side;
// these direct-only entries govern suppression, escalation, and fan-out.
func builtinRules() []Rule {
	return []Rule{
		{
			ID:                 "high_error_rate",
			Level:              domain.AlertLevelCritical,
			SuppressionMinutes: DefaultSuppressionMinutes,
			EscalationMinutes:  DefaultEscalationMinutes,
			Enabled:            true,
		},
		{
			ID:                 "activity_spike",
			Level:              domain.AlertLevelWarning,
			SuppressionMinutes: DefaultSuppressionMinutes,
			EscalationMinutes:  DefaultEscalationMinutes,
			Enabled:            true,
		},
	}
}

// Start rebuilds the active set from the store. Escalation eligibility is
// recomputed from persisted fire times, so timers survive a restart.
func (e *Engine) Start(ctx context.Context) error {
	alerts, err := e.store.ListUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("alerting: recover active set: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range alerts {
		alert := alerts[i]
		e.active[alert.ID] = &alert
		if alert.FiredAt.After(e.lastFired[alert.RuleID]) {
			e.lastFired[alert.RuleID] = alert.FiredAt
		}
	}

	e.o11y.Logger().Info(ctx, "alert engine recovered active set",
		observability.Int("alerts", len(alerts)),
	)
	return nil
}

// RegisterRule compiles and registers an alert rule.
func (e *Engine) RegisterRule(rule Rule) error {
	if err := rule.compile(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %q", ErrRuleExists, rule.ID)
	}
	e.rules[rule.ID] = &rule
	return nil
}

// SetRuleEnabled flips a rule's enabled flag.
func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRuleNotFound, id)
	}
	rule.Enabled = enabled
	return nil
}

// HandleMetric evaluates every enabled alert rule against an analytics
// payload. A matching rule fires a new alert through the normal life cycle.
func (e *Engine) HandleMetric(ctx context.Context, metric domain.Metric) error {
	e.mu.Lock()
	e.metricValues[metric.Name] = metric.Value

	rules := make([]*Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.Enabled && rule.expr != nil {
			rules = append(rules, rule)
		}
	}
	e.mu.Unlock()

	evalCtx := e.metricContext(metric)

	for _, rule := range rules {
		matched, err := condition.EvalBool(rule.expr, evalCtx)
		if err != nil {
			e.o11y.Logger().Error(ctx, "alert rule evaluation failed",
				observability.String("rule", rule.ID),
				observability.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}

		data := map[string]any{
			"metric": metric.Name,
			"value":  metric.Value,
		}
		for k, v := range metric.Tags {
			data[k] = v
		}

		e.fire(ctx, rule, rule.Level, rule.Title, rule.Message, data)
	}

	return nil
}

// metricContext exposes an analytics payload to the condition grammar: the
// metric's tags surface as event fields, its value and name under data,
// and metrics[<name>] reads the engine's last-observed table.
func (e *Engine) metricContext(metric domain.Metric) *condition.Context {
	data := map[string]any{
		"name":  metric.Name,
		"value": metric.Value,
	}
	for k, v := range metric.Tags {
		data[k] = v
	}

	return &condition.Context{
		EventType: metric.Tags["type"],
		Severity:  metric.Tags["severity"],
		Source:    metric.Tags["source"],
		Data:      data,
		Metric: func(name string) (float64, bool) {
			e.mu.Lock()
			defer e.mu.Unlock()
			v, ok := e.metricValues[name]
			return v, ok
		},
	}
}

// HandleDirect fires an alert from a direct alert message. Unknown rule
// ids get the default life-cycle settings.
func (e *Engine) HandleDirect(ctx context.Context, msg domain.AlertMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	level := msg.Level
	if level == "" {
		level = domain.AlertLevelWarning
	}

	data := msg.Data
	if msg.Value != nil {
		if data == nil {
			data = map[string]any{}
		}
		data["value"] = *msg.Value
	}

	e.mu.Lock()
	rule, ok := e.rules[msg.RuleID]
	e.mu.Unlock()

	if !ok {
		rule = &Rule{
			ID:                 msg.RuleID,
			SuppressionMinutes: DefaultSuppressionMinutes,
			EscalationMinutes:  DefaultEscalationMinutes,
		}
	}

	e.fire(ctx, rule, level, msg.Title, msg.Message, data)
	return nil
}

// fire runs one alert through suppression, persistence, activation, and
// fan-out. Suppressed alerts are dropped before they are persisted.
func (e *Engine) fire(ctx context.Context, rule *Rule, level domain.AlertLevel, title, message string, data map[string]any) {
	now := e.now()

	e.mu.Lock()
	if e.suppressedLocked(rule, now) {
		e.mu.Unlock()
		e.suppressedCnt.Increment(rule.ID)
		e.o11y.Logger().Info(ctx, "alert suppressed",
			observability.String("rule", rule.ID),
			observability.Int("suppression_minutes", rule.SuppressionMinutes),
		)
		return
	}
	e.lastFired[rule.ID] = now
	e.mu.Unlock()

	alert := domain.NewAlert(rule.ID, level, title, message, data, now)

	if err := e.store.Insert(ctx, alert); err != nil {
		e.o11y.Logger().Error(ctx, "alert persist failed",
			observability.String("rule", rule.ID),
			observability.Error(err),
		)
		return
	}

	alert.Deliver()
	if err := e.store.UpdateState(ctx, alert.ID, alert.State); err != nil {
		e.o11y.Logger().Error(ctx, "alert activation failed",
			observability.String("alert_id", alert.ID),
			observability.Error(err),
		)
	}

	e.mu.Lock()
	e.active[alert.ID] = alert
	e.mu.Unlock()

	e.fired.Increment(rule.ID)
	e.o11y.Logger().Info(ctx, "alert fired",
		observability.String("rule", rule.ID),
		observability.String("alert_id", alert.ID),
		observability.String("level", string(level)),
	)

	e.notify(ctx, rule, alert)
}

// suppressedLocked reports whether a firing falls inside the rule's
// suppression window while an unresolved alert from the same rule exists.
func (e *Engine) suppressedLocked(rule *Rule, now time.Time) bool {
	if rule.SuppressionMinutes <= 0 {
		return false
	}

	last, ok := e.lastFired[rule.ID]
	if !ok || now.Sub(last) >= time.Duration(rule.SuppressionMinutes)*time.Minute {
		return false
	}

	for _, alert := range e.active {
		if alert.RuleID == rule.ID && !alert.Resolved() {
			return true
		}
	}
	return false
}

// notify fans the alert out to every available channel the rule names.
func (e *Engine) notify(ctx context.Context, rule *Rule, alert *domain.Alert) {
	for _, channel := range e.channels {
		if !rule.usesChannel(channel.Name()) {
			continue
		}
		if !channel.Available() {
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
		err := channel.Send(sendCtx, alert)
		cancel()

		if err != nil {
			e.notifyFailures.Increment(channel.Name())
			e.o11y.Logger().Error(ctx, "alert notification failed",
				observability.String("channel", channel.Name()),
				observability.String("alert_id", alert.ID),
				observability.Error(err),
			)
		}
	}
}

// Acknowledge records the acknowledging actor on an active alert.
func (e *Engine) Acknowledge(ctx context.Context, id, actor string) error {
	now := e.now()

	if err := e.store.Acknowledge(ctx, id, actor, now); err != nil {
		return err
	}

	e.mu.Lock()
	if alert, ok := e.active[id]; ok {
		_ = alert.Acknowledge(actor, now)
	}
	e.mu.Unlock()

	e.o11y.Logger().Info(ctx, "alert acknowledged",
		observability.String("alert_id", id),
		observability.String("actor", actor),
	)
	return nil
}

// Resolve moves the alert to its terminal state and drops it from the
// active set; further delivery for it stops.
func (e *Engine) Resolve(ctx context.Context, id, actor string) error {
	now := e.now()

	if err := e.store.Resolve(ctx, id, actor, now); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()

	e.o11y.Logger().Info(ctx, "alert resolved",
		observability.String("alert_id", id),
		observability.String("actor", actor),
	)
	return nil
}

// ScanEscalations walks the active set and escalates every unacknowledged
// alert past its rule's escalation interval. At most one escalation clone
// is produced per alert; the clone is persisted, activated, and notified
// like any other firing.
func (e *Engine) ScanEscalations(ctx context.Context) {
	now := e.now()

	e.mu.Lock()
	var due []*domain.Alert
	for _, alert := range e.active {
		if alert.Acknowledged() || alert.EscalatedAt != nil {
			continue
		}

		minutes := DefaultEscalationMinutes
		if rule, ok := e.rules[alert.RuleID]; ok {
			minutes = rule.EscalationMinutes
		}
		if minutes <= 0 {
			continue
		}

		if now.Sub(alert.FiredAt) >= time.Duration(minutes)*time.Minute {
			due = append(due, alert)
		}
	}
	e.mu.Unlock()

	for _, alert := range due {
		e.escalate(ctx, alert, now)
	}
}

func (e *Engine) escalate(ctx context.Context, alert *domain.Alert, now time.Time) {
	if err := alert.MarkEscalated(now); err != nil {
		return
	}
	if err := e.store.MarkEscalated(ctx, alert.ID, now); err != nil {
		e.o11y.Logger().Error(ctx, "alert escalation persist failed",
			observability.String("alert_id", alert.ID),
			observability.Error(err),
		)
		return
	}

	// The clone is born active, so a single insert covers it.
	clone := alert.Escalate(now)
	if err := e.store.Insert(ctx, clone); err != nil {
		e.o11y.Logger().Error(ctx, "escalation clone persist failed",
			observability.String("alert_id", alert.ID),
			observability.Error(err),
		)
		return
	}

	e.mu.Lock()
	e.active[clone.ID] = clone
	rule, ok := e.rules[alert.RuleID]
	e.mu.Unlock()

	if !ok {
		rule = &Rule{ID: alert.RuleID}
	}

	e.fired.Increment(alert.RuleID)
	e.o11y.Logger().Info(ctx, "alert escalated",
		observability.String("alert_id", alert.ID),
		observability.String("escalation_id", clone.ID),
	)

	e.notify(ctx, rule, clone)
}

// ActiveCount reports the size of the active set, for readiness and tests.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
