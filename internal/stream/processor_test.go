package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/fabric"
	"github.com/jailtonjunior94/streamflow/internal/observability/noop"
)

type published struct {
	exchange string
	envelope *domain.Envelope
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, exchange string, envelope *domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, envelope: envelope})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) byExchange(exchange string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.sent {
		if p.exchange == exchange {
			out = append(out, p)
		}
	}
	return out
}

func newTestProcessor(t *testing.T, now time.Time) (*Processor, *fakePublisher) {
	t.Helper()

	pub := &fakePublisher{}
	processor, err := NewProcessor(noop.New(), pub, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return processor, pub
}

func testEvent(eventType string, ts time.Time) domain.Event {
	return domain.Event{
		ID:        domain.NewEventID(),
		Type:      eventType,
		Source:    "checkout",
		Severity:  domain.SeverityLow,
		Timestamp: ts,
		Data:      map[string]any{},
	}
}

func TestProcessEmitsMetrics(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, pub := newTestProcessor(t, now)

	event := testEvent("web.click", now)
	event.CorrelationID = "corr-1"
	require.NoError(t, processor.Process(context.Background(), event))

	sent := pub.byExchange(fabric.ExchangeAnalytics)
	// Three per-event metrics plus one gauge per default window.
	require.Len(t, sent, 3+len(defaultWindows))

	names := map[string]bool{}
	for _, p := range sent {
		assert.Equal(t, fabric.RoutingKeyMetrics, p.envelope.RoutingKey)
		assert.Equal(t, "corr-1", p.envelope.CorrelationID)

		var metric domain.Metric
		require.NoError(t, p.envelope.Decode(&metric))
		names[metric.Name] = true
	}

	assert.True(t, names["events_total"])
	assert.True(t, names["events_by_severity"])
	assert.True(t, names["event_processing_time"])
	assert.True(t, names["window_1min_count"])
	assert.True(t, names["window_5min_count"])
	assert.True(t, names["window_1hour_count"])
}

func TestProcessHighErrorRateFires(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, pub := newTestProcessor(t, now)

	for i := 0; i < 10; i++ {
		event := testEvent("error", now)
		event.Severity = domain.SeverityHigh
		require.NoError(t, processor.Process(context.Background(), event))
	}
	assert.Empty(t, pub.byExchange(fabric.ExchangeAlerts))

	// The eleventh error pushes the 1min window count past the threshold.
	event := testEvent("error", now)
	event.Severity = domain.SeverityHigh
	require.NoError(t, processor.Process(context.Background(), event))

	alerts := pub.byExchange(fabric.ExchangeAlerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, "alerts.high_error_rate", alerts[0].envelope.RoutingKey)

	var msg domain.AlertMessage
	require.NoError(t, alerts[0].envelope.Decode(&msg))
	assert.Equal(t, "high_error_rate", msg.RuleID)
	assert.Equal(t, domain.AlertLevelCritical, msg.Level)
	assert.Equal(t, event.ID, msg.Data["event_id"])
}

func TestProcessHighErrorRateIgnoresOtherTypes(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, pub := newTestProcessor(t, now)

	for i := 0; i < 20; i++ {
		require.NoError(t, processor.Process(context.Background(), testEvent("web.click", now)))
	}

	assert.Empty(t, pub.byExchange(fabric.ExchangeAlerts))
}

func TestProcessActivitySpikeFires(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, pub := newTestProcessor(t, now)

	for i := 0; i < 101; i++ {
		event := testEvent("user.login", now)
		event.UserID = "u-1"
		require.NoError(t, processor.Process(context.Background(), event))
	}

	alerts := pub.byExchange(fabric.ExchangeAlerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, "alerts.activity_spike", alerts[0].envelope.RoutingKey)

	var msg domain.AlertMessage
	require.NoError(t, alerts[0].envelope.Decode(&msg))
	assert.Equal(t, domain.AlertLevelWarning, msg.Level)
}

func TestRegisterRuleRejectsBadConditions(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, _ := newTestProcessor(t, now)

	err := processor.RegisterRule(Rule{
		Name:      "bad_window",
		Condition: `windows["never_registered"].count() > 1`,
		Action:    "noop",
		Enabled:   true,
	}, nil)
	assert.ErrorContains(t, err, "never_registered")

	err = processor.RegisterRule(Rule{
		Name:      "bad_ident",
		Condition: `response_time > 500`,
		Action:    "noop",
		Enabled:   true,
	}, nil)
	assert.Error(t, err)

	err = processor.RegisterRule(Rule{
		Name:      "high_error_rate",
		Condition: `true`,
		Action:    "noop",
		Enabled:   true,
	}, nil)
	assert.ErrorIs(t, err, ErrRuleExists)
}

func TestRuleActionRecordPublished(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, pub := newTestProcessor(t, now)

	err := processor.RegisterRule(Rule{
		Name:      "slow_request",
		Condition: `data.response_time > 500`,
		Action:    "slow_requests",
		Enabled:   true,
	}, func(_ context.Context, event domain.Event) (any, error) {
		return map[string]any{"event_id": event.ID}, nil
	})
	require.NoError(t, err)

	event := testEvent("api.request", now)
	event.Data = map[string]any{"response_time": float64(900)}
	require.NoError(t, processor.Process(context.Background(), event))

	var records []published
	for _, p := range pub.byExchange(fabric.ExchangeAnalytics) {
		if p.envelope.RoutingKey == "analytics.slow_requests" {
			records = append(records, p)
		}
	}
	require.Len(t, records, 1)

	var record map[string]any
	require.NoError(t, records[0].envelope.Decode(&record))
	assert.Equal(t, event.ID, record["event_id"])
}

func TestRuleFailuresDoNotHaltProcessing(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, pub := newTestProcessor(t, now)

	require.NoError(t, processor.RegisterRule(Rule{
		Name:      "failing",
		Condition: `true`,
		Action:    "failing",
		Enabled:   true,
	}, func(context.Context, domain.Event) (any, error) {
		return nil, errors.New("action broke")
	}))

	require.NoError(t, processor.RegisterRule(Rule{
		Name:      "panicking",
		Condition: `true`,
		Action:    "panicking",
		Enabled:   true,
	}, func(context.Context, domain.Event) (any, error) {
		panic("action panicked")
	}))

	// Process still succeeds and metrics still flow.
	require.NoError(t, processor.Process(context.Background(), testEvent("web.click", now)))
	assert.NotEmpty(t, pub.byExchange(fabric.ExchangeAnalytics))
}

func TestSetRuleEnabled(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, pub := newTestProcessor(t, now)

	require.NoError(t, processor.SetRuleEnabled("high_error_rate", false))
	assert.ErrorIs(t, processor.SetRuleEnabled("no_such_rule", true), ErrRuleNotFound)

	for i := 0; i < 20; i++ {
		event := testEvent("error", now)
		event.Severity = domain.SeverityHigh
		require.NoError(t, processor.Process(context.Background(), event))
	}
	assert.Empty(t, pub.byExchange(fabric.ExchangeAlerts))
}

func TestWindowAggregate(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, _ := newTestProcessor(t, now)

	processor.RegisterAggregator("avg_response_time", Avg("response_time"))

	for _, rt := range []float64{100, 300} {
		event := testEvent("api.request", now)
		event.Data = map[string]any{"response_time": rt}
		require.NoError(t, processor.Process(context.Background(), event))
	}

	avg, err := processor.WindowAggregate("1min", "avg_response_time")
	require.NoError(t, err)
	assert.Equal(t, float64(200), avg)

	count, err := processor.WindowAggregate("5min", "count")
	require.NoError(t, err)
	assert.Equal(t, float64(2), count)

	_, err = processor.WindowAggregate("no_window", "count")
	assert.Error(t, err)

	_, err = processor.WindowAggregate("1min", "no_aggregator")
	assert.Error(t, err)
}

func TestMetricConditionSeesRunningTotals(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	processor, pub := newTestProcessor(t, now)

	require.NoError(t, processor.RegisterRule(Rule{
		Name:      "volume_watch",
		Condition: `metrics["events_total"] >= 3`,
		Action:    "volume_watch",
		Enabled:   true,
	}, func(context.Context, domain.Event) (any, error) {
		return map[string]any{"fired": true}, nil
	}))

	for i := 0; i < 4; i++ {
		require.NoError(t, processor.Process(context.Background(), testEvent("web.click", now)))
	}

	var fired int
	for _, p := range pub.byExchange(fabric.ExchangeAnalytics) {
		if p.envelope.RoutingKey == "analytics.volume_watch" {
			fired++
		}
	}
	// Rules run before metric emission, so the total reaches 3 only after
	// the third event has been processed; the rule fires on events 4 onward.
	assert.Equal(t, 1, fired)
}
