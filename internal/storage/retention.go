package storage

import (
	"context"
	"sort"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/observability"
)

// DefaultRetentionBatch is the delete batch size for retention sweeps.
const DefaultRetentionBatch = 1000

// RetentionPolicy maps event types to their retention in days. Types
// without an entry fall back to the default.
type RetentionPolicy struct {
	DefaultDays int
	PerType     map[string]int
}

// Retention runs the periodic storage sweep. One sweep deletes, per
// configured type, every event older than that type's policy, then sweeps
// the remaining types against the default policy.
type Retention struct {
	events    *EventsRepository
	policy    RetentionPolicy
	batchSize int
	o11y      observability.Observability
	now       func() time.Time

	deleted observability.Counter
}

// RetentionOption configures the sweep.
type RetentionOption func(*Retention)

// WithRetentionBatchSize overrides the delete batch size.
func WithRetentionBatchSize(n int) RetentionOption {
	return func(r *Retention) { r.batchSize = n }
}

// WithRetentionClock overrides the wall clock, for tests.
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(r *Retention) { r.now = now }
}

// NewRetention creates the sweep over the events repository.
func NewRetention(events *EventsRepository, policy RetentionPolicy, o11y observability.Observability, opts ...RetentionOption) *Retention {
	if policy.DefaultDays <= 0 {
		policy.DefaultDays = 30
	}

	r := &Retention{
		events:    events,
		policy:    policy,
		batchSize: DefaultRetentionBatch,
		o11y:      o11y,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.deleted = o11y.Metrics().Counter(
		"retention_deleted_total",
		"Events removed by the retention sweep.",
		"event_type",
	)

	return r
}

// Sweep applies every policy once and returns per-type deletion counts.
// The per-type sweeps run first; the default sweep then deletes events of
// the remaining types older than the default policy. Types with their own
// policy are excluded from the default sweep, so a per-type policy longer
// than the default still holds.
func (r *Retention) Sweep(ctx context.Context) (map[string]int64, error) {
	now := r.now()
	counts := make(map[string]int64)

	types := make([]string, 0, len(r.policy.PerType))
	for eventType := range r.policy.PerType {
		types = append(types, eventType)
	}
	sort.Strings(types)

	swept := make([]string, 0, len(types))
	for _, eventType := range types {
		days := r.policy.PerType[eventType]
		if days <= 0 {
			continue
		}
		swept = append(swept, eventType)

		cutoff := now.AddDate(0, 0, -days)
		deleted, err := r.events.DeleteOlderThan(ctx, eventType, cutoff, r.batchSize)
		counts[eventType] += deleted
		if deleted > 0 {
			r.deleted.Add(float64(deleted), eventType)
		}
		if err != nil {
			return counts, err
		}
	}

	cutoff := now.AddDate(0, 0, -r.policy.DefaultDays)
	deleted, err := r.events.DeleteOlderThanExcept(ctx, swept, cutoff, r.batchSize)
	counts["*"] += deleted
	if deleted > 0 {
		r.deleted.Add(float64(deleted), "*")
	}
	if err != nil {
		return counts, err
	}

	r.o11y.Logger().Info(ctx, "retention sweep completed",
		observability.Int("policies", len(types)),
		observability.Int64("deleted", totalDeleted(counts)),
	)

	return counts, nil
}

func totalDeleted(counts map[string]int64) int64 {
	var total int64
	for _, c := range counts {
		total += c
	}
	return total
}
