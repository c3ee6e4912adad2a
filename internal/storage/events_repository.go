package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/domain"
)

const (
	// MaxQueryLimit caps result set sizes on the query surface.
	MaxQueryLimit = 10_000

	// DefaultQueryLimit applies when the caller names no limit.
	DefaultQueryLimit = 100
)

// EventFilter narrows an event query. All populated fields conjoin; tags
// match when the stored set overlaps the requested set.
type EventFilter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	EventTypes []string
	Sources    []string
	UserIDs    []string
	Tags       []string
	Limit      int
	Offset     int
}

func (f *EventFilter) normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// EventStats summarizes the events table.
type EventStats struct {
	Total    int64            `json:"total_events"`
	ByType   map[string]int64 `json:"events_by_type"`
	BySource map[string]int64 `json:"events_by_source"`
	Oldest   *time.Time       `json:"oldest_event,omitempty"`
	Newest   *time.Time       `json:"newest_event,omitempty"`
}

// EventsRepository persists events.
type EventsRepository struct {
	db *Database
}

// NewEventsRepository creates the repository over a managed pool.
func NewEventsRepository(db *Database) *EventsRepository {
	return &EventsRepository{db: db}
}

const insertEventQuery = `
	INSERT INTO events (id, type, source, timestamp, severity, data, correlation_id, session_id, user_id, tags)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO NOTHING`

// Insert writes an event. Replays of the same event id are silently
// absorbed so redelivered messages stay idempotent.
func (r *EventsRepository) Insert(ctx context.Context, event *domain.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("storage: marshal event data: %w", err)
	}

	tags, err := json.Marshal(event.Tags)
	if err != nil {
		return fmt.Errorf("storage: marshal event tags: %w", err)
	}

	_, err = r.db.DB().ExecContext(ctx, insertEventQuery,
		event.ID,
		event.Type,
		event.Source,
		event.Timestamp.UTC(),
		string(event.Severity),
		data,
		nullString(event.CorrelationID),
		nullString(event.SessionID),
		nullString(event.UserID),
		tags,
	)
	if err != nil {
		return fmt.Errorf("storage: insert event %s: %w", event.ID, err)
	}

	return nil
}

const selectEventColumns = `id, type, source, timestamp, severity, data, correlation_id, session_id, user_id, tags`

// GetByID fetches a single event.
func (r *EventsRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	row := r.db.DB().QueryRowContext(ctx,
		`SELECT `+selectEventColumns+` FROM events WHERE id = $1`, id)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get event %s: %w", id, err)
	}

	return event, nil
}

// Query returns events matching the filter, newest first.
func (r *EventsRepository) Query(ctx context.Context, filter EventFilter) ([]domain.Event, error) {
	filter.normalize()

	var (
		clauses []string
		args    []any
	)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		clauses = append(clauses, "timestamp >= "+arg(filter.StartTime.UTC()))
	}
	if filter.EndTime != nil {
		clauses = append(clauses, "timestamp <= "+arg(filter.EndTime.UTC()))
	}
	if len(filter.EventTypes) > 0 {
		clauses = append(clauses, "type = ANY("+arg(textArray(filter.EventTypes))+")")
	}
	if len(filter.Sources) > 0 {
		clauses = append(clauses, "source = ANY("+arg(textArray(filter.Sources))+")")
	}
	if len(filter.UserIDs) > 0 {
		clauses = append(clauses, "user_id = ANY("+arg(textArray(filter.UserIDs))+")")
	}
	if len(filter.Tags) > 0 {
		placeholders := make([]string, len(filter.Tags))
		for i, tag := range filter.Tags {
			placeholders[i] = arg(tag)
		}
		clauses = append(clauses, "tags ?| ARRAY["+strings.Join(placeholders, ", ")+"]")
	}

	query := `SELECT ` + selectEventColumns + ` FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset)

	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, filter.Limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate events: %w", err)
	}

	return events, nil
}

// Stats aggregates totals, per-type and per-source counts, and the
// timestamp range of the stored stream.
func (r *EventsRepository) Stats(ctx context.Context) (*EventStats, error) {
	stats := &EventStats{
		ByType:   make(map[string]int64),
		BySource: make(map[string]int64),
	}

	row := r.db.DB().QueryRowContext(ctx,
		`SELECT count(*), min(timestamp), max(timestamp) FROM events`)

	var oldest, newest sql.NullTime
	if err := row.Scan(&stats.Total, &oldest, &newest); err != nil {
		return nil, fmt.Errorf("storage: event totals: %w", err)
	}
	if oldest.Valid {
		t := oldest.Time.UTC()
		stats.Oldest = &t
	}
	if newest.Valid {
		t := newest.Time.UTC()
		stats.Newest = &t
	}

	if err := r.countsInto(ctx, `SELECT type, count(*) FROM events GROUP BY type`, stats.ByType); err != nil {
		return nil, err
	}
	if err := r.countsInto(ctx, `SELECT source, count(*) FROM events GROUP BY source`, stats.BySource); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *EventsRepository) countsInto(ctx context.Context, query string, dest map[string]int64) error {
	rows, err := r.db.DB().QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("storage: event counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			count int64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("storage: scan counts: %w", err)
		}
		dest[key] = count
	}
	return rows.Err()
}

// DeleteOlderThan removes events of one type older than the cutoff, in
// batches so long sweeps never hold a long transaction. An empty eventType
// sweeps every type. Returns the number of rows deleted.
func (r *EventsRepository) DeleteOlderThan(ctx context.Context, eventType string, cutoff time.Time, batchSize int) (int64, error) {
	where := `timestamp < $1`
	args := []any{cutoff.UTC()}
	if eventType != "" {
		where += ` AND type = $2`
		args = append(args, eventType)
	}
	return r.deleteBatches(ctx, where, args, batchSize)
}

// DeleteOlderThanExcept removes events older than the cutoff whose type is
// not in the excluded set. The retention default sweep excludes the types
// that carry their own policy, so a per-type policy longer than the default
// keeps its rows.
func (r *EventsRepository) DeleteOlderThanExcept(ctx context.Context, excludeTypes []string, cutoff time.Time, batchSize int) (int64, error) {
	where := `timestamp < $1`
	args := []any{cutoff.UTC()}
	if len(excludeTypes) > 0 {
		where += ` AND type <> ALL($2)`
		args = append(args, textArray(excludeTypes))
	}
	return r.deleteBatches(ctx, where, args, batchSize)
}

func (r *EventsRepository) deleteBatches(ctx context.Context, where string, args []any, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	query := fmt.Sprintf(`
		DELETE FROM events WHERE ctid IN (
			SELECT ctid FROM events WHERE %s LIMIT %d)`, where, batchSize)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		result, err := r.db.DB().ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("storage: delete batch: %w", err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("storage: rows affected: %w", err)
		}

		total += deleted
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		event         domain.Event
		severity      string
		data, tags    []byte
		correlationID sql.NullString
		sessionID     sql.NullString
		userID        sql.NullString
	)

	err := row.Scan(
		&event.ID,
		&event.Type,
		&event.Source,
		&event.Timestamp,
		&severity,
		&data,
		&correlationID,
		&sessionID,
		&userID,
		&tags,
	)
	if err != nil {
		return nil, err
	}

	event.Severity = domain.Severity(severity)
	event.CorrelationID = correlationID.String
	event.SessionID = sessionID.String
	event.UserID = userID.String
	event.Timestamp = event.Timestamp.UTC()

	if len(data) > 0 {
		if err := json.Unmarshal(data, &event.Data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &event.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}

	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// textArray renders a postgres text[] literal for ANY() comparisons, which
// keeps the statement free of driver-specific array bindings.
func textArray(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
