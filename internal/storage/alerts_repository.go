package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/domain"
)

// AlertStats summarizes the alerts table for the dashboard.
type AlertStats struct {
	Total    int64            `json:"total_alerts"`
	ByStatus map[string]int64 `json:"alerts_by_status"`
	ByLevel  map[string]int64 `json:"alerts_by_level"`
	Trend    []AlertBucket    `json:"hourly_trend"`
}

// AlertBucket is one hour of alert volume.
type AlertBucket struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}

// AlertsRepository persists alert life cycles.
type AlertsRepository struct {
	db *Database
}

// NewAlertsRepository creates the repository over a managed pool.
func NewAlertsRepository(db *Database) *AlertsRepository {
	return &AlertsRepository{db: db}
}

const insertAlertQuery = `
	INSERT INTO alerts (id, rule_id, level, title, message, timestamp, status,
		resolved, resolved_at, resolved_by,
		acknowledged, acknowledged_at, acknowledged_by,
		escalated_at, data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// Insert persists a new alert row.
func (r *AlertsRepository) Insert(ctx context.Context, alert *domain.Alert) error {
	data, err := json.Marshal(alert.Data)
	if err != nil {
		return fmt.Errorf("storage: marshal alert data: %w", err)
	}

	_, err = r.db.DB().ExecContext(ctx, insertAlertQuery,
		alert.ID,
		alert.RuleID,
		string(alert.Level),
		alert.Title,
		alert.Message,
		alert.FiredAt.UTC(),
		string(alert.State),
		alert.Resolved(),
		nullTime(alert.ResolvedAt),
		nullString(alert.ResolvedBy),
		alert.Acknowledged(),
		nullTime(alert.AcknowledgedAt),
		nullString(alert.AcknowledgedBy),
		nullTime(alert.EscalatedAt),
		data,
	)
	if err != nil {
		return fmt.Errorf("storage: insert alert %s: %w", alert.ID, err)
	}

	return nil
}

const selectAlertColumns = `id, rule_id, level, title, message, timestamp, status,
	resolved_at, resolved_by, acknowledged_at, acknowledged_by, escalated_at, data`

// GetByID fetches one alert.
func (r *AlertsRepository) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	row := r.db.DB().QueryRowContext(ctx,
		`SELECT `+selectAlertColumns+` FROM alerts WHERE id = $1`, id)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get alert %s: %w", id, err)
	}

	return alert, nil
}

// List returns recent alerts, newest first. An empty status matches every
// state; hours bounds the lookback window and limit caps the page.
func (r *AlertsRepository) List(ctx context.Context, status string, hours, limit int) ([]domain.Alert, error) {
	if hours <= 0 {
		hours = 24
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	query := `SELECT ` + selectAlertColumns + ` FROM alerts
		WHERE timestamp >= now() - ($1 * interval '1 hour')`
	args := []any{hours}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT %d`, limit)

	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// ListUnresolved returns every non-terminal alert, oldest first. The alert
// engine replays these at startup to rebuild its active set.
func (r *AlertsRepository) ListUnresolved(ctx context.Context) ([]domain.Alert, error) {
	rows, err := r.db.DB().QueryContext(ctx,
		`SELECT `+selectAlertColumns+` FROM alerts WHERE status <> $1 ORDER BY timestamp ASC`,
		string(domain.AlertStateResolved))
	if err != nil {
		return nil, fmt.Errorf("storage: list unresolved alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// Stats aggregates counts by status and level plus a 24h hourly trend.
func (r *AlertsRepository) Stats(ctx context.Context) (*AlertStats, error) {
	stats := &AlertStats{
		ByStatus: make(map[string]int64),
		ByLevel:  make(map[string]int64),
	}

	if err := r.db.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM alerts`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("storage: alert totals: %w", err)
	}

	if err := r.groupCounts(ctx, `SELECT status, count(*) FROM alerts GROUP BY status`, stats.ByStatus); err != nil {
		return nil, err
	}
	if err := r.groupCounts(ctx, `SELECT level, count(*) FROM alerts GROUP BY level`, stats.ByLevel); err != nil {
		return nil, err
	}

	rows, err := r.db.DB().QueryContext(ctx, `
		SELECT date_trunc('hour', timestamp) AS hour, count(*)
		FROM alerts
		WHERE timestamp >= now() - interval '24 hours'
		GROUP BY hour
		ORDER BY hour`)
	if err != nil {
		return nil, fmt.Errorf("storage: alert trend: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bucket AlertBucket
		if err := rows.Scan(&bucket.Hour, &bucket.Count); err != nil {
			return nil, fmt.Errorf("storage: scan trend: %w", err)
		}
		bucket.Hour = bucket.Hour.UTC()
		stats.Trend = append(stats.Trend, bucket)
	}
	return stats, rows.Err()
}

func (r *AlertsRepository) groupCounts(ctx context.Context, query string, dest map[string]int64) error {
	rows, err := r.db.DB().QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("storage: alert counts: %w", err)
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

// Acknowledge records the acknowledging actor on a non-resolved alert.
func (r *AlertsRepository) Acknowledge(ctx context.Context, id, actor string, at time.Time) error {
	result, err := r.db.DB().ExecContext(ctx, `
		UPDATE alerts
		SET acknowledged = TRUE, acknowledged_at = $1, acknowledged_by = $2
		WHERE id = $3 AND status <> $4`,
		at.UTC(), actor, id, string(domain.AlertStateResolved))
	if err != nil {
		return fmt.Errorf("storage: acknowledge alert %s: %w", id, err)
	}

	return r.affectedOrState(ctx, result, id)
}

// Resolve moves the alert into its terminal state.
func (r *AlertsRepository) Resolve(ctx context.Context, id, actor string, at time.Time) error {
	result, err := r.db.DB().ExecContext(ctx, `
		UPDATE alerts
		SET status = $1, resolved = TRUE, resolved_at = $2, resolved_by = $3
		WHERE id = $4 AND status <> $1`,
		string(domain.AlertStateResolved), at.UTC(), actor, id)
	if err != nil {
		return fmt.Errorf("storage: resolve alert %s: %w", id, err)
	}

	return r.affectedOrState(ctx, result, id)
}

// MarkEscalated stamps the escalation time and state on the original alert.
func (r *AlertsRepository) MarkEscalated(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.DB().ExecContext(ctx, `
		UPDATE alerts
		SET status = $1, escalated_at = $2
		WHERE id = $3 AND status <> $4`,
		string(domain.AlertStateEscalated), at.UTC(), id, string(domain.AlertStateResolved))
	if err != nil {
		return fmt.Errorf("storage: escalate alert %s: %w", id, err)
	}

	return r.affectedOrState(ctx, result, id)
}

// UpdateState persists a bare state transition (pending to active).
func (r *AlertsRepository) UpdateState(ctx context.Context, id string, state domain.AlertState) error {
	result, err := r.db.DB().ExecContext(ctx, `
		UPDATE alerts SET status = $1 WHERE id = $2 AND status <> $3`,
		string(state), id, string(domain.AlertStateResolved))
	if err != nil {
		return fmt.Errorf("storage: update alert %s: %w", id, err)
	}

	return r.affectedOrState(ctx, result, id)
}

// affectedOrState distinguishes a missing row from a resolved one when a
// guarded update matched nothing.
func (r *AlertsRepository) affectedOrState(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = r.db.DB().QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: alert state %s: %w", id, err)
	}
	if status == string(domain.AlertStateResolved) {
		return domain.ErrAlertResolved
	}
	return nil
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var (
		alert          domain.Alert
		level, status  string
		resolvedAt     sql.NullTime
		resolvedBy     sql.NullString
		acknowledgedAt sql.NullTime
		acknowledgedBy sql.NullString
		escalatedAt    sql.NullTime
		data           []byte
	)

	err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&level,
		&alert.Title,
		&alert.Message,
		&alert.FiredAt,
		&status,
		&resolvedAt,
		&resolvedBy,
		&acknowledgedAt,
		&acknowledgedBy,
		&escalatedAt,
		&data,
	)
	if err != nil {
		return nil, err
	}

	alert.Level = domain.AlertLevel(level)
	alert.State = domain.AlertState(status)
	alert.FiredAt = alert.FiredAt.UTC()
	alert.ResolvedBy = resolvedBy.String
	alert.AcknowledgedBy = acknowledgedBy.String

	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		alert.ResolvedAt = &t
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time.UTC()
		alert.AcknowledgedAt = &t
	}
	if escalatedAt.Valid {
		t := escalatedAt.Time.UTC()
		alert.EscalatedAt = &t
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &alert.Data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}

	return &alert, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
