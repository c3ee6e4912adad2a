package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jailtonjunior94/streamflow/internal/domain"
)

// ErrMalformedBackup marks a restore payload that is not a backup export.
var ErrMalformedBackup = errors.New("storage: malformed backup")

// Backup streams every stored event as a JSON array to the writer. The
// export runs inside a repeatable-read transaction so concurrent inserts
// never tear the snapshot.
func Backup(ctx context.Context, db *Database, w io.Writer) (int64, error) {
	tx, err := db.DB().BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return 0, fmt.Errorf("storage: begin backup: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+selectEventColumns+` FROM events ORDER BY timestamp ASC`)
	if err != nil {
		return 0, fmt.Errorf("storage: backup query: %w", err)
	}
	defer rows.Close()

	if _, err := io.WriteString(w, "["); err != nil {
		return 0, fmt.Errorf("storage: backup write: %w", err)
	}

	encoder := json.NewEncoder(w)
	var count int64

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return count, fmt.Errorf("storage: backup scan: %w", err)
		}

		if count > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return count, fmt.Errorf("storage: backup write: %w", err)
			}
		}
		if err := encoder.Encode(event); err != nil {
			return count, fmt.Errorf("storage: backup encode %s: %w", event.ID, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("storage: backup iterate: %w", err)
	}

	if _, err := io.WriteString(w, "]"); err != nil {
		return count, fmt.Errorf("storage: backup write: %w", err)
	}

	return count, nil
}

// Restore loads a backup produced by Backup, re-inserting events
// idempotently so a partial restore can simply be rerun.
func Restore(ctx context.Context, events *EventsRepository, r io.Reader) (int64, error) {
	decoder := json.NewDecoder(r)

	tok, err := decoder.Token()
	if err != nil {
		return 0, fmt.Errorf("%w: read: %v", ErrMalformedBackup, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, fmt.Errorf("%w: expected JSON array", ErrMalformedBackup)
	}

	var count int64
	for decoder.More() {
		var event domain.Event
		if err := decoder.Decode(&event); err != nil {
			return count, fmt.Errorf("%w: decode: %v", ErrMalformedBackup, err)
		}
		if err := events.Insert(ctx, &event); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}
