package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Database is a managed PostgreSQL connection pool. It is thread-safe and
// must not be copied after creation; always use pointers.
type Database struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Option configures the Database pool.
type Option func(*Database)

// WithMaxOpenConns sets the maximum open connections.
func WithMaxOpenConns(n int) Option {
	return func(d *Database) { d.db.SetMaxOpenConns(n) }
}

// WithMaxIdleConns sets the idle connections kept in the pool.
func WithMaxIdleConns(n int) Option {
	return func(d *Database) { d.db.SetMaxIdleConns(n) }
}

// WithConnMaxLifetime sets the maximum lifetime of a pooled connection.
func WithConnMaxLifetime(dur time.Duration) Option {
	return func(d *Database) { d.db.SetConnMaxLifetime(dur) }
}

// New opens a pooled connection using the pgx driver and verifies it with a
// ping. Pool defaults: 5 base connections with overflow to 15 total.
func New(uri string, opts ...Option) (*Database, error) {
	if uri == "" {
		return nil, fmt.Errorf("storage: database URI is required")
	}

	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("storage: open connection: %w", err)
	}

	d := &Database{db: db}

	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	for _, opt := range opts {
		opt(d)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	return d, nil
}

// DB returns the underlying pool; nil after shutdown. Never call Close on
// the returned value directly.
func (d *Database) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil
	}
	return d.db
}

// Ping verifies connectivity, for health checks.
func (d *Database) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return fmt.Errorf("storage: database is closed")
	}
	return d.db.PingContext(ctx)
}

// Shutdown closes the pool, waiting for active connections within the
// context deadline. Idempotent.
func (d *Database) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	done := make(chan error, 1)
	go func() { done <- d.db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("storage: close pool: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("storage: shutdown cancelled: %w", ctx.Err())
	}
}
