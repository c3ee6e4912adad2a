package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jailtonjunior94/streamflow/internal/observability/noop"
)

// execLog records every statement executed through the recording driver so
// sweep shapes can be asserted without a live database.
type execLog struct {
	mu      sync.Mutex
	queries []string
	args    [][]driver.NamedValue
}

func (l *execLog) record(query string, args []driver.NamedValue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, query)
	l.args = append(l.args, args)
}

type recordingConnector struct{ log *execLog }

func (c recordingConnector) Connect(context.Context) (driver.Conn, error) {
	return &recordingConn{log: c.log}, nil
}

func (c recordingConnector) Driver() driver.Driver { return recordingDriver{} }

type recordingDriver struct{}

func (recordingDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open through the connector")
}

type recordingConn struct{ log *execLog }

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare is not supported")
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions are not supported")
}

func (c *recordingConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.log.record(query, args)
	// Zero rows affected ends each delete loop after one batch.
	return driver.RowsAffected(0), nil
}

func newRecordingRepository() (*EventsRepository, *execLog) {
	log := &execLog{}
	db := &Database{db: sql.OpenDB(recordingConnector{log: log})}
	return NewEventsRepository(db), log
}

func TestSweepExcludesPolicyTypesFromDefault(t *testing.T) {
	repo, log := newRecordingRepository()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	retention := NewRetention(repo, RetentionPolicy{
		DefaultDays: 30,
		PerType:     map[string]int{"web.click": 365},
	}, noop.New(), WithRetentionClock(func() time.Time { return now }))

	counts, err := retention.Sweep(context.Background())
	require.NoError(t, err)
	assert.Contains(t, counts, "web.click")
	assert.Contains(t, counts, "*")

	require.Len(t, log.queries, 2)

	// Per-type sweep against the 365-day cutoff.
	assert.Contains(t, log.queries[0], "type = $2")
	assert.Equal(t, now.AddDate(0, 0, -365), log.args[0][0].Value)
	assert.Equal(t, "web.click", log.args[0][1].Value)

	// The default sweep must not touch types that carry their own policy:
	// a web.click row older than 30 days but within 365 has to survive.
	assert.Contains(t, log.queries[1], "type <> ALL($2)")
	assert.Equal(t, now.AddDate(0, 0, -30), log.args[1][0].Value)
	assert.Equal(t, `{"web.click"}`, log.args[1][1].Value)
}

func TestSweepWithoutPolicyTypesSweepsEverything(t *testing.T) {
	repo, log := newRecordingRepository()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	retention := NewRetention(repo, RetentionPolicy{DefaultDays: 7}, noop.New(),
		WithRetentionClock(func() time.Time { return now }))

	_, err := retention.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, log.queries, 1)
	assert.NotContains(t, log.queries[0], "type")
	require.Len(t, log.args[0], 1)
	assert.Equal(t, now.AddDate(0, 0, -7), log.args[0][0].Value)
}

func TestSweepSkipsDisabledPolicies(t *testing.T) {
	repo, log := newRecordingRepository()

	retention := NewRetention(repo, RetentionPolicy{
		DefaultDays: 7,
		PerType:     map[string]int{"debug.trace": 0},
	}, noop.New())

	_, err := retention.Sweep(context.Background())
	require.NoError(t, err)

	// A nonpositive per-type policy is inert: no per-type sweep, and the
	// type stays subject to the default one.
	require.Len(t, log.queries, 1)
	assert.NotContains(t, log.queries[0], "ALL")
}
