package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/fabric"
	"github.com/jailtonjunior94/streamflow/internal/observability/noop"
)

type fakePublisher struct {
	mu        sync.Mutex
	sent      []*domain.Envelope
	exchanges []string
	block     chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, exchange string, envelope *domain.Envelope) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, envelope)
	f.exchanges = append(f.exchanges, exchange)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []*domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestIngestStampsAndPublishes(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	pub := &fakePublisher{}
	service := NewService(pub, noop.New(), WithClock(func() time.Time { return now }))
	defer func() { _ = service.Shutdown(context.Background()) }()

	event := &domain.Event{Type: "web.click", Source: "checkout", CorrelationID: "corr-9"}
	id, err := service.Ingest(context.Background(), event, "caller-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, event.ID)
	assert.Equal(t, "caller-1", event.UserID)

	waitFor(t, func() bool { return len(pub.published()) == 1 })

	envelope := pub.published()[0]
	assert.Equal(t, "events.web.click", envelope.RoutingKey)
	assert.Equal(t, "corr-9", envelope.CorrelationID)
	assert.Equal(t, fabric.ExchangeEvents, pub.exchanges[0])

	var published domain.Event
	require.NoError(t, envelope.Decode(&published))
	assert.Equal(t, id, published.ID)
}

func TestIngestRejectsInvalidEvent(t *testing.T) {
	pub := &fakePublisher{}
	service := NewService(pub, noop.New())
	defer func() { _ = service.Shutdown(context.Background()) }()

	event := &domain.Event{Type: "not.a.category", Source: "checkout"}
	_, err := service.Ingest(context.Background(), event, "")
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, pub.published())
}

func TestIngestQueueFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	service := NewService(pub, noop.New(), WithQueueSize(1))

	// Fill the workers and the single queue slot, then overflow.
	var sawFull bool
	for i := 0; i < DefaultWorkers+5; i++ {
		event := &domain.Event{Type: "web.click", Source: "checkout"}
		_, err := service.Ingest(context.Background(), event, "")
		if err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			sawFull = true
		}
	}
	assert.True(t, sawFull)

	close(pub.block)
	require.NoError(t, service.Shutdown(context.Background()))
}

func TestShutdownDrainsQueue(t *testing.T) {
	pub := &fakePublisher{}
	service := NewService(pub, noop.New())

	for i := 0; i < 10; i++ {
		event := &domain.Event{Type: "web.click", Source: "checkout"}
		_, err := service.Ingest(context.Background(), event, "")
		require.NoError(t, err)
	}

	require.NoError(t, service.Shutdown(context.Background()))
	assert.Len(t, pub.published(), 10)

	// Intake is closed after shutdown.
	event := &domain.Event{Type: "web.click", Source: "checkout"}
	_, err := service.Ingest(context.Background(), event, "")
	assert.ErrorIs(t, err, ErrShuttingDown)

	// Shutdown is idempotent.
	require.NoError(t, service.Shutdown(context.Background()))
}
