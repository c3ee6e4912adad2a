// Package ingest implements the ingestion edge: the single place events
// gain identity before entering the pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/fabric"
	"github.com/jailtonjunior94/streamflow/internal/observability"
)

const (
	// DefaultQueueSize bounds the accept-to-publish queue.
	DefaultQueueSize = 1024

	// DefaultWorkers drain the publish queue.
	DefaultWorkers = 4

	publishTimeout = 5 * time.Second
)

var (
	// ErrQueueFull is returned when the publish queue cannot absorb the
	// event; callers should answer 503.
	ErrQueueFull = errors.New("ingest: publish queue is full")

	// ErrShuttingDown is returned once intake has stopped.
	ErrShuttingDown = errors.New("ingest: service is shutting down")
)

// Service validates, stamps, and enqueues events for broker publish. The
// accept path returns as soon as the event is queued; background workers
// publish onto the events exchange. Shutdown stops intake and drains the
// queue before returning.
type Service struct {
	publisher fabric.Publisher
	o11y      observability.Observability
	now       func() time.Time

	queue chan *domain.Envelope
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	accepted        observability.Counter
	publishFailures observability.Counter
}

// Option configures the Service.
type Option func(*Service)

// WithQueueSize sets the publish queue bound.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queue = make(chan *domain.Envelope, n)
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the ingestion service and starts its publish workers.
func NewService(publisher fabric.Publisher, o11y observability.Observability, opts ...Option) *Service {
	s := &Service{
		publisher: publisher,
		o11y:      o11y,
		now:       time.Now,
		queue:     make(chan *domain.Envelope, DefaultQueueSize),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.accepted = o11y.Metrics().Counter(
		"ingest_events_total",
		"Events accepted at the ingestion edge.",
		"outcome",
	)
	s.publishFailures = o11y.Metrics().Counter(
		"ingest_publish_failures_total",
		"Background publishes that failed after accept.",
	)

	for i := 0; i < DefaultWorkers; i++ {
		s.wg.Add(1)
		go s.publishLoop()
	}

	return s
}

// Ingest runs one event through validate, stamp, and enqueue. The returned
// id is assigned here; a later publish failure does not undo the accept.
func (s *Service) Ingest(ctx context.Context, event *domain.Event, callerID string) (string, error) {
	now := s.now()

	event.Stamp(now, callerID)
	if err := event.Validate(now); err != nil {
		s.accepted.Increment("rejected")
		return "", err
	}

	envelope, err := domain.NewEnvelope(event.RoutingKey(), event)
	if err != nil {
		s.accepted.Increment("rejected")
		return "", fmt.Errorf("ingest: encode event: %w", err)
	}
	envelope.CorrelationID = event.CorrelationID

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.accepted.Increment("rejected")
		return "", ErrShuttingDown
	}

	select {
	case s.queue <- envelope:
		s.accepted.Increment("accepted")
		return event.ID, nil
	default:
		s.accepted.Increment("overflow")
		return "", ErrQueueFull
	}
}

func (s *Service) publishLoop() {
	defer s.wg.Done()

	for envelope := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := s.publisher.Publish(ctx, fabric.ExchangeEvents, envelope)
		cancel()

		if err != nil {
			s.publishFailures.Increment()
			s.o11y.Logger().Error(context.Background(), "event publish failed",
				observability.String("routing_key", envelope.RoutingKey),
				observability.Error(err),
			)
		}
	}
}

// Shutdown stops intake and drains the queue. Events still queued when the
// context expires are lost; the caller decides how long a drain may take.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingest: drain interrupted: %w", ctx.Err())
	}
}
