package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/domain"
)

var (
	// ErrInvalidWindow is returned when a window registration is rejected.
	ErrInvalidWindow = errors.New("stream: invalid window")

	// ErrWindowExists is returned when registering a duplicate window name.
	ErrWindowExists = errors.New("stream: window already registered")
)

// Window is a named sliding buffer of events. The buffer is monotone by
// arrival; events whose timestamp has fallen out of the window are evicted
// lazily on access, so any observation at time t contains only events with
// timestamp >= t - size.
type Window struct {
	name  string
	size  time.Duration
	slide time.Duration

	mu     sync.Mutex
	events []domain.Event
}

// NewWindow creates a sliding window. slide defaults to size; a window whose
// size is smaller than its slide is rejected.
func NewWindow(name string, size, slide time.Duration) (*Window, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidWindow)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", ErrInvalidWindow)
	}
	if slide == 0 {
		slide = size
	}
	if slide < 0 {
		return nil, fmt.Errorf("%w: slide must be positive", ErrInvalidWindow)
	}
	if size < slide {
		return nil, fmt.Errorf("%w: size %v is smaller than slide %v", ErrInvalidWindow, size, slide)
	}

	return &Window{name: name, size: size, slide: slide}, nil
}

// Name returns the window name.
func (w *Window) Name() string { return w.name }

// Size returns the window span.
func (w *Window) Size() time.Duration { return w.size }

// Append adds an event to the buffer. Amortized O(1); eviction happens on
// access, not on append.
func (w *Window) Append(event domain.Event) {
	w.mu.Lock()
	w.events = append(w.events, event)
	w.mu.Unlock()
}

// evictLocked drops events older than now - size. Caller holds w.mu.
func (w *Window) evictLocked(now time.Time) {
	cutoff := now.Add(-w.size)

	// Arrival order usually tracks timestamp order, so scan from the front
	// first; fall back to compaction when arrivals were out of order.
	i := 0
	for i < len(w.events) && w.events[i].Timestamp.Before(cutoff) {
		i++
	}
	kept := w.events[i:]

	live := kept[:0]
	for _, e := range kept {
		if !e.Timestamp.Before(cutoff) {
			live = append(live, e)
		}
	}

	w.events = append(w.events[:0], live...)
}

// Count returns the number of live events at the given instant.
func (w *Window) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(now)
	return len(w.events)
}

// Snapshot returns a consistent copy of the live events at the given
// instant. Readers never observe the buffer mid-mutation.
func (w *Window) Snapshot(now time.Time) []domain.Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(now)

	out := make([]domain.Event, len(w.events))
	copy(out, w.events)
	return out
}
