package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jailtonjunior94/streamflow/internal/domain"
)

func eventAt(ts time.Time) domain.Event {
	return domain.Event{ID: domain.NewEventID(), Type: "web.click", Source: "test", Timestamp: ts}
}

func TestNewWindowValidation(t *testing.T) {
	_, err := NewWindow("", time.Minute, 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewWindow("w", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewWindow("w", time.Minute, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewWindow("w", time.Minute, 2*time.Minute)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	w, err := NewWindow("w", time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, "w", w.Name())
	assert.Equal(t, time.Minute, w.Size())
}

func TestWindowEviction(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	w, err := NewWindow("1min", time.Minute, 0)
	require.NoError(t, err)

	w.Append(eventAt(base))
	w.Append(eventAt(base.Add(20 * time.Second)))
	w.Append(eventAt(base.Add(40 * time.Second)))

	assert.Equal(t, 3, w.Count(base.Add(50*time.Second)))

	// At base+70s the first event (base) has aged out.
	assert.Equal(t, 2, w.Count(base.Add(70*time.Second)))

	// Well past the window span everything is gone.
	assert.Equal(t, 0, w.Count(base.Add(5*time.Minute)))
}

func TestWindowEvictionOutOfOrder(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	w, err := NewWindow("1min", time.Minute, 0)
	require.NoError(t, err)

	// A late arrival carries an older timestamp than its predecessor.
	w.Append(eventAt(base.Add(50 * time.Second)))
	w.Append(eventAt(base))
	w.Append(eventAt(base.Add(55 * time.Second)))

	assert.Equal(t, 2, w.Count(base.Add(70*time.Second)))
}

func TestWindowSnapshotIsCopy(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	w, err := NewWindow("1min", time.Minute, 0)
	require.NoError(t, err)

	w.Append(eventAt(base))
	snap := w.Snapshot(base.Add(time.Second))
	require.Len(t, snap, 1)

	snap[0].Source = "mutated"
	fresh := w.Snapshot(base.Add(time.Second))
	assert.Equal(t, "test", fresh[0].Source)
}
