package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jailtonjunior94/streamflow/internal/observability/noop"
)

func TestFuncJob(t *testing.T) {
	var ran atomic.Bool
	job := NewFuncJob("retention_sweep", "0 * * * *", func(context.Context) error {
		ran.Store(true)
		return nil
	})

	assert.Equal(t, "retention_sweep", job.Name())
	assert.Equal(t, "0 * * * *", job.Schedule())
	require.NoError(t, job.Run(context.Background()))
	assert.True(t, ran.Load())
}

func TestRegisterJobs(t *testing.T) {
	w := New(noop.New())

	require.NoError(t, w.RegisterJobs(
		NewFuncJob("a", "* * * * *", func(context.Context) error { return nil }),
		NewFuncJob("b", "0 * * * *", func(context.Context) error { return nil }),
	))

	err := w.RegisterJobs(NewFuncJob("a", "* * * * *", func(context.Context) error { return nil }))
	assert.ErrorContains(t, err, "already registered")

	err = w.RegisterJobs(NewFuncJob("c", "not a schedule", func(context.Context) error { return nil }))
	assert.ErrorContains(t, err, `schedule job "c"`)
}

func TestRunJobContainsFailures(t *testing.T) {
	w := New(noop.New())

	// A failing job must not panic the scheduler wrapper.
	w.runJob(NewFuncJob("failing", "* * * * *", func(context.Context) error {
		return assert.AnError
	}))

	w.runJob(NewFuncJob("fine", "* * * * *", func(context.Context) error {
		return nil
	}))
}

func TestStartAndShutdown(t *testing.T) {
	w := New(noop.New())
	require.NoError(t, w.RegisterJobs(
		NewFuncJob("noop", "* * * * *", func(context.Context) error { return nil }),
	))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)

	// A second Start while running is rejected.
	assert.Error(t, w.Start(context.Background()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	// Shutdown after stop is a no-op.
	assert.NoError(t, w.Shutdown(context.Background()))
}
