// Package worker hosts the periodic jobs of the pipeline on a cron
// scheduler: the hourly retention sweep and the per-minute alert
// escalation scan.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jailtonjunior94/streamflow/internal/observability"
)

// Job is one scheduled task.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Schedule is a standard five-field cron expression.
	Schedule() string

	// Run executes the job; the context is cancelled during shutdown.
	Run(ctx context.Context) error
}

// FuncJob implements Job with a function.
type FuncJob struct {
	name     string
	schedule string
	fn       func(ctx context.Context) error
}

// NewFuncJob wraps a function as a Job.
func NewFuncJob(name, schedule string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{name: name, schedule: schedule, fn: fn}
}

func (j *FuncJob) Name() string                  { return j.name }
func (j *FuncJob) Schedule() string              { return j.schedule }
func (j *FuncJob) Run(ctx context.Context) error { return j.fn(ctx) }

// Worker runs registered jobs on their cron schedules.
type Worker struct {
	o11y      observability.Observability
	scheduler *cron.Cron
	running   atomic.Bool

	mu   sync.Mutex
	jobs map[string]Job

	jobRuns observability.Counter
}

// New creates the worker. Panicking jobs are recovered by the scheduler.
func New(o11y observability.Observability) *Worker {
	logger := &cronLogger{o11y: o11y}

	return &Worker{
		o11y: o11y,
		scheduler: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		jobs: make(map[string]Job),
		jobRuns: o11y.Metrics().Counter(
			"worker_job_runs_total",
			"Scheduled job executions, by job and outcome.",
			"job", "outcome",
		),
	}
}

// RegisterJobs adds jobs to the schedule. Must be called before Start.
func (w *Worker) RegisterJobs(jobs ...Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, job := range jobs {
		if _, exists := w.jobs[job.Name()]; exists {
			return fmt.Errorf("worker: job %q already registered", job.Name())
		}

		job := job
		_, err := w.scheduler.AddFunc(job.Schedule(), func() {
			w.runJob(job)
		})
		if err != nil {
			return fmt.Errorf("worker: schedule job %q: %w", job.Name(), err)
		}

		w.jobs[job.Name()] = job
	}

	return nil
}

func (w *Worker) runJob(job Job) {
	ctx := context.Background()
	started := time.Now()

	if err := job.Run(ctx); err != nil {
		w.jobRuns.Increment(job.Name(), "failed")
		w.o11y.Logger().Error(ctx, "scheduled job failed",
			observability.String("job", job.Name()),
			observability.Error(err),
		)
		return
	}

	w.jobRuns.Increment(job.Name(), "completed")
	w.o11y.Logger().Debug(ctx, "scheduled job completed",
		observability.String("job", job.Name()),
		observability.String("duration", time.Since(started).String()),
	)
}

// Start runs the scheduler until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("worker: already running")
	}

	w.o11y.Logger().Info(ctx, "cron worker started",
		observability.Int("jobs", len(w.jobs)),
	)

	w.scheduler.Start()
	<-ctx.Done()
	return w.Shutdown(context.Background())
}

// Shutdown stops scheduling and waits for running jobs.
func (w *Worker) Shutdown(ctx context.Context) error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}

	stopCtx := w.scheduler.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker: shutdown interrupted: %w", ctx.Err())
	}
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	o11y observability.Observability
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.o11y.Logger().Debug(context.Background(), msg, l.fields(keysAndValues...)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := append(l.fields(keysAndValues...), observability.Error(err))
	l.o11y.Logger().Error(context.Background(), msg, fields...)
}

func (l *cronLogger) fields(keysAndValues ...any) []observability.Field {
	var fields []observability.Field
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, observability.Any(key, keysAndValues[i+1]))
	}
	return fields
}
