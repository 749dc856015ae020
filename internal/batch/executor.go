// Package batch runs independent tasks under a concurrency ceiling.
//
// A failing task never affects its siblings: its slot in the result slice is
// marked failed and the batch carries on. The one exception is an escalating
// error (by default an authentication failure). Once a task reports one, no
// further queued task is started, tasks already running finish normally, and
// Execute returns that error alongside the partial results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"

	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/metrics"
)

// DefaultLimit is the concurrency ceiling used when none is configured.
const DefaultLimit = 5

var (
	// ErrSkipped marks tasks that were never started because the batch aborted.
	ErrSkipped = errors.New("task not started: batch aborted")

	// ErrTaskPanicked marks a task whose function panicked.
	ErrTaskPanicked = errors.New("task panicked")
)

// Result is the outcome of one task. Results are returned in input order.
// Value holds whatever fn returned, including partial work from a failed task.
type Result[R any] struct {
	Value R
	Err   error
	OK    bool
}

// Executor bounds how many tasks run at once. The bound is shared by every
// Execute call using the same Executor.
type Executor struct {
	limit     int
	sem       *semaphore.Weighted
	escalates func(error) bool
	logger    *logging.Logger
	metrics   *metrics.Collectors
}

// Option configures an Executor.
type Option func(*Executor)

// WithEscalation replaces the predicate deciding which task errors abort the batch.
func WithEscalation(fn func(error) bool) Option {
	return func(e *Executor) {
		if fn != nil {
			e.escalates = fn
		}
	}
}

// WithLogger sets the logger used for per-task failures.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records task lifecycle metrics.
func WithMetrics(m *metrics.Collectors) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an Executor that runs at most limit tasks concurrently.
func New(limit int, opts ...Option) (*Executor, error) {
	if limit < 1 {
		return nil, operrors.ConfigError{
			Field:      "concurrency",
			Value:      limit,
			Message:    "concurrency limit must be at least 1",
			Suggestion: fmt.Sprintf("Remove the setting to use the default of %d", DefaultLimit),
		}
	}
	e := &Executor{
		limit:     limit,
		sem:       semaphore.NewWeighted(int64(limit)),
		escalates: operrors.IsEscalating,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Limit returns the concurrency ceiling.
func (e *Executor) Limit() int {
	return e.limit
}

// Execute runs fn once per task and returns one Result per task, in task
// order. The returned error is nil unless a task escalated or ctx ended
// before every task could start.
func Execute[T, R any](ctx context.Context, e *Executor, tasks []T, fn func(context.Context, T) (R, error)) ([]Result[R], error) {
	results := make([]Result[R], len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	var (
		wg        conc.WaitGroup
		aborted   atomic.Bool
		once      sync.Once
		escalated error
		startErr  error
	)

	for i, task := range tasks {
		if aborted.Load() {
			skipRemaining(e, results[i:], ErrSkipped)
			break
		}
		if err := e.sem.Acquire(ctx, 1); err != nil {
			startErr = err
			skipRemaining(e, results[i:], err)
			break
		}
		// Re-check: the abort may have landed while we waited for a slot.
		if aborted.Load() {
			e.sem.Release(1)
			skipRemaining(e, results[i:], ErrSkipped)
			break
		}

		wg.Go(func() {
			defer e.sem.Release(1)
			e.metrics.TaskStarted()

			value, err := run(ctx, fn, task)
			if err != nil {
				results[i] = Result[R]{Value: value, Err: err}
				e.metrics.TaskFinished(metrics.StatusFailed)
				if e.escalates(err) {
					once.Do(func() {
						escalated = err
						aborted.Store(true)
					})
					e.logger.Error("Task %d escalated, aborting batch: %v", i, err)
					return
				}
				e.logger.Warn("Task %d failed: %v", i, err)
				return
			}
			results[i] = Result[R]{Value: value, OK: true}
			e.metrics.TaskFinished(metrics.StatusSucceeded)
		})
	}

	wg.Wait()

	if escalated != nil {
		return results, escalated
	}
	return results, startErr
}

func run[T, R any](ctx context.Context, fn func(context.Context, T) (R, error), task T) (value R, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		value, err = fn(ctx, task)
	})
	if r := pc.Recovered(); r != nil {
		var zero R
		return zero, fmt.Errorf("%w: %w", ErrTaskPanicked, r.AsError())
	}
	return value, err
}

func skipRemaining[R any](e *Executor, results []Result[R], err error) {
	for i := range results {
		results[i] = Result[R]{Err: err}
		e.metrics.TaskSkipped()
	}
	e.logger.Debug("Skipped %d queued tasks: %v", len(results), err)
}
