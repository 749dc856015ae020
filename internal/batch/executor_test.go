package batch_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/systmms/opbulk/internal/batch"
	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newExecutor(t *testing.T, limit int, opts ...batch.Option) *batch.Executor {
	t.Helper()
	e, err := batch.New(limit, opts...)
	require.NoError(t, err)
	return e
}

func TestNewRejectsInvalidLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		_, err := batch.New(limit)
		assert.ErrorIs(t, err, operrors.ErrInvalidConfiguration)
	}
}

func TestExecuteEmpty(t *testing.T) {
	e := newExecutor(t, batch.DefaultLimit)
	results, err := batch.Execute(context.Background(), e, []int{}, func(context.Context, int) (int, error) {
		t.Fatal("fn must not be called")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestExecuteRespectsLimit(t *testing.T) {
	const limit = 3

	e := newExecutor(t, limit)
	var (
		current atomic.Int32
		peak    atomic.Int32
	)

	tasks := make([]int, 20)
	results, err := batch.Execute(context.Background(), e, tasks, func(context.Context, int) (struct{}, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return struct{}{}, nil
	})

	require.NoError(t, err)
	assert.Len(t, results, 20)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Greater(t, peak.Load(), int32(1), "tasks should overlap")
}

func TestExecuteLimitSharedAcrossCalls(t *testing.T) {
	e := newExecutor(t, 2)
	var (
		current atomic.Int32
		peak    atomic.Int32
	)
	work := func(context.Context, int) (int, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return 0, nil
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := batch.Execute(context.Background(), e, make([]int, 6), work)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteIsolatesFailures(t *testing.T) {
	e := newExecutor(t, 4)
	boom := errors.New("boom")

	results, err := batch.Execute(context.Background(), e, []int{0, 1, 2, 3, 4, 5}, func(_ context.Context, n int) (int, error) {
		if n%2 == 1 {
			return 0, fmt.Errorf("task %d: %w", n, boom)
		}
		return n * 10, nil
	})

	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, r := range results {
		if i%2 == 1 {
			assert.False(t, r.OK)
			assert.ErrorIs(t, r.Err, boom)
			continue
		}
		assert.True(t, r.OK)
		assert.Equal(t, i*10, r.Value)
	}
}

func TestExecuteKeepsPartialValueOfFailedTask(t *testing.T) {
	e := newExecutor(t, 1)

	results, err := batch.Execute(context.Background(), e, []int{3, 0}, func(_ context.Context, n int) (int, error) {
		if n == 3 {
			return 2, operrors.ErrAuthRequired
		}
		return n, nil
	})

	require.ErrorIs(t, err, operrors.ErrAuthRequired)
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.Equal(t, 2, results[0].Value)
	assert.ErrorIs(t, results[1].Err, batch.ErrSkipped)
	assert.Zero(t, results[1].Value)
}

func TestExecuteNonEscalatingErrorsDoNotAbort(t *testing.T) {
	e := newExecutor(t, 1)

	var calls atomic.Int32
	results, err := batch.Execute(context.Background(), e, []error{
		operrors.ErrNotFound,
		operrors.ErrParse,
		fmt.Errorf("%w: %w", operrors.ErrRetriesExhausted, operrors.ErrRateLimited),
		nil,
	}, func(_ context.Context, fail error) (bool, error) {
		calls.Add(1)
		return true, fail
	})

	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
	assert.True(t, results[3].OK)
}

func TestExecuteAbortsOnEscalation(t *testing.T) {
	e := newExecutor(t, 1)

	var started []int
	var mu sync.Mutex
	results, err := batch.Execute(context.Background(), e, []int{0, 1, 2, 3, 4}, func(_ context.Context, n int) (int, error) {
		mu.Lock()
		started = append(started, n)
		mu.Unlock()
		if n == 1 {
			return 0, &operrors.CommandError{Command: "op vault list", Kind: operrors.ErrAuthRequired}
		}
		return n, nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, operrors.ErrAuthRequired)
	assert.Equal(t, []int{0, 1}, started)

	require.Len(t, results, 5)
	assert.True(t, results[0].OK)
	assert.ErrorIs(t, results[1].Err, operrors.ErrAuthRequired)
	for _, r := range results[2:] {
		assert.False(t, r.OK)
		assert.ErrorIs(t, r.Err, batch.ErrSkipped)
	}
}

func TestExecuteLetsRunningTasksFinishOnEscalation(t *testing.T) {
	e := newExecutor(t, 2)

	release := make(chan struct{})
	slowDone := atomic.Bool{}

	results, err := batch.Execute(context.Background(), e, []int{0, 1, 2, 3}, func(_ context.Context, n int) (int, error) {
		switch n {
		case 0:
			<-release
			time.Sleep(10 * time.Millisecond)
			slowDone.Store(true)
			return 0, nil
		case 1:
			close(release)
			return 0, operrors.ErrAuthRequired
		default:
			return n, nil
		}
	})

	assert.ErrorIs(t, err, operrors.ErrAuthRequired)
	assert.True(t, slowDone.Load(), "in-flight task must run to completion")
	assert.True(t, results[0].OK)
}

func TestExecuteCustomEscalation(t *testing.T) {
	stop := errors.New("stop")
	e := newExecutor(t, 1, batch.WithEscalation(func(err error) bool { return errors.Is(err, stop) }))

	results, err := batch.Execute(context.Background(), e, []int{0, 1, 2}, func(_ context.Context, n int) (int, error) {
		if n == 0 {
			return 0, operrors.ErrAuthRequired
		}
		if n == 1 {
			return 0, stop
		}
		return n, nil
	})

	assert.ErrorIs(t, err, stop)
	assert.ErrorIs(t, results[0].Err, operrors.ErrAuthRequired)
	assert.ErrorIs(t, results[2].Err, batch.ErrSkipped)
}

func TestExecuteRecoversPanics(t *testing.T) {
	e := newExecutor(t, 2)

	results, err := batch.Execute(context.Background(), e, []int{0, 1, 2}, func(_ context.Context, n int) (int, error) {
		if n == 1 {
			panic("kaboom")
		}
		return n, nil
	})

	require.NoError(t, err)
	assert.True(t, results[0].OK)
	assert.ErrorIs(t, results[1].Err, batch.ErrTaskPanicked)
	assert.Contains(t, results[1].Err.Error(), "kaboom")
	assert.True(t, results[2].OK)
}

func TestExecuteCancelledContext(t *testing.T) {
	e := newExecutor(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	results, err := batch.Execute(ctx, e, []int{0, 1, 2}, func(_ context.Context, n int) (int, error) {
		if n == 0 {
			cancel()
		}
		return n, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, results[0].OK)
	assert.ErrorIs(t, results[2].Err, context.Canceled)
}

func TestExecuteRecordsMetrics(t *testing.T) {
	m := metrics.New()
	e := newExecutor(t, 1, batch.WithMetrics(m))

	_, err := batch.Execute(context.Background(), e, []int{0, 1, 2, 3}, func(_ context.Context, n int) (int, error) {
		switch n {
		case 1:
			return 0, operrors.ErrNotFound
		case 2:
			return 0, operrors.ErrAuthRequired
		}
		return n, nil
	})
	require.ErrorIs(t, err, operrors.ErrAuthRequired)

	expected := `
# HELP opbulk_batch_tasks_total Total number of batch tasks by final status
# TYPE opbulk_batch_tasks_total counter
opbulk_batch_tasks_total{status="failed"} 2
opbulk_batch_tasks_total{status="skipped"} 1
opbulk_batch_tasks_total{status="succeeded"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "opbulk_batch_tasks_total"))
}

func TestExecutePreservesOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 8).Draw(rt, "limit")
		delays := rapid.SliceOfN(rapid.IntRange(0, 300), 0, 40).Draw(rt, "delays")

		e, err := batch.New(limit)
		if err != nil {
			rt.Fatalf("new: %v", err)
		}

		type task struct {
			index int
			delay time.Duration
		}
		tasks := make([]task, len(delays))
		for i, d := range delays {
			tasks[i] = task{index: i, delay: time.Duration(d) * time.Microsecond}
		}

		results, err := batch.Execute(context.Background(), e, tasks, func(_ context.Context, tk task) (int, error) {
			time.Sleep(tk.delay)
			return tk.index, nil
		})
		if err != nil {
			rt.Fatalf("execute: %v", err)
		}
		if len(results) != len(tasks) {
			rt.Fatalf("got %d results for %d tasks", len(results), len(tasks))
		}
		for i, r := range results {
			if !r.OK || r.Value != i {
				rt.Fatalf("result %d = %+v", i, r)
			}
		}
	})
}
