package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jzx17/gopool/internal/testutils"
	"github.com/jzx17/gopool/pkg/metrics"
	"github.com/jzx17/gopool/pkg/queue"
	"github.com/jzx17/gopool/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, size int) *FixedWorkerPool {
	t.Helper()
	pool, err := NewFixedWorkerPool(&FixedWorkerPoolConfig{
		PoolSize: size,
		Name:     t.Name(),
		Logger:   testutils.DiscardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestNewFixedWorkerPool(t *testing.T) {
	tests := []struct {
		name        string
		config      *FixedWorkerPoolConfig
		expectError bool
	}{
		{
			name:        "nil config should use default",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      &FixedWorkerPoolConfig{PoolSize: 5},
			expectError: false,
		},
		{
			name:        "zero pool size should error",
			config:      &FixedWorkerPoolConfig{PoolSize: 0},
			expectError: true,
		},
		{
			name:        "negative pool size should error",
			config:      &FixedWorkerPoolConfig{PoolSize: -1},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewFixedWorkerPool(tt.config)

			if tt.expectError {
				assert.ErrorIs(t, err, types.ErrInvalidPoolSize)
				assert.Nil(t, pool)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, pool)
			defer pool.Close()

			if tt.config == nil {
				assert.Equal(t, 4, pool.Size()) // default pool size
				assert.Equal(t, "default", pool.Name())
			} else {
				assert.Equal(t, tt.config.PoolSize, pool.Size())
			}
			assert.Equal(t, types.StateOpen, pool.State())
		})
	}
}

func TestMustNewFixedWorkerPool_PanicsOnZeroSize(t *testing.T) {
	assert.PanicsWithError(t, "pool size must be positive, got 0", func() {
		MustNewFixedWorkerPool(&FixedWorkerPoolConfig{PoolSize: 0})
	})
}

func TestFixedWorkerPool_WorkerIdentities(t *testing.T) {
	for _, size := range []int{1, 2, 7, 16} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			pool := newTestPool(t, size)

			ids := pool.WorkerIDs()
			require.Len(t, ids, size)
			for i, id := range ids {
				assert.Equal(t, i, id)
			}

			stats := pool.GetWorkerStats()
			require.Len(t, stats, size)
			for i, s := range stats {
				assert.Equal(t, i, s.ID)
			}
		})
	}
}

func TestFixedWorkerPool_Execute(t *testing.T) {
	pool := newTestPool(t, 2)

	done := make(chan struct{})
	err := pool.Execute(NewBasicTask(func(ctx context.Context, workerID int) error {
		close(done)
		return nil
	}))
	assert.NoError(t, err)
	testutils.WaitClosed(t, done, time.Second)

	// nil task
	assert.ErrorIs(t, pool.Execute(nil), types.ErrNilTask)
	assert.ErrorIs(t, pool.ExecuteFunc(nil), types.ErrNilTask)

	// after close
	require.NoError(t, pool.Close())
	err = pool.ExecuteFunc(func(ctx context.Context, workerID int) error { return nil })
	assert.ErrorIs(t, err, types.ErrPoolClosed)
}

func TestFixedWorkerPool_ExactlyOnce(t *testing.T) {
	for _, tc := range []struct{ size, tasks int }{{1, 10}, {4, 3}, {4, 500}, {16, 2000}} {
		t.Run(fmt.Sprintf("%d_workers_%d_tasks", tc.size, tc.tasks), func(t *testing.T) {
			pool := newTestPool(t, tc.size)
			rec := testutils.NewRecorder()

			for i := 0; i < tc.tasks; i++ {
				seq := i
				require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
					rec.Record(seq, workerID)
					return nil
				}))
			}

			require.NoError(t, pool.Close())
			rec.AssertExactlyOnce(t, tc.tasks)

			for _, id := range rec.WorkerIDs() {
				assert.GreaterOrEqual(t, id, 0)
				assert.Less(t, id, tc.size)
			}

			stats := pool.Stats()
			assert.Equal(t, int64(tc.tasks), stats.Submitted)
			assert.Equal(t, int64(tc.tasks), stats.Completed)
			assert.Equal(t, int64(0), stats.Failed)
			assert.Equal(t, int64(0), stats.Pending())
		})
	}
}

func TestFixedWorkerPool_ParallelDispatch(t *testing.T) {
	pool := newTestPool(t, 2)
	rec := testutils.NewRecorder()

	const numTasks = 5
	const taskTime = 50 * time.Millisecond

	var wg sync.WaitGroup
	wg.Add(numTasks)
	start := time.Now()
	for i := 0; i < numTasks; i++ {
		seq := i
		require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
			defer wg.Done()
			time.Sleep(taskTime)
			rec.Record(seq, workerID)
			return nil
		}))
	}
	wg.Wait()
	elapsed := time.Since(start)

	rec.AssertExactlyOnce(t, numTasks)
	assert.Equal(t, []int{0, 1}, rec.WorkerIDs())

	// ceil(5/2) rounds of 50ms, well short of 5 sequential runs
	assert.GreaterOrEqual(t, elapsed, 3*taskTime)
	assert.Less(t, elapsed, numTasks*taskTime)
}

func TestFixedWorkerPool_ErrorIsolation(t *testing.T) {
	var handled int64
	pool, err := NewFixedWorkerPool(&FixedWorkerPoolConfig{
		PoolSize: 1,
		Logger:   testutils.DiscardLogger(),
		ErrorHandler: func(err error) error {
			atomic.AddInt64(&handled, 1)
			return nil
		},
	})
	require.NoError(t, err)

	rec := testutils.NewRecorder()
	require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		rec.Record(0, workerID)
		return errors.New("first task fails")
	}))
	require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		rec.Record(1, workerID)
		return nil
	}))

	require.NoError(t, pool.Close())

	rec.AssertExactlyOnce(t, 2)
	assert.Equal(t, int64(1), atomic.LoadInt64(&handled))

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestFixedWorkerPool_PanickingTaskDoesNotKillPool(t *testing.T) {
	pool := newTestPool(t, 1)

	require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		panic("boom")
	}))

	done := make(chan struct{})
	require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		close(done)
		return nil
	}))
	testutils.WaitClosed(t, done, time.Second)

	assert.Eventually(t, func() bool {
		s := pool.Stats()
		return s.Failed == 1 && s.Completed == 1
	}, time.Second, time.Millisecond)
	assert.True(t, pool.IsOpen())
}

func TestFixedWorkerPool_ShutdownWithoutTasks(t *testing.T) {
	pool := newTestPool(t, 4)

	done := make(chan error, 1)
	go func() { done <- pool.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown of an idle pool blocked")
	}

	assert.True(t, pool.IsClosed())
	for _, s := range pool.GetWorkerStats() {
		assert.Equal(t, WorkerStateStopped, s.State)
	}
}

func TestFixedWorkerPool_ShutdownWaitsForRunningTask(t *testing.T) {
	pool := newTestPool(t, 2)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}))
	testutils.WaitClosed(t, started, time.Second)

	closed := make(chan error, 1)
	go func() { closed <- pool.Close() }()

	assert.Eventually(t, func() bool {
		return pool.State() == types.StateClosing
	}, time.Second, time.Millisecond)

	select {
	case <-closed:
		t.Fatal("shutdown returned while a task was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not finish after the task completed")
	}
	assert.True(t, finished.Load())
	assert.True(t, pool.IsClosed())
}

func TestFixedWorkerPool_ShutdownDrainsQueue(t *testing.T) {
	pool := newTestPool(t, 1)

	release := make(chan struct{})
	require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		<-release
		return nil
	}))

	var ran int64
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}))
	}

	closed := make(chan error, 1)
	go func() { closed <- pool.Close() }()

	assert.Eventually(t, func() bool {
		return pool.State() == types.StateClosing
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error { return nil }), types.ErrPoolClosed)

	close(release)
	require.NoError(t, <-closed)
	assert.Equal(t, int64(20), atomic.LoadInt64(&ran))
	assert.Equal(t, 0, pool.QueueLength())
}

func TestFixedWorkerPool_ShutdownDeadlineThenResume(t *testing.T) {
	pool := newTestPool(t, 2)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		close(started)
		<-release
		return nil
	}))
	testutils.WaitClosed(t, started, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.StateClosing, pool.State())

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, pool.IsClosed())

	// repeated shutdown is a no-op
	assert.NoError(t, pool.Shutdown(context.Background()))
	assert.NoError(t, pool.Close())
}

func TestFixedWorkerPool_ShutdownDeadlineWhileCloseInProgress(t *testing.T) {
	pool := newTestPool(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		close(started)
		<-release
		return nil
	}))
	testutils.WaitClosed(t, started, time.Second)

	closed := make(chan error, 1)
	go func() { closed <- pool.Close() }()
	assert.Eventually(t, func() bool {
		return pool.State() == types.StateClosing
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- pool.Shutdown(ctx) }()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Shutdown ignored its own deadline while Close was joining")
	}
	assert.Equal(t, types.StateClosing, pool.State())

	close(release)
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not finish after the task completed")
	}
	assert.True(t, pool.IsClosed())
}

func TestFixedWorkerPool_ConcurrentShutdown(t *testing.T) {
	pool := newTestPool(t, 3)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- pool.Close()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, pool.IsClosed())
}

func TestFixedWorkerPool_PoisonedQueueReportedByShutdown(t *testing.T) {
	pool := newTestPool(t, 3)

	pool.queue.Poison(errors.New("lock holder died"))

	err := pool.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrPoisoned)
	for id := 0; id < 3; id++ {
		assert.Contains(t, err.Error(), fmt.Sprintf("worker %d", id))
	}
	assert.True(t, pool.IsClosed())
}

func TestFixedWorkerPool_ContextPassedToTasks(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "request-scope")

	pool, err := NewFixedWorkerPoolWithContext(ctx, &FixedWorkerPoolConfig{
		PoolSize: 1,
		Logger:   testutils.DiscardLogger(),
	})
	require.NoError(t, err)

	got := make(chan interface{}, 1)
	require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		got <- ctx.Value(ctxKey{})
		return nil
	}))
	require.NoError(t, pool.Close())
	assert.Equal(t, "request-scope", <-got)
}

func TestFixedWorkerPool_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewPoolMetrics("gopool", reg)
	require.NoError(t, err)

	pool, err := NewFixedWorkerPool(&FixedWorkerPoolConfig{
		PoolSize: 2,
		Name:     "metered",
		Logger:   testutils.DiscardLogger(),
		Metrics:  m,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkerCount.WithLabelValues("metered")))

	for i := 0; i < 4; i++ {
		fail := i%2 == 0
		require.NoError(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
			if fail {
				return errors.New("fail")
			}
			return nil
		}))
	}
	require.NoError(t, pool.Close())
	assert.ErrorIs(t, pool.ExecuteFunc(func(ctx context.Context, workerID int) error { return nil }), types.ErrPoolClosed)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.TasksSubmitted.WithLabelValues("metered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksCompleted.WithLabelValues("metered", metrics.StatusSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksCompleted.WithLabelValues("metered", metrics.StatusFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksRejected.WithLabelValues("metered")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveWorkers.WithLabelValues("metered")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WorkerCount.WithLabelValues("metered")))
}

func TestFixedWorkerPool_LogsOutcomes(t *testing.T) {
	logger, logs := testutils.NewBufferLogger()
	pool, err := NewFixedWorkerPool(&FixedWorkerPoolConfig{
		PoolSize: 1,
		Name:     "logged",
		Logger:   logger,
	})
	require.NoError(t, err)

	require.NoError(t, pool.Execute(NewBasicTaskWithID("ok-task", func(ctx context.Context, workerID int) error {
		return nil
	})))
	require.NoError(t, pool.Execute(NewBasicTaskWithID("bad-task", func(ctx context.Context, workerID int) error {
		return errors.New("disk full")
	})))
	require.NoError(t, pool.Close())

	out := logs.String()
	assert.Contains(t, out, "worker pool started")
	assert.Contains(t, out, "task_id=ok-task")
	assert.Contains(t, out, "task failed")
	assert.Contains(t, out, "disk full")
	assert.Contains(t, out, "pool=logged")
	assert.Contains(t, out, "worker pool closed")
}

func TestFixedWorkerPool_MockClock(t *testing.T) {
	mock := testutils.NewMockClock(t)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewPoolMetrics("clocked", reg)
	require.NoError(t, err)

	pool, err := NewFixedWorkerPool(&FixedWorkerPoolConfig{
		PoolSize: 1,
		Clock:    mock,
		Logger:   testutils.DiscardLogger(),
		Metrics:  m,
	})
	require.NoError(t, err)

	require.NoError(t, pool.ExecuteFunc(testutils.AdvanceTask(mock, 2*time.Second)))
	require.NoError(t, pool.Close())

	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, f := range families {
		if f.GetName() == "clocked_task_duration_seconds" {
			sum = f.GetMetric()[0].GetHistogram().GetSampleSum()
		}
	}
	assert.Equal(t, 2.0, sum)
}

func BenchmarkFixedWorkerPool_Execute(b *testing.B) {
	pool, err := NewFixedWorkerPool(&FixedWorkerPoolConfig{
		PoolSize: 8,
		Logger:   testutils.DiscardLogger(),
	})
	require.NoError(b, err)
	defer pool.Close()

	task := TaskFunc(func(ctx context.Context, workerID int) error { return nil })

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Execute(task)
	}
}
