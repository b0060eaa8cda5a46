package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/jzx17/gopool/pkg/queue"
	"github.com/jzx17/gopool/pkg/types"
)

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateIdle represents a worker blocked on the queue
	WorkerStateIdle WorkerState = iota
	// WorkerStateWorking represents a worker executing a task
	WorkerStateWorking
	// WorkerStateStopped represents a worker that has exited its loop
	WorkerStateStopped
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateWorking:
		return "working"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker represents a single worker goroutine bound to a shared queue
type Worker struct {
	id    int
	state int32 // atomic state
	queue *queue.Channel[types.Task]
	done  chan struct{}

	// exit error, set before done is closed
	exitErr error

	// statistics
	totalProcessed int64
	totalFailed    int64
	lastTaskTime   int64 // Unix nanosecond timestamp

	// error handling
	errorHandler types.ErrorHandler

	// pool callbacks for syncing statistics
	startCallback      func(workerID int)
	completionCallback func(workerID int, d time.Duration, failed bool)

	clock  quartz.Clock
	logger *slog.Logger

	// synchronization
	mu sync.RWMutex
}

// NewWorker creates a new Worker with default real clock
func NewWorker(id int, q *queue.Channel[types.Task]) *Worker {
	return NewWorkerWithClock(id, q, quartz.NewReal())
}

// NewWorkerWithClock creates a new Worker with specified clock
func NewWorkerWithClock(id int, q *queue.Channel[types.Task], clock quartz.Clock) *Worker {
	if clock == nil {
		clock = quartz.NewReal()
	}

	return &Worker{
		id:     id,
		state:  int32(WorkerStateIdle),
		queue:  q,
		done:   make(chan struct{}),
		clock:  clock,
		logger: slog.Default(),
	}
}

// ID returns the Worker ID
func (w *Worker) ID() int {
	return w.id
}

// State returns the current Worker state
func (w *Worker) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

// SetErrorHandler sets the error handler
func (w *Worker) SetErrorHandler(handler types.ErrorHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorHandler = handler
}

// SetLogger sets the logger; nil keeps the current one
func (w *Worker) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger = logger.With("worker_id", w.id)
}

// SetStartCallback sets the callback invoked before each task runs
func (w *Worker) SetStartCallback(callback func(workerID int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startCallback = callback
}

// SetCompletionCallback sets the task completion callback
func (w *Worker) SetCompletionCallback(callback func(workerID int, d time.Duration, failed bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completionCallback = callback
}

// Run services the queue until it is disconnected. ctx is handed to every
// task; cancelling it does not stop the worker.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer atomic.StoreInt32(&w.state, int32(WorkerStateStopped))

	for {
		task, err := w.queue.Receive()
		if err != nil {
			if !errors.Is(err, queue.ErrDisconnected) {
				w.exitErr = fmt.Errorf("worker %d: %w", w.id, err)
				w.log().Error("worker aborted", "error", err)
				return
			}
			w.log().Debug("worker stopped")
			return
		}
		w.processTask(ctx, task)
	}
}

// processTask processes a single task
func (w *Worker) processTask(ctx context.Context, task types.Task) {
	atomic.StoreInt32(&w.state, int32(WorkerStateWorking))
	defer atomic.StoreInt32(&w.state, int32(WorkerStateIdle))

	w.mu.RLock()
	startCallback := w.startCallback
	callback := w.completionCallback
	w.mu.RUnlock()

	if startCallback != nil {
		startCallback(w.id)
	}

	startTime := w.clock.Now()
	atomic.StoreInt64(&w.lastTaskTime, startTime.UnixNano())

	err := w.executeTask(ctx, task)

	executionTime := w.clock.Since(startTime)

	failed := err != nil
	if failed {
		atomic.AddInt64(&w.totalFailed, 1)
		w.handleError(err, task, executionTime)
	} else {
		atomic.AddInt64(&w.totalProcessed, 1)
		w.log().Debug("task completed", "task_id", task.ID(), "duration", executionTime)
	}

	if callback != nil {
		callback(w.id, executionTime, failed)
	}
}

// executeTask executes a task with panic recovery support
func (w *Worker) executeTask(ctx context.Context, task types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)

			var cause error
			switch v := r.(type) {
			case error:
				cause = fmt.Errorf("%w: %w", types.ErrTaskPanicked, v)
			default:
				cause = fmt.Errorf("%w: %v", types.ErrTaskPanicked, v)
			}

			err = types.NewTaskError(task.ID(), w.id, cause).
				WithContext("stack_trace", string(buf[:n]))
		}
	}()

	if execErr := task.Execute(ctx, w.id); execErr != nil {
		var taskErr *types.TaskError
		if errors.As(execErr, &taskErr) {
			return execErr
		}
		return types.NewTaskError(task.ID(), w.id, execErr)
	}
	return nil
}

// handleError reports a task failure; the worker keeps serving afterwards
func (w *Worker) handleError(err error, task types.Task, d time.Duration) {
	w.mu.RLock()
	handler := w.errorHandler
	w.mu.RUnlock()

	w.log().Warn("task failed", "task_id", task.ID(), "duration", d, "error", err)

	if handler != nil {
		if handledErr := handler(err); handledErr != nil {
			w.log().Error("error handler failed", "task_id", task.ID(), "error", handledErr)
		}
	}
}

func (w *Worker) log() *slog.Logger {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.logger
}

// Done returns a channel closed once the worker has stopped
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Join blocks until the worker has stopped or ctx is done
func (w *Worker) Join(ctx context.Context) error {
	select {
	case <-w.done:
		return w.exitErr
	case <-ctx.Done():
		return fmt.Errorf("worker %d join: %w", w.id, ctx.Err())
	}
}

// Err returns the abnormal exit error, if the worker has stopped with one
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.exitErr
	default:
		return nil
	}
}

// Stats gets Worker statistics
func (w *Worker) Stats() WorkerStats {
	var last time.Time
	if ns := atomic.LoadInt64(&w.lastTaskTime); ns != 0 {
		last = time.Unix(0, ns)
	}
	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		TotalProcessed: atomic.LoadInt64(&w.totalProcessed),
		TotalFailed:    atomic.LoadInt64(&w.totalFailed),
		LastTaskTime:   last,
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID             int
	State          WorkerState
	TotalProcessed int64
	TotalFailed    int64
	LastTaskTime   time.Time
}

// IsActive checks if Worker is active
func (ws WorkerStats) IsActive() bool {
	return ws.State == WorkerStateWorking
}

// IsIdle checks if Worker is idle
func (ws WorkerStats) IsIdle() bool {
	return ws.State == WorkerStateIdle
}

// GetSuccessRate gets the success rate
func (ws WorkerStats) GetSuccessRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalProcessed) / float64(total)
}

// GetErrorRate gets the error rate
func (ws WorkerStats) GetErrorRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalFailed) / float64(total)
}
