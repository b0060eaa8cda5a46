package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/jzx17/gopool/pkg/metrics"
	"github.com/jzx17/gopool/pkg/queue"
	"github.com/jzx17/gopool/pkg/types"
)

// FixedWorkerPoolConfig defines configuration for fixed worker pool
type FixedWorkerPoolConfig struct {
	// PoolSize is the number of workers; it must be positive
	PoolSize int

	// Name labels logs and metrics
	Name string

	// Clock for time operations (optional, defaults to real clock)
	Clock quartz.Clock

	// Logger (optional, defaults to slog.Default())
	Logger *slog.Logger

	// ErrorHandler is called with every task failure
	ErrorHandler types.ErrorHandler

	// Metrics (optional)
	Metrics *metrics.PoolMetrics
}

// DefaultFixedWorkerPoolConfig returns default configuration
func DefaultFixedWorkerPoolConfig() *FixedWorkerPoolConfig {
	return &FixedWorkerPoolConfig{
		PoolSize: 4,
		Name:     "default",
		Clock:    quartz.NewReal(),
		Logger:   slog.Default(),
	}
}

// FixedWorkerPool implements a fixed-size worker pool over an unbounded queue
type FixedWorkerPool struct {
	config  FixedWorkerPoolConfig
	workers []*Worker
	queue   *queue.Channel[types.Task]
	logger  *slog.Logger

	state int32 // types.PoolState

	submitted int64
	completed int64
	failed    int64

	// shutdown progress, guarded by shutdownMu; never held while waiting
	shutdownMu sync.Mutex
	joined     int
	exitErrs   []error
}

// NewFixedWorkerPool creates the pool and starts its workers
func NewFixedWorkerPool(config *FixedWorkerPoolConfig) (*FixedWorkerPool, error) {
	return NewFixedWorkerPoolWithContext(context.Background(), config)
}

// NewFixedWorkerPoolWithContext is like NewFixedWorkerPool; ctx is passed to
// every task. Cancelling ctx does not stop the workers.
func NewFixedWorkerPoolWithContext(ctx context.Context, config *FixedWorkerPoolConfig) (*FixedWorkerPool, error) {
	if config == nil {
		config = DefaultFixedWorkerPoolConfig()
	}

	// parameter validation happens before any worker exists
	if config.PoolSize <= 0 {
		return nil, fmt.Errorf("%w, got %d", types.ErrInvalidPoolSize, config.PoolSize)
	}

	cfg := *config
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	p := &FixedWorkerPool{
		config:  cfg,
		workers: make([]*Worker, cfg.PoolSize),
		queue:   queue.New[types.Task](),
		logger:  cfg.Logger.With("pool", cfg.Name),
		state:   int32(types.StateOpen),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		w := NewWorkerWithClock(i, p.queue, cfg.Clock)
		w.SetLogger(p.logger)
		if cfg.ErrorHandler != nil {
			w.SetErrorHandler(cfg.ErrorHandler)
		}
		w.SetStartCallback(p.onTaskStart)
		w.SetCompletionCallback(p.onTaskDone)
		p.workers[i] = w
	}

	for _, w := range p.workers {
		go w.Run(ctx)
	}

	cfg.Metrics.SetWorkerCount(cfg.Name, cfg.PoolSize)
	p.logger.Info("worker pool started", "size", cfg.PoolSize)

	return p, nil
}

// MustNewFixedWorkerPool is like NewFixedWorkerPool but panics on invalid configuration
func MustNewFixedWorkerPool(config *FixedWorkerPoolConfig) *FixedWorkerPool {
	p, err := NewFixedWorkerPool(config)
	if err != nil {
		panic(err)
	}
	return p
}

// Execute enqueues a task and returns immediately. The task outcome is only
// reported through logs, the error handler and metrics.
func (p *FixedWorkerPool) Execute(task types.Task) error {
	if task == nil {
		return types.ErrNilTask
	}

	if types.PoolState(atomic.LoadInt32(&p.state)) != types.StateOpen {
		p.config.Metrics.RecordTaskRejected(p.config.Name)
		return types.ErrPoolClosed
	}

	if err := p.queue.Send(task); err != nil {
		p.config.Metrics.RecordTaskRejected(p.config.Name)
		if errors.Is(err, queue.ErrDisconnected) {
			return types.ErrPoolClosed
		}
		return fmt.Errorf("enqueue task %s: %w", task.ID(), err)
	}

	atomic.AddInt64(&p.submitted, 1)
	p.config.Metrics.RecordTaskSubmitted(p.config.Name)
	p.config.Metrics.SetQueueLength(p.config.Name, p.queue.Len())
	return nil
}

// ExecuteFunc enqueues fn as a task
func (p *FixedWorkerPool) ExecuteFunc(fn TaskFunc) error {
	if fn == nil {
		return types.ErrNilTask
	}
	return p.Execute(NewBasicTask(fn))
}

// Shutdown stops accepting tasks, lets workers drain the queue and joins them
// in ascending id order. Every caller waits against its own ctx; if ctx ends
// first the pool stays Closing and a later call resumes joining. Once Closed,
// Shutdown is a no-op.
func (p *FixedWorkerPool) Shutdown(ctx context.Context) error {
	p.shutdownMu.Lock()
	if p.State() == types.StateClosed {
		p.shutdownMu.Unlock()
		return nil
	}
	if atomic.CompareAndSwapInt32(&p.state, int32(types.StateOpen), int32(types.StateClosing)) {
		p.logger.Info("worker pool closing", "pending", p.queue.Len())
		p.queue.Close()
	}
	next := p.joined
	p.shutdownMu.Unlock()

	for i := next; i < len(p.workers); i++ {
		w := p.workers[i]
		select {
		case <-w.Done():
		case <-ctx.Done():
			return fmt.Errorf("shutdown interrupted waiting for worker %d: %w", w.ID(), ctx.Err())
		}
		p.markJoined(i)
	}

	return p.finishShutdown()
}

// markJoined records worker i as joined. Callers join in id order, so i is
// never ahead of p.joined.
func (p *FixedWorkerPool) markJoined(i int) {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	if i < p.joined {
		return
	}
	if err := p.workers[i].Err(); err != nil {
		p.exitErrs = append(p.exitErrs, err)
	}
	p.joined = i + 1
	p.config.Metrics.SetWorkerCount(p.config.Name, len(p.workers)-p.joined)
}

// finishShutdown moves the pool to Closed. Only the caller that makes the
// transition gets the aggregated worker exit errors.
func (p *FixedWorkerPool) finishShutdown() error {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	if !atomic.CompareAndSwapInt32(&p.state, int32(types.StateClosing), int32(types.StateClosed)) {
		return nil
	}
	p.logger.Info("worker pool closed",
		"completed", atomic.LoadInt64(&p.completed),
		"failed", atomic.LoadInt64(&p.failed))
	return errors.Join(p.exitErrs...)
}

// Close shuts the pool down without a deadline
func (p *FixedWorkerPool) Close() error {
	return p.Shutdown(context.Background())
}

func (p *FixedWorkerPool) onTaskStart(int) {
	p.config.Metrics.AddActiveWorkers(p.config.Name, 1)
	p.config.Metrics.SetQueueLength(p.config.Name, p.queue.Len())
}

func (p *FixedWorkerPool) onTaskDone(_ int, d time.Duration, failed bool) {
	if failed {
		atomic.AddInt64(&p.failed, 1)
	} else {
		atomic.AddInt64(&p.completed, 1)
	}
	p.config.Metrics.AddActiveWorkers(p.config.Name, -1)
	p.config.Metrics.ObserveTask(p.config.Name, d, failed)
}

// Size returns the worker pool size
func (p *FixedWorkerPool) Size() int {
	return p.config.PoolSize
}

// Name returns the pool name
func (p *FixedWorkerPool) Name() string {
	return p.config.Name
}

// State returns the lifecycle state
func (p *FixedWorkerPool) State() types.PoolState {
	return types.PoolState(atomic.LoadInt32(&p.state))
}

// WorkerIDs returns the worker identities in ascending order
func (p *FixedWorkerPool) WorkerIDs() []int {
	ids := make([]int, len(p.workers))
	for i, w := range p.workers {
		ids[i] = w.ID()
	}
	return ids
}

// Stats gets basic worker pool statistics
func (p *FixedWorkerPool) Stats() types.WorkerPoolStats {
	var activeWorkers int
	for _, w := range p.workers {
		if w.State() == WorkerStateWorking {
			activeWorkers++
		}
	}

	return types.WorkerPoolStats{
		PoolSize:      p.config.PoolSize,
		ActiveWorkers: activeWorkers,
		QueueLength:   p.queue.Len(),
		Submitted:     atomic.LoadInt64(&p.submitted),
		Completed:     atomic.LoadInt64(&p.completed),
		Failed:        atomic.LoadInt64(&p.failed),
		State:         p.State(),
	}
}

// GetWorkerStats gets statistics of all Workers
func (p *FixedWorkerPool) GetWorkerStats() []WorkerStats {
	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.Stats()
	}
	return stats
}

// IsOpen checks if the pool accepts tasks
func (p *FixedWorkerPool) IsOpen() bool {
	return p.State() == types.StateOpen
}

// IsClosed checks if every worker has stopped
func (p *FixedWorkerPool) IsClosed() bool {
	return p.State() == types.StateClosed
}

// QueueLength gets the current queue length
func (p *FixedWorkerPool) QueueLength() int {
	return p.queue.Len()
}

var _ types.WorkerPool = (*FixedWorkerPool)(nil)
