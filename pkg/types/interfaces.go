// Package types defines core interfaces and types for the worker pool library
package types

import (
	"context"
)

// Task defines the task interface
type Task interface {
	// Execute runs the task on the worker identified by workerID.
	// A returned error is reported as a task failure and never stops the worker.
	Execute(ctx context.Context, workerID int) error

	// ID returns the task ID (for tracking and logging)
	ID() string
}

// WorkerPool defines the worker pool interface
type WorkerPool interface {
	// Execute enqueues a task. It never blocks waiting for a worker.
	Execute(task Task) error

	// Shutdown stops accepting tasks, drains the queue and joins every worker
	Shutdown(ctx context.Context) error

	// Close is Shutdown without a deadline
	Close() error

	// Size returns the number of workers
	Size() int

	// State returns the lifecycle state
	State() PoolState

	// Stats returns worker pool statistics
	Stats() WorkerPoolStats
}

// PoolState defines the lifecycle state of a WorkerPool
type PoolState int32

const (
	// StateOpen accepts new tasks
	StateOpen PoolState = iota
	// StateClosing rejects new tasks while workers drain the queue
	StateClosing
	// StateClosed means every worker has stopped
	StateClosed
)

// String returns the string representation of PoolState
func (ps PoolState) String() string {
	switch ps {
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// WorkerPoolStats defines basic statistics for worker pools
type WorkerPoolStats struct {
	// PoolSize is the size of the pool
	PoolSize int

	// ActiveWorkers is the number of workers currently executing a task
	ActiveWorkers int

	// QueueLength is the current number of tasks waiting in the queue
	QueueLength int

	// Submitted is the number of tasks accepted by Execute
	Submitted int64

	// Completed is the number of tasks that returned nil
	Completed int64

	// Failed is the number of tasks that returned an error or panicked
	Failed int64

	// State is the lifecycle state at the time of the snapshot
	State PoolState
}

// Pending returns the number of accepted tasks that have not finished yet
func (s WorkerPoolStats) Pending() int64 {
	return s.Submitted - s.Completed - s.Failed
}

// ErrorHandler is called with every task failure. Its return value is ignored
// by the pool; a non-nil result is only logged.
type ErrorHandler func(error) error
