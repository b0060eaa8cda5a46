// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrPoolClosed indicates the pool no longer accepts tasks
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrInvalidPoolSize indicates a pool was configured with no workers
	ErrInvalidPoolSize = errors.New("pool size must be positive")

	// ErrNilTask indicates a nil task was submitted
	ErrNilTask = errors.New("task cannot be nil")

	// ErrTaskPanicked indicates a task panicked while executing
	ErrTaskPanicked = errors.New("task panicked")
)

// TaskError describes a failure of a single task on a worker
type TaskError struct {
	// TaskID is the ID of the failed task
	TaskID string

	// WorkerID is the worker that executed the task
	WorkerID int

	// Cause is the underlying error
	Cause error

	// Context contains error context information
	Context map[string]interface{}
}

// NewTaskError creates a new task error
func NewTaskError(taskID string, workerID int, cause error) *TaskError {
	return &TaskError{
		TaskID:   taskID,
		WorkerID: workerID,
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed on worker %d: %v", e.TaskID, e.WorkerID, e.Cause)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// WithContext adds error context
func (e *TaskError) WithContext(key string, value interface{}) *TaskError {
	e.Context[key] = value
	return e
}

// IsTaskPanic reports whether err came from a recovered task panic
func IsTaskPanic(err error) bool {
	return errors.Is(err, ErrTaskPanicked)
}
