// Package worker provides worker pool implementations
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
)

// taskIDCounter is the global task ID counter
var taskIDCounter int64

// TaskFunc adapts a plain function to the Task interface
type TaskFunc func(ctx context.Context, workerID int) error

// Execute executes the function
func (f TaskFunc) Execute(ctx context.Context, workerID int) error {
	return f(ctx, workerID)
}

// ID returns a fixed ID; use BasicTask when tasks must be told apart
func (f TaskFunc) ID() string {
	return "func"
}

// BasicTask is the basic implementation of Task interface
type BasicTask struct {
	id string
	fn TaskFunc
}

// NewBasicTask creates a new basic task
func NewBasicTask(fn TaskFunc) *BasicTask {
	id := atomic.AddInt64(&taskIDCounter, 1)
	return &BasicTask{
		id: fmt.Sprintf("task-%d", id),
		fn: fn,
	}
}

// NewBasicTaskWithID creates a basic task with custom ID
func NewBasicTaskWithID(id string, fn TaskFunc) *BasicTask {
	return &BasicTask{
		id: id,
		fn: fn,
	}
}

// Execute executes the task
func (t *BasicTask) Execute(ctx context.Context, workerID int) error {
	if t.fn == nil {
		return fmt.Errorf("task %s has no execution function", t.id)
	}
	return t.fn(ctx, workerID)
}

// ID returns the task ID
func (t *BasicTask) ID() string {
	return t.id
}
