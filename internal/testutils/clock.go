package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
)

// NewMockClock creates a mock clock for testing
func NewMockClock(t testing.TB) *quartz.Mock {
	return quartz.NewMock(t)
}

// AdvanceTask returns a task body that moves the mock clock forward by d,
// so the worker measures exactly d for it
func AdvanceTask(mock *quartz.Mock, d time.Duration) func(ctx context.Context, workerID int) error {
	return func(ctx context.Context, workerID int) error {
		mock.Advance(d).MustWait(ctx)
		return nil
	}
}
