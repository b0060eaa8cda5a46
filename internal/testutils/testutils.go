// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"bytes"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Execution is one recorded task run
type Execution struct {
	Seq      int
	WorkerID int
}

// Recorder collects task executions from many workers
type Recorder struct {
	mu   sync.Mutex
	runs []Execution
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends an execution
func (r *Recorder) Record(seq, workerID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, Execution{Seq: seq, WorkerID: workerID})
}

// Len returns the number of recorded executions
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Executions returns a copy of the executions in recording order
func (r *Recorder) Executions() []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Execution, len(r.runs))
	copy(out, r.runs)
	return out
}

// SeqCounts returns how many times each sequence index ran
func (r *Recorder) SeqCounts() map[int]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[int]int, len(r.runs))
	for _, e := range r.runs {
		counts[e.Seq]++
	}
	return counts
}

// WorkerIDs returns the distinct worker IDs seen, sorted
func (r *Recorder) WorkerIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[int]struct{})
	for _, e := range r.runs {
		set[e.WorkerID] = struct{}{}
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AssertExactlyOnce asserts every index in [0, n) ran exactly once
func (r *Recorder) AssertExactlyOnce(t testing.TB, n int) bool {
	t.Helper()
	counts := r.SeqCounts()
	ok := assert.Len(t, counts, n)
	for i := 0; i < n; i++ {
		ok = assert.Equal(t, 1, counts[i], "task %d ran %d times", i, counts[i]) && ok
	}
	return ok
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// LogBuffer is a concurrency-safe log sink
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewBufferLogger returns a debug-level logger writing into a LogBuffer
func NewBufferLogger() (*slog.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// WaitClosed fails the test if ch is not closed within timeout
func WaitClosed(t testing.TB, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...interface{}) bool {
	t.Helper()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return assert.Fail(t, "timed out waiting for channel close", msgAndArgs...)
	}
}
