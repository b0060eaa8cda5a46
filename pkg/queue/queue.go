// Package queue provides the unbounded FIFO hand-off channel shared by pool workers
package queue

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDisconnected is returned once the channel is closed and fully drained
	ErrDisconnected = errors.New("queue disconnected")

	// ErrPoisoned marks a channel whose internal state can no longer be trusted
	ErrPoisoned = errors.New("queue poisoned")
)

// PoisonError wraps the failure that poisoned a channel
type PoisonError struct {
	Cause error
}

// Error implements the error interface
func (e *PoisonError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPoisoned, e.Cause)
}

// Unwrap returns the poisoning cause
func (e *PoisonError) Unwrap() error {
	return e.Cause
}

// Is reports ErrPoisoned for every PoisonError
func (e *PoisonError) Is(target error) bool {
	return target == ErrPoisoned
}

const minCapacity = 16

// Channel is an unbounded multi-producer, multi-consumer FIFO.
// Send never blocks. Receive blocks until an item is available or the
// channel is closed and empty.
type Channel[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	// ring buffer; count items starting at head
	buf   []T
	head  int
	count int

	closed bool
	poison *PoisonError
}

// New creates an empty open channel
func New[T any]() *Channel[T] {
	c := &Channel[T]{
		buf: make([]T, minCapacity),
	}
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// Send appends v to the tail of the queue
func (c *Channel[T]) Send(v T) error {
	return c.withLock(func() error {
		if c.poison != nil {
			return c.poison
		}
		if c.closed {
			return ErrDisconnected
		}
		c.push(v)
		c.notEmpty.Signal()
		return nil
	})
}

// Receive removes and returns the head of the queue, blocking while the queue
// is empty and open. Items sent before Close are still delivered; after that
// ErrDisconnected is returned.
func (c *Channel[T]) Receive() (T, error) {
	var v T
	err := c.withLock(func() error {
		for c.count == 0 && !c.closed && c.poison == nil {
			c.notEmpty.Wait()
		}
		if c.poison != nil {
			return c.poison
		}
		if c.count == 0 {
			return ErrDisconnected
		}
		v = c.pop()
		return nil
	})
	return v, err
}

// TryReceive is the non-blocking form of Receive. ok is false when the queue
// is empty; err is set once the channel is disconnected or poisoned.
func (c *Channel[T]) TryReceive() (v T, ok bool, err error) {
	err = c.withLock(func() error {
		if c.poison != nil {
			return c.poison
		}
		if c.count == 0 {
			if c.closed {
				return ErrDisconnected
			}
			return nil
		}
		v = c.pop()
		ok = true
		return nil
	})
	return v, ok, err
}

// Close disconnects the channel and wakes all blocked receivers.
// Calling Close more than once is a no-op.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.notEmpty.Broadcast()
}

// Poison marks the channel unusable. Every blocked and future Send or
// Receive returns a *PoisonError wrapping cause. Pending items are discarded.
func (c *Channel[T]) Poison(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poisonLocked(cause)
}

// Len returns the number of pending items
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// IsClosed reports whether Close has been called
func (c *Channel[T]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Err returns the poison error, if any
func (c *Channel[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poison == nil {
		return nil
	}
	return c.poison
}

// withLock runs fn under the mutex. A panic inside the critical section
// leaves the buffer in an unknown state, so it poisons the channel instead
// of leaving other goroutines blocked forever.
func (c *Channel[T]) withLock(fn func() error) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			c.poisonLocked(fmt.Errorf("panic in critical section: %v", r))
			err = c.poison
		}
	}()
	return fn()
}

func (c *Channel[T]) poisonLocked(cause error) {
	if c.poison != nil {
		return
	}
	if cause == nil {
		cause = errors.New("unknown cause")
	}
	c.poison = &PoisonError{Cause: cause}
	var zero T
	for i := range c.buf {
		c.buf[i] = zero
	}
	c.count = 0
	c.head = 0
	c.notEmpty.Broadcast()
}

func (c *Channel[T]) push(v T) {
	if c.count == len(c.buf) {
		c.grow()
	}
	c.buf[(c.head+c.count)%len(c.buf)] = v
	c.count++
}

func (c *Channel[T]) pop() T {
	var zero T
	v := c.buf[c.head]
	c.buf[c.head] = zero
	c.head = (c.head + 1) % len(c.buf)
	c.count--
	if c.count == 0 {
		c.head = 0
	}
	return v
}

func (c *Channel[T]) grow() {
	next := make([]T, len(c.buf)*2)
	n := copy(next, c.buf[c.head:])
	copy(next[n:], c.buf[:c.head])
	c.buf = next
	c.head = 0
}
