/*
Package worker provides a fixed-size worker pool over a shared unbounded FIFO queue.

# Overview

A FixedWorkerPool owns N long-lived worker goroutines and the sending side of
a queue.Channel. Callers hand tasks to Execute, which never blocks; whichever
idle worker receives a task first runs it. Workers keep serving until the
queue is closed and drained.

# Core Components

## FixedWorkerPool

- Workers are spawned by the constructor; a pool size of zero is rejected
  before anything starts
- Execute enqueues and returns immediately, fire-and-forget
- Shutdown stops intake, lets the queue drain and joins workers in
  ascending id order
- Logging through log/slog, optional Prometheus metrics

## Worker

A worker is Idle while blocked on the queue, Working while running a task and
Stopped once the queue reports disconnection. A task that returns an error or
panics is counted, logged and handed to the ErrorHandler. The worker then goes
back to the queue.

## Task

Tasks implement types.Task. TaskFunc adapts a plain function and BasicTask
adds a unique ID for logs.

# Lifecycle

	Open --Shutdown--> Closing --all workers joined--> Closed

Execute returns types.ErrPoolClosed once the pool has left Open. Shutdown on a
Closed pool is a no-op. If the context given to Shutdown ends first, the pool
stays Closing and a later Shutdown resumes joining where it stopped.

# Error Handling

- Task failures never stop a worker; they surface as *types.TaskError
- Panics are recovered and wrapped with types.ErrTaskPanicked and a stack trace
- A poisoned queue aborts its workers; Shutdown returns the joined exit errors

# Usage Examples

Basic usage:

	pool, err := worker.NewFixedWorkerPool(&worker.FixedWorkerPoolConfig{
		PoolSize: 4,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	err = pool.ExecuteFunc(func(ctx context.Context, workerID int) error {
		log.Printf("running on worker %d", workerID)
		return nil
	})

Bounded shutdown:

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}

Retrieve statistics:

	stats := pool.Stats()
	fmt.Printf("Active Workers: %d/%d\n", stats.ActiveWorkers, stats.PoolSize)
	fmt.Printf("Completed: %d Failed: %d Pending: %d\n",
		stats.Completed, stats.Failed, stats.Pending())
*/
package worker
