package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes one job's payload. Returning an error triggers Retry;
// ControlError (from pkg/executor) vs a plain error both count as failures
// here — the distinction between "target down" and "probe broken" is made
// by the caller inside Handler, not by the queue.
type Handler func(ctx context.Context, job *Job) error

// WorkerPool binds a named queue to a Handler with bounded concurrency and
// CircuitBreaker-gated admission, generalizing itskum47-FluxForge's
// worker-pool-over-TaskQueue shape to pop from Redis instead of an
// in-process heap.
type WorkerPool struct {
	registry *Registry
	breaker  *CircuitBreaker
	queue    string
	handler  Handler
	log      *slog.Logger

	concurrency int
	inFlight    int64

	popTimeout time.Duration
}

// WorkerPoolOptions configures a WorkerPool.
type WorkerPoolOptions struct {
	Concurrency     int
	QueueThreshold  int // CircuitBreaker admission threshold (queue depth)
	PopTimeout      time.Duration
}

// NewWorkerPool constructs a pool. A CircuitBreaker is created internally
// scoped to this queue, per spec.md §6.2's "one breaker per worker pool."
func NewWorkerPool(registry *Registry, queueName string, handler Handler, log *slog.Logger, opts WorkerPoolOptions) *WorkerPool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.QueueThreshold <= 0 {
		opts.QueueThreshold = 1000
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 2 * time.Second
	}
	return &WorkerPool{
		registry:    registry,
		breaker:     NewCircuitBreaker(opts.QueueThreshold),
		queue:       queueName,
		handler:     handler,
		log:         log,
		concurrency: opts.Concurrency,
		popTimeout:  opts.PopTimeout,
	}
}

// Run starts the pool's dispatch loop and blocks until ctx is cancelled.
// A semaphore of size concurrency bounds simultaneous handler executions;
// each worker slot independently pops and processes jobs.
func (wp *WorkerPool) Run(ctx context.Context) {
	// Delayed and retried jobs only reach the ready list via the promoter.
	go wp.registry.RunPromoter(ctx, wp.queue, 500*time.Millisecond)

	var wg sync.WaitGroup
	sem := make(chan struct{}, wp.concurrency)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		saturation := float64(atomic.LoadInt64(&wp.inFlight)) / float64(wp.concurrency)
		depth, err := wp.registry.Depth(ctx, wp.queue)
		if err != nil {
			wp.log.Error("queue: failed to read depth", "queue", wp.queue, "error", err)
			<-sem
			continue
		}
		if !wp.breaker.ShouldAdmit(depth, saturation) {
			wp.log.Warn("queue: circuit open, backing off admission", "queue", wp.queue, "state", wp.breaker.State().String())
			<-sem
			time.Sleep(500 * time.Millisecond)
			continue
		}

		job, err := wp.registry.Pop(ctx, wp.queue, wp.popTimeout)
		if err != nil {
			wp.log.Error("queue: pop failed", "queue", wp.queue, "error", err)
			<-sem
			continue
		}
		if job == nil {
			<-sem
			continue
		}

		wg.Add(1)
		atomic.AddInt64(&wp.inFlight, 1)
		go func(j *Job) {
			defer wg.Done()
			defer atomic.AddInt64(&wp.inFlight, -1)
			defer func() { <-sem }()
			wp.process(ctx, j)
		}(job)
	}
}

func (wp *WorkerPool) process(ctx context.Context, job *Job) {
	err := wp.handler(ctx, job)
	if err == nil {
		wp.breaker.RecordSuccess()
		if cerr := wp.registry.Complete(ctx, wp.queue, job.ID); cerr != nil {
			wp.log.Error("queue: failed to mark job complete", "job", job.ID, "error", cerr)
		}
		return
	}

	wp.breaker.RecordFailure()
	wp.log.Warn("queue: job failed", "queue", wp.queue, "job", job.ID, "attempt", job.Attempt+1, "error", err)
	exhausted, rerr := wp.registry.Retry(ctx, job)
	if rerr != nil {
		wp.log.Error("queue: failed to schedule retry", "job", job.ID, "error", rerr)
		return
	}
	if exhausted {
		wp.log.Error("queue: job exhausted retries", "queue", wp.queue, "job", job.ID, "maxAttempt", job.MaxAttempt)
	}
}
