// Package queue implements the abstract job-queue contract of spec.md §6
// (`add(name, data, opts)`, per-queue concurrency, at-least-once delivery,
// exponential backoff, delayed jobs) over Redis, replacing the teacher's
// total absence of a queue library and generalizing
// itskum47-FluxForge's in-process TaskQueue/ThreadSafeQueue heap-priority
// shape into one that survives process restarts and fans out across
// multiple worker processes, per spec.md §5's "stateless workers behind a
// shared queue broker."
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nightwatch/nightwatch/internal/idgen"
)

// Backoff describes the retry backoff policy for a queue.
type Backoff struct {
	Type  string        // "exponential"
	Delay time.Duration // initial delay
}

// AddOptions configures a single job add, mirroring spec.md §6's
// `opts{jobId, delay?, attempts, backoff:{type:'exponential', delay},
// removeOnComplete, removeOnFail}`.
type AddOptions struct {
	JobID            string
	Delay            time.Duration
	Attempts         int
	Backoff          Backoff
	RemoveOnComplete int
	RemoveOnFail     int
}

// DefaultOptions mirrors the notification dispatcher's per-job guarantees
// from spec.md §4.5: attempts:5, backoff 1s→16s, removeOnComplete/Fail:100.
func DefaultOptions() AddOptions {
	return AddOptions{
		Attempts:         5,
		Backoff:          Backoff{Type: "exponential", Delay: time.Second},
		RemoveOnComplete: 100,
		RemoveOnFail:     100,
	}
}

// Job is one unit of work moving through a queue.
type Job struct {
	ID        string          `json:"id"`
	Queue     string          `json:"queue"`
	Data      json.RawMessage `json:"data"`
	Attempt   int             `json:"attempt"`
	MaxAttempt int            `json:"maxAttempt"`
	Backoff   Backoff         `json:"backoff"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Registry is a Redis-backed implementation of the queue contract. Each
// named queue keeps:
//   - a sorted set `nq:<name>:delayed` scored by the job's ready-at unix
//     millis, for scheduled/delayed jobs and retry backoff;
//   - a list `nq:<name>:ready` of job ids ready for immediate dispatch;
//   - a hash `nq:<name>:job:<id>` holding the job's JSON payload.
type Registry struct {
	rdb *redis.Client
}

// NewRegistry constructs a Registry against the given Redis client. This
// is the "QueueRegistry built at process start" Design Note §9 calls for,
// replacing module-level queue singletons.
func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

func readyKey(queueName string) string   { return "nq:" + queueName + ":ready" }
func delayedKey(queueName string) string { return "nq:" + queueName + ":delayed" }
func jobKey(queueName, id string) string { return "nq:" + queueName + ":job:" + id }

// Add enqueues data onto the named queue. A JobID is generated when empty;
// a caller-supplied JobID gives natural dedupe on retries (the scheduler's
// `{monitorId}-{now.epochMs}` job ids from spec.md §4.1 step 3).
func (r *Registry) Add(ctx context.Context, queueName string, data interface{}, opts AddOptions) (*Job, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Backoff.Delay <= 0 {
		opts.Backoff.Delay = time.Second
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to marshal job data: %w", err)
	}

	id := opts.JobID
	if id == "" {
		id = idgen.New(idgen.KindJob)
	}
	job := &Job{
		ID:         id,
		Queue:      queueName,
		Data:       payload,
		Attempt:    0,
		MaxAttempt: opts.Attempts,
		Backoff:    opts.Backoff,
		CreatedAt:  time.Now(),
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to marshal job: %w", err)
	}

	created, err := r.rdb.SetNX(ctx, jobKey(queueName, id), encoded, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: failed to enqueue job %s: %w", id, err)
	}
	if !created {
		// A job with this id is already pending; adding it again is a no-op.
		return job, nil
	}

	pipe := r.rdb.TxPipeline()
	if opts.Delay > 0 {
		readyAt := time.Now().Add(opts.Delay).UnixMilli()
		pipe.ZAdd(ctx, delayedKey(queueName), redis.Z{Score: float64(readyAt), Member: id})
	} else {
		pipe.LPush(ctx, readyKey(queueName), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: failed to enqueue job %s: %w", id, err)
	}
	return job, nil
}

// PromoteDue moves delayed jobs whose ready-at has passed into the ready
// list. Called periodically by a Registry.RunPromoter goroutine per queue.
func (r *Registry) PromoteDue(ctx context.Context, queueName string) (int, error) {
	now := float64(time.Now().UnixMilli())
	ids, err := r.rdb.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: failed to scan delayed jobs: %w", err)
	}
	for _, id := range ids {
		pipe := r.rdb.TxPipeline()
		pipe.ZRem(ctx, delayedKey(queueName), id)
		pipe.LPush(ctx, readyKey(queueName), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("queue: failed to promote job %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// RunPromoter runs PromoteDue on a short interval until ctx is cancelled.
func (r *Registry) RunPromoter(ctx context.Context, queueName string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.PromoteDue(ctx, queueName)
		}
	}
}

// Pop blocks (up to timeout) for the next ready job id and loads its
// payload. Returns (nil, nil) on timeout with no job available.
func (r *Registry) Pop(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	res, err := r.rdb.BRPop(ctx, timeout, readyKey(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: failed to pop job: %w", err)
	}
	id := res[1]
	raw, err := r.rdb.Get(ctx, jobKey(queueName, id)).Bytes()
	if err == redis.Nil {
		return nil, nil // job record expired/removed already
	}
	if err != nil {
		return nil, fmt.Errorf("queue: failed to load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("queue: failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// Complete removes a job's hash entry on success, respecting
// removeOnComplete semantics (kept simple: always remove — spec.md
// doesn't require retaining a history window beyond NotificationLog,
// which is already persisted to Postgres by the caller).
func (r *Registry) Complete(ctx context.Context, queueName, id string) error {
	return r.rdb.Del(ctx, jobKey(queueName, id)).Err()
}

// Retry re-enqueues a failed job with exponential backoff, capped at 16s
// per spec.md §4.5, or removes it once attempts are exhausted.
func (r *Registry) Retry(ctx context.Context, job *Job) (exhausted bool, err error) {
	job.Attempt++
	if job.Attempt >= job.MaxAttempt {
		return true, r.rdb.Del(ctx, jobKey(job.Queue, job.ID)).Err()
	}
	delay := job.Backoff.Delay << uint(job.Attempt-1)
	const cap16s = 16 * time.Second
	if delay > cap16s {
		delay = cap16s
	}
	encoded, merr := json.Marshal(job)
	if merr != nil {
		return false, fmt.Errorf("queue: failed to marshal retried job: %w", merr)
	}
	readyAt := time.Now().Add(delay).UnixMilli()
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.Queue, job.ID), encoded, 0)
	pipe.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: float64(readyAt), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return false, err
}

// Depth reports the number of jobs ready plus delayed in a queue, used by
// the CircuitBreaker to decide admission.
func (r *Registry) Depth(ctx context.Context, queueName string) (int, error) {
	ready, err := r.rdb.LLen(ctx, readyKey(queueName)).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := r.rdb.ZCard(ctx, delayedKey(queueName)).Result()
	if err != nil {
		return 0, err
	}
	return int(ready + delayed), nil
}
