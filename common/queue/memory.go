package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryQueue is a channel-backed Queue for tests and single-process runs.
type MemoryQueue struct {
	mu     sync.Mutex
	lanes  map[string]chan *Job
	timers map[*time.Timer]struct{}
	closed atomic.Bool
	size   int
}

// NewMemoryQueue creates a memory queue with the given per-lane buffer size.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		lanes:  make(map[string]chan *Job),
		timers: make(map[*time.Timer]struct{}),
		size:   size,
	}
}

func (q *MemoryQueue) lane(name string) chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.lanes[name]
	if !ok {
		ch = make(chan *Job, q.size)
		q.lanes[name] = ch
	}
	return ch
}

// Enqueue appends the job to its lane.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	if q.closed.Load() {
		return fmt.Errorf("queue closed")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case q.lane(job.Lane) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueAfter appends the job to its lane after the delay.
func (q *MemoryQueue) EnqueueAfter(ctx context.Context, job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	if q.closed.Load() {
		return fmt.Errorf("queue closed")
	}

	q.mu.Lock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		if q.closed.Load() {
			return
		}
		select {
		case q.lane(job.Lane) <- job:
		default:
			// Lane full after the delay; the job is lost here but the
			// stale-run reaper will surface the stuck run.
		}
	})
	q.timers[timer] = struct{}{}
	q.mu.Unlock()
	return nil
}

// Consume feeds jobs from the lane to the handler until ctx is canceled.
func (q *MemoryQueue) Consume(ctx context.Context, lane string, handler Handler) error {
	ch := q.lane(lane)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-ch:
			if !ok {
				return nil
			}
			if err := handler(ctx, job); err != nil {
				return err
			}
		}
	}
}

// Depth reports the number of jobs waiting on the lane.
func (q *MemoryQueue) Depth(ctx context.Context, lane string) (int64, error) {
	return int64(len(q.lane(lane))), nil
}

// Close stops delayed timers and marks the queue closed.
func (q *MemoryQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	return nil
}
