package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/common/redis"
)

const (
	streamPrefix  = "jobs."
	consumerGroup = "engine-workers"
)

// RedisQueue is a Redis Streams backed Queue. Each lane maps to a stream
// jobs.<lane> consumed through a shared consumer group, which gives
// at-least-once delivery across engine replicas.
type RedisQueue struct {
	client   *redis.Client
	consumer string
	log      redis.Logger

	mu     sync.Mutex
	groups map[string]bool
	timers map[*time.Timer]struct{}
	closed bool
}

// NewRedisQueue creates a Redis-backed queue. consumer names this process
// inside the consumer group.
func NewRedisQueue(client *redis.Client, consumer string, log redis.Logger) *RedisQueue {
	return &RedisQueue{
		client:   client,
		consumer: consumer,
		log:      log,
		groups:   make(map[string]bool),
		timers:   make(map[*time.Timer]struct{}),
	}
}

func streamFor(lane string) string {
	return streamPrefix + lane
}

func (q *RedisQueue) ensureGroup(ctx context.Context, lane string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.groups[lane] {
		return nil
	}
	if err := q.client.CreateStreamGroup(ctx, streamFor(lane), consumerGroup); err != nil {
		return err
	}
	q.groups[lane] = true
	return nil
}

// Enqueue appends the job to its lane's stream.
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	if err := q.ensureGroup(ctx, job.Lane); err != nil {
		return err
	}
	_, err := q.client.AddToStream(ctx, streamFor(job.Lane), map[string]interface{}{
		"id":          job.ID,
		"run_id":      job.RunID,
		"node_id":     job.NodeID,
		"attempt":     job.Attempt,
		"enqueued_at": job.EnqueuedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("enqueue job %s on lane %s: %w", job.ID, job.Lane, err)
	}
	return nil
}

// EnqueueAfter appends the job after the delay. The delay timer lives in this
// process; if it dies before firing, the stale-run reaper surfaces the run.
func (q *RedisQueue) EnqueueAfter(ctx context.Context, job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := q.Enqueue(bg, job); err != nil {
			q.log.Error("delayed enqueue failed", "job_id", job.ID, "lane", job.Lane, "error", err)
		}
	})
	q.timers[timer] = struct{}{}
	q.mu.Unlock()
	return nil
}

// Consume reads jobs from the lane's stream until ctx is canceled. Messages
// are acked after the handler returns; the engine owns retries, so a handler
// error is logged, acked, and consumption continues.
func (q *RedisQueue) Consume(ctx context.Context, lane string, handler Handler) error {
	if err := q.ensureGroup(ctx, lane); err != nil {
		return err
	}
	stream := streamFor(lane)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := q.client.ReadFromStreamGroup(ctx, consumerGroup, q.consumer, stream, 10, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Error("lane read failed", "lane", lane, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				job := decodeJob(lane, msg.Values)
				if err := handler(ctx, job); err != nil {
					q.log.Error("job handler failed", "job_id", job.ID, "lane", lane, "error", err)
				}
				if err := q.client.AckStreamMessage(ctx, stream, consumerGroup, msg.ID); err != nil {
					q.log.Warn("job ack failed", "message_id", msg.ID, "lane", lane, "error", err)
				}
			}
		}
	}
}

func decodeJob(lane string, values map[string]interface{}) *Job {
	job := &Job{Lane: lane}
	if v, ok := values["id"].(string); ok {
		job.ID = v
	}
	if v, ok := values["run_id"].(string); ok {
		job.RunID = v
	}
	if v, ok := values["node_id"].(string); ok {
		job.NodeID = v
	}
	if v, ok := values["attempt"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempt = n
		}
	}
	if v, ok := values["enqueued_at"].(string); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			job.EnqueuedAt = time.UnixMilli(ms).UTC()
		}
	}
	return job
}

// Depth reports the lane's stream length.
func (q *RedisQueue) Depth(ctx context.Context, lane string) (int64, error) {
	return q.client.StreamLength(ctx, streamFor(lane))
}

// Close stops pending delayed timers.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	return nil
}
