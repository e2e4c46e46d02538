package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/common/redis"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

func TestLaneFor(t *testing.T) {
	assert.Equal(t, "http", LaneFor("http"))
	assert.Equal(t, "agent", LaneFor("agent"))
	assert.Equal(t, "timer", LaneFor("delay"))
	assert.Equal(t, DefaultLane, LaneFor("transform"))
	assert.Equal(t, DefaultLane, LaneFor("decision"))
	assert.Contains(t, Lanes(), DefaultLane)
}

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue(16)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i, id := range []string{"j1", "j2", "j3"} {
		require.NoError(t, q.Enqueue(ctx, &Job{ID: id, Lane: DefaultLane, Attempt: i}))
	}

	var got []string
	consumeCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Consume(consumeCtx, DefaultLane, func(_ context.Context, job *Job) error {
			got = append(got, job.ID)
			if len(got) == 3 {
				stop()
			}
			return nil
		})
	}()
	wg.Wait()

	assert.Equal(t, []string{"j1", "j2", "j3"}, got)
}

func TestMemoryQueue_EnqueueAfter(t *testing.T) {
	q := NewMemoryQueue(16)
	defer q.Close()
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, q.EnqueueAfter(ctx, &Job{ID: "late", Lane: DefaultLane}, 50*time.Millisecond))

	depth, err := q.Depth(ctx, DefaultLane)
	require.NoError(t, err)
	assert.Zero(t, depth, "delayed job must not be visible before its delay")

	assert.Eventually(t, func() bool {
		n, _ := q.Depth(ctx, DefaultLane)
		return n == 1
	}, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueue_LanesAreIndependent(t *testing.T) {
	q := NewMemoryQueue(16)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Job{ID: "h", Lane: "http"}))
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "d", Lane: DefaultLane}))

	httpDepth, _ := q.Depth(ctx, "http")
	defaultDepth, _ := q.Depth(ctx, DefaultLane)
	assert.Equal(t, int64(1), httpDepth)
	assert.Equal(t, int64(1), defaultDepth)
}

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), nopLogger{})
	q := NewRedisQueue(client, "test-consumer", nopLogger{})
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	job := &Job{ID: "job-1", RunID: "run-1", NodeID: "fetch", Attempt: 2, Lane: "http"}
	require.NoError(t, q.Enqueue(ctx, job))

	depth, err := q.Depth(ctx, "http")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	var mu sync.Mutex
	var got *Job
	consumeCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Consume(consumeCtx, "http", func(_ context.Context, j *Job) error {
			mu.Lock()
			got = j
			mu.Unlock()
			stop()
			return nil
		})
	}()
	wg.Wait()

	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "fetch", got.NodeID)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, "http", got.Lane)
	assert.False(t, got.EnqueuedAt.IsZero())
}

func TestRedisQueue_EnqueueAfterDelivers(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueAfter(ctx, &Job{ID: "late", Lane: DefaultLane}, 30*time.Millisecond))

	assert.Eventually(t, func() bool {
		n, _ := q.Depth(ctx, DefaultLane)
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}
