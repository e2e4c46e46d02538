package queue

import (
	"context"
	"time"
)

// Job is the unit of work scheduled onto a lane. The payload identifies one
// node attempt; everything else is read back from the live run context.
type Job struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	NodeID     string    `json:"node_id"`
	Attempt    int       `json:"attempt"`
	Lane       string    `json:"lane"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler processes one dequeued job. Delivery is at least once; the engine
// discards duplicates via in-flight markers keyed on (run, node, attempt).
type Handler func(ctx context.Context, job *Job) error

// Queue is the job transport between the engine's scheduler and its workers.
type Queue interface {
	// Enqueue appends the job to its lane.
	Enqueue(ctx context.Context, job *Job) error

	// EnqueueAfter appends the job to its lane after the delay (retry backoff).
	EnqueueAfter(ctx context.Context, job *Job, delay time.Duration) error

	// Consume blocks, feeding jobs from the lane to the handler until the
	// context is canceled.
	Consume(ctx context.Context, lane string, handler Handler) error

	// Depth reports the number of jobs waiting on the lane, for watermark
	// backpressure checks.
	Depth(ctx context.Context, lane string) (int64, error)

	// Close releases queue resources. Pending delayed jobs are dropped.
	Close() error
}

// DefaultLane receives every node type without a dedicated lane.
const DefaultLane = "default"

// laneByType is the static node-type to lane mapping. HTTP-bound work gets
// its own lanes so slow outbound calls cannot starve cheap transforms.
var laneByType = map[string]string{
	"http":  "http",
	"agent": "agent",
	"delay": "timer",
}

// LaneFor returns the lane for a node type.
func LaneFor(nodeType string) string {
	if lane, ok := laneByType[nodeType]; ok {
		return lane
	}
	return DefaultLane
}

// Lanes returns every lane a worker pool should consume.
func Lanes() []string {
	return []string{DefaultLane, "http", "agent", "timer"}
}
