// Package run holds the per-run execution context and its state machine.
// Transitions are pure: they mutate the context and return the domain events
// to publish, but perform no I/O. The engine serializes all transitions for
// one run and interprets the returned events.
package run

import (
	"time"

	"github.com/flowgrid/flowgrid/common/graph"
	"github.com/flowgrid/flowgrid/common/models"
)

// NodeAttempt is one execution attempt of a node.
type NodeAttempt struct {
	Number    int         `json:"number"`
	StartTime time.Time   `json:"start_time"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
	State     string      `json:"state"`
	Output    interface{} `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// NodeRecord tracks one node across all its attempts within a run.
type NodeRecord struct {
	NodeID     string        `json:"node_id"`
	State      string        `json:"state"`
	StartTime  *time.Time    `json:"start_time,omitempty"`
	EndTime    *time.Time    `json:"end_time,omitempty"`
	Input      interface{}   `json:"input,omitempty"`
	Output     interface{}   `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
	Attempts   []NodeAttempt `json:"attempts,omitempty"`
}

// CurrentAttempt returns the 1-based number of the next or in-flight attempt.
func (r *NodeRecord) CurrentAttempt() int {
	return r.RetryCount + 1
}

// HistoryEntry is one line of the run's append-only audit trail.
type HistoryEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"` // workflow | node
	Entity    string                 `json:"entity"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Config carries the per-run execution knobs.
type Config struct {
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
	Timeout    time.Duration `json:"timeout"`
}

// Context is the live state of one run. It is owned by the engine; every
// mutation goes through a transition under the engine's per-run lock.
type Context struct {
	RunID      string
	WorkflowID string
	TenantID   string

	State     string
	StartTime time.Time
	EndTime   *time.Time
	Error     string

	Variables map[string]interface{}
	Nodes     map[string]*NodeRecord

	// Scheduled holds nodes enqueued but not yet terminal. Completed, Failed
	// and Skipped partition the terminal node states.
	Scheduled map[string]bool
	Completed map[string]bool
	Failed    map[string]bool
	Skipped   map[string]bool

	Processed *graph.ProcessedWorkflow
	History   []HistoryEntry
	Config    Config
}

// NewContext creates a run context in the Created state.
func NewContext(runID, workflowID, tenantID string, processed *graph.ProcessedWorkflow, variables map[string]interface{}, cfg Config) *Context {
	if variables == nil {
		variables = make(map[string]interface{})
	}
	return &Context{
		RunID:      runID,
		WorkflowID: workflowID,
		TenantID:   tenantID,
		State:      models.RunStateCreated,
		StartTime:  time.Now().UTC(),
		Variables:  variables,
		Nodes:      make(map[string]*NodeRecord),
		Scheduled:  make(map[string]bool),
		Completed:  make(map[string]bool),
		Failed:     make(map[string]bool),
		Skipped:    make(map[string]bool),
		Processed:  processed,
		Config:     cfg,
	}
}

func (c *Context) record(nodeID string) *NodeRecord {
	rec, ok := c.Nodes[nodeID]
	if !ok {
		rec = &NodeRecord{NodeID: nodeID, State: models.NodeStatePending}
		c.Nodes[nodeID] = rec
	}
	return rec
}

func (c *Context) appendHistory(kind, entity, action string, details map[string]interface{}) {
	c.History = append(c.History, HistoryEntry{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Entity:    entity,
		Action:    action,
		Details:   details,
	})
}

// IsTerminal reports whether the run admits no further transitions.
func (c *Context) IsTerminal() bool {
	return models.IsTerminalRunState(c.State)
}

// ShouldComplete reports the termination condition: nothing scheduled and
// every exit node Completed or Skipped.
func (c *Context) ShouldComplete() bool {
	if len(c.Scheduled) != 0 {
		return false
	}
	for _, exit := range c.Processed.Exit {
		if !c.Completed[exit] && !c.Skipped[exit] {
			return false
		}
	}
	return true
}

// Result assembles the run result from the exit nodes' outputs.
func (c *Context) Result() map[string]interface{} {
	result := make(map[string]interface{})
	for _, exit := range c.Processed.Exit {
		if rec, ok := c.Nodes[exit]; ok && rec.Output != nil {
			result[exit] = rec.Output
		}
	}
	return result
}
