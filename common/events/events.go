package events

import (
	"time"
)

// Domain event types emitted by the execution state machine and engine.
const (
	WorkflowStarted   = "workflow.execution.started"
	WorkflowCompleted = "workflow.execution.completed"
	WorkflowFailed    = "workflow.execution.failed"
	WorkflowPaused    = "workflow.execution.paused"
	WorkflowResumed   = "workflow.execution.resumed"
	WorkflowCanceled  = "workflow.execution.canceled"

	NodeScheduled = "node.execution.scheduled"
	NodeStarted   = "node.execution.started"
	NodeCompleted = "node.execution.completed"
	NodeFailed    = "node.execution.failed"
	NodeSkipped   = "node.execution.skipped"
	NodeCanceled  = "node.execution.canceled"

	TriggerReceived = "trigger.received"
	JobEnqueued     = "job.enqueued"
)

// Metadata keys carried on events.
const (
	MetaWorkflowID = "workflow_id"
	MetaRunID      = "run_id"
	MetaJobID      = "job_id"
)

// Event is a durable domain event. Events are append-only and never mutated
// after publication.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	TenantID  string                 `json:"tenant_id"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// Sequence is assigned by the store on append: monotone per tenant.
	Sequence int64 `json:"sequence_number"`
}

// RunID returns the run the event belongs to, if any.
func (e *Event) RunID() string {
	return e.metaString(MetaRunID)
}

// WorkflowID returns the workflow the event belongs to, if any.
func (e *Event) WorkflowID() string {
	return e.metaString(MetaWorkflowID)
}

func (e *Event) metaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// Handler consumes one event. Consumers must be idempotent keyed on event ID:
// delivery is at least once.
type Handler func(ev *Event) error
