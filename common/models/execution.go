package models

import "time"

// Run (workflow execution) states
const (
	RunStateCreated   = "created"
	RunStateRunning   = "running"
	RunStatePaused    = "paused"
	RunStateCompleted = "completed"
	RunStateFailed    = "failed"
	RunStateCanceled  = "canceled"
)

// Node execution states
const (
	NodeStatePending   = "pending"
	NodeStateRunning   = "running"
	NodeStateCompleted = "completed"
	NodeStateFailed    = "failed"
	NodeStateSkipped   = "skipped"
	NodeStateCanceled  = "canceled"
)

// IsTerminalRunState reports whether the run state admits no further transitions.
func IsTerminalRunState(state string) bool {
	switch state {
	case RunStateCompleted, RunStateFailed, RunStateCanceled:
		return true
	}
	return false
}

// WorkflowExecution is the persisted record of one run.
type WorkflowExecution struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	TenantID    string                 `json:"tenant_id"`
	State       string                 `json:"state"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// NodeExecution is the persisted record of one node attempt series within a run.
type NodeExecution struct {
	ID          string      `json:"id"`
	ExecutionID string      `json:"workflow_execution_id"`
	NodeID      string      `json:"node_id"`
	State       string      `json:"state"`
	Input       interface{} `json:"input,omitempty"`
	Output      interface{} `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
