package models

import "time"

// TriggerRequest asks the engine to start a run from one node. The gateway
// appends these to the trigger stream; the engine consumes them with
// idempotency keyed on TriggerID.
type TriggerRequest struct {
	TriggerID  string                 `json:"trigger_id"`
	TenantID   string                 `json:"tenant_id"`
	WorkflowID string                 `json:"workflow_id"`
	NodeID     string                 `json:"node_id"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
