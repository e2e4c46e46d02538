package models

import (
	"encoding/json"
	"time"
)

// Workflow status values
const (
	WorkflowStatusDraft     = "draft"
	WorkflowStatusPublished = "published"
	WorkflowStatusArchived  = "archived"
)

// Edge type values. A "failure" edge fires when its source node exhausts
// its retry budget instead of failing the run.
const (
	EdgeTypeDefault = "default"
	EdgeTypeFailure = "failure"
)

// Node is a single vertex of an authored workflow graph.
type Node struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Name     string                 `json:"name"`
	Config   map[string]interface{} `json:"config,omitempty"`
	Position *Position              `json:"position,omitempty"` // advisory, ignored by execution

	// InputMapping entries are evaluated just before execute and merged
	// over the node's base input: field <- expression.
	InputMapping map[string]string `json:"input_mapping,omitempty"`

	// OutputMapping writes scalar outputs into run variables after a
	// successful execute: variable <- expression over the output.
	OutputMapping map[string]string `json:"output_mapping,omitempty"`

	// MaxRetries overrides the per-run retry budget when non-nil.
	MaxRetries *int `json:"max_retries,omitempty"`

	// TimeoutMS overrides the per-run node timeout when > 0.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// Position is authoring-tool placement metadata.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed arc between two nodes, optionally guarded by a
// condition expression evaluated against the source node's output.
type Edge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
	Type      string `json:"type,omitempty"` // default | failure
}

// Workflow is a stored workflow definition.
type Workflow struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Tags        []string  `json:"tags,omitempty"`
	Status      string    `json:"status"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// MarshalDefinition serializes nodes and edges for persistence.
func (w *Workflow) MarshalDefinition() (nodesJSON, edgesJSON []byte, err error) {
	nodesJSON, err = json.Marshal(w.Nodes)
	if err != nil {
		return nil, nil, err
	}
	edgesJSON, err = json.Marshal(w.Edges)
	if err != nil {
		return nil, nil, err
	}
	return nodesJSON, edgesJSON, nil
}
