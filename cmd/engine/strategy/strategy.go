// Package strategy holds the node-type implementations the engine dispatches
// to. A strategy validates node config, executes with the node's resolved
// input, and cleans up on every exit path.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowgrid/flowgrid/common/models"
)

// RunView is the immutable slice of run state a strategy may see.
type RunView struct {
	RunID      string
	WorkflowID string
	TenantID   string
	Input      interface{}
	Variables  map[string]interface{}
}

// Result is a strategy's structured outcome. Strategies never panic and
// never return Go errors to the engine; failures are data.
type Result struct {
	Success   bool
	Output    interface{}
	Error     string
	Retryable bool
}

func failure(retryable bool, format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...), Retryable: retryable}
}

func success(output interface{}) Result {
	return Result{Success: true, Output: output}
}

// FieldError is one validation finding on a node definition.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Strategy is the contract every node type implements.
type Strategy interface {
	// Type returns the node type tag this strategy serves.
	Type() string

	// Validate returns field-level errors for the node's config. Pure.
	Validate(node *models.Node) []FieldError

	// Execute runs the node. It may suspend arbitrarily long but must honor
	// ctx cancellation promptly.
	Execute(ctx context.Context, view RunView, node *models.Node) Result

	// Cleanup is best effort and runs on every exit path from Execute.
	Cleanup(view RunView, node *models.Node)
}

// Registry maps node types to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy, replacing any previous one for the type.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Type()] = s
}

// Get returns the strategy for a node type.
func (r *Registry) Get(nodeType string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[nodeType]
	return s, ok
}

// Types lists the registered node types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	return out
}

// ValidateNode applies the shared shape checks, then the strategy's own.
func (r *Registry) ValidateNode(node *models.Node) []FieldError {
	var errs []FieldError
	if node.ID == "" {
		errs = append(errs, FieldError{Field: "id", Message: "required"})
	}
	if node.Type == "" {
		errs = append(errs, FieldError{Field: "type", Message: "required"})
	}
	if node.Name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "required"})
	}

	if node.Type != "" {
		s, ok := r.Get(node.Type)
		if !ok {
			errs = append(errs, FieldError{Field: "type", Message: fmt.Sprintf("unknown node type %q", node.Type)})
		} else {
			errs = append(errs, s.Validate(node)...)
		}
	}
	return errs
}

func configString(node *models.Node, key string) string {
	if node.Config == nil {
		return ""
	}
	v, _ := node.Config[key].(string)
	return v
}
