package strategy

import (
	"context"
	"fmt"

	"github.com/flowgrid/flowgrid/common/expr"
	"github.com/flowgrid/flowgrid/common/models"
)

// DecisionStrategy evaluates the configured expression and emits its result
// as a discrete label. Outgoing edge conditions match on output.label.
type DecisionStrategy struct {
	eval *expr.Evaluator
}

// NewDecisionStrategy creates the decision strategy.
func NewDecisionStrategy(eval *expr.Evaluator) *DecisionStrategy {
	return &DecisionStrategy{eval: eval}
}

// Type returns the node type tag this strategy serves.
func (s *DecisionStrategy) Type() string { return "decision" }

// Validate requires an expression.
func (s *DecisionStrategy) Validate(node *models.Node) []FieldError {
	if configString(node, "expression") == "" {
		return []FieldError{{Field: "config.expression", Message: "required"}}
	}
	return nil
}

// Execute evaluates the expression against the input and variables.
func (s *DecisionStrategy) Execute(ctx context.Context, view RunView, node *models.Node) Result {
	value, err := s.eval.Eval(configString(node, "expression"), &expr.Activation{
		Input:     view.Input,
		Variables: view.Variables,
	})
	if err != nil {
		return failure(false, "decision expression: %v", err)
	}

	return success(map[string]interface{}{
		"label": fmt.Sprintf("%v", value),
		"value": value,
	})
}

// Cleanup has nothing to release.
func (s *DecisionStrategy) Cleanup(view RunView, node *models.Node) {}
