package strategy

import (
	"net/http"

	"github.com/flowgrid/flowgrid/common/expr"
)

// NewDefaultRegistry wires the built-in strategies.
func NewDefaultRegistry(eval *expr.Evaluator, client *http.Client) *Registry {
	r := NewRegistry()
	r.Register(NewHTTPStrategy(client))
	r.Register(NewTransformStrategy(eval))
	r.Register(NewDecisionStrategy(eval))
	r.Register(NewDelayStrategy())
	r.Register(NewSinkStrategy())
	r.Register(NewAgentStrategy(client))
	return r
}
