package engine

import (
	"fmt"

	"github.com/flowgrid/flowgrid/common/expr"
	"github.com/flowgrid/flowgrid/common/models"
)

// resolveInput computes a node's input just before execution. Entry nodes see
// the run variables; a single predecessor hands over its output; a
// convergence node receives a map of predecessor id to output. inputMapping
// fields evaluate over that base and merge on top. Caller holds the run lock.
func (e *Engine) resolveInput(rs *runState, node *models.Node) (interface{}, error) {
	p := rs.ctx.Processed
	preds := p.ReverseAdjacency[node.ID]

	var base interface{}
	switch len(preds) {
	case 0:
		base = rs.ctx.Variables
	case 1:
		base = e.predOutput(rs, preds[0])
	default:
		merged := make(map[string]interface{}, len(preds))
		for _, pid := range preds {
			if rs.ctx.Completed[pid] || rs.ctx.Failed[pid] {
				merged[pid] = e.predOutput(rs, pid)
			}
		}
		base = merged
	}

	if len(node.InputMapping) == 0 {
		return base, nil
	}

	out := make(map[string]interface{})
	if bm, ok := base.(map[string]interface{}); ok {
		for k, v := range bm {
			out[k] = v
		}
	}
	for field, expression := range node.InputMapping {
		val, err := e.eval.Eval(expression, &expr.Activation{Input: base, Variables: rs.ctx.Variables})
		if err != nil {
			return base, fmt.Errorf("input mapping %q: %w", field, err)
		}
		out[field] = val
	}
	return out, nil
}

// predOutput is the value a predecessor contributes downstream. A node that
// exhausted retries and continued along a failure edge contributes its error.
func (e *Engine) predOutput(rs *runState, nodeID string) interface{} {
	rec, ok := rs.ctx.Nodes[nodeID]
	if !ok {
		return nil
	}
	if rec.State == models.NodeStateFailed {
		return map[string]interface{}{"error": rec.Error}
	}
	return rec.Output
}

// applyOutputMapping writes mapped output fields into the run variables.
// Caller holds the run lock; this runs before CompleteNode so the completion
// event snapshots the post-mapping variables.
func (e *Engine) applyOutputMapping(rs *runState, node *models.Node, output interface{}) error {
	for variable, expression := range node.OutputMapping {
		val, err := e.eval.Eval(expression, &expr.Activation{Output: output, Variables: rs.ctx.Variables})
		if err != nil {
			return fmt.Errorf("output mapping %q: %w", variable, err)
		}
		rs.ctx.Variables[variable] = val
	}
	return nil
}

func copyVariables(vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
