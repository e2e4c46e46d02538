package strategy

import (
	"context"

	"github.com/flowgrid/flowgrid/common/expr"
	"github.com/flowgrid/flowgrid/common/models"
)

// Transform modes.
const (
	TransformMap    = "map"
	TransformFilter = "filter"
	TransformReduce = "reduce"
)

// TransformStrategy evaluates the configured template expression over the
// node's input: per element for sequences, once for single values. Transform
// errors are never retryable; re-running a bad expression cannot help.
type TransformStrategy struct {
	eval *expr.Evaluator
}

// NewTransformStrategy creates the transform strategy.
func NewTransformStrategy(eval *expr.Evaluator) *TransformStrategy {
	return &TransformStrategy{eval: eval}
}

// Type returns the node type tag this strategy serves.
func (s *TransformStrategy) Type() string { return "transform" }

// Validate requires transformationType and template.
func (s *TransformStrategy) Validate(node *models.Node) []FieldError {
	var errs []FieldError
	mode := configString(node, "transformationType")
	switch mode {
	case TransformMap, TransformFilter, TransformReduce:
	case "":
		errs = append(errs, FieldError{Field: "config.transformationType", Message: "required"})
	default:
		errs = append(errs, FieldError{Field: "config.transformationType", Message: "must be map, filter or reduce"})
	}
	if configString(node, "template") == "" {
		errs = append(errs, FieldError{Field: "config.template", Message: "required"})
	}
	return errs
}

// Execute applies the template.
func (s *TransformStrategy) Execute(ctx context.Context, view RunView, node *models.Node) Result {
	mode := configString(node, "transformationType")
	if mode == "" {
		mode = TransformMap
	}
	template := configString(node, "template")

	switch mode {
	case TransformMap:
		return s.applyMap(template, view)
	case TransformFilter:
		return s.applyFilter(template, view)
	case TransformReduce:
		return s.applyReduce(template, view, node.Config["initialValue"])
	default:
		return failure(false, "unknown transformation type %q", mode)
	}
}

func (s *TransformStrategy) applyMap(template string, view RunView) Result {
	seq, ok := view.Input.([]interface{})
	if !ok {
		out, err := s.eval.Eval(template, &expr.Activation{
			Input:     view.Input,
			Item:      view.Input,
			Variables: view.Variables,
		})
		if err != nil {
			return failure(false, "map template: %v", err)
		}
		return success(out)
	}

	mapped := make([]interface{}, 0, len(seq))
	for i, item := range seq {
		out, err := s.eval.Eval(template, &expr.Activation{
			Input:     view.Input,
			Item:      item,
			Index:     i,
			Variables: view.Variables,
		})
		if err != nil {
			return failure(false, "map template at index %d: %v", i, err)
		}
		mapped = append(mapped, out)
	}
	return success(mapped)
}

func (s *TransformStrategy) applyFilter(template string, view RunView) Result {
	seq, ok := view.Input.([]interface{})
	if !ok {
		return failure(false, "filter requires a sequence input")
	}

	kept := make([]interface{}, 0, len(seq))
	for i, item := range seq {
		keep, err := s.eval.EvalBool(template, &expr.Activation{
			Input:     view.Input,
			Item:      item,
			Index:     i,
			Variables: view.Variables,
		})
		if err != nil {
			return failure(false, "filter template at index %d: %v", i, err)
		}
		if keep {
			kept = append(kept, item)
		}
	}
	return success(kept)
}

func (s *TransformStrategy) applyReduce(template string, view RunView, initial interface{}) Result {
	seq, ok := view.Input.([]interface{})
	if !ok {
		return failure(false, "reduce requires a sequence input")
	}

	acc := initial
	for i, item := range seq {
		out, err := s.eval.Eval(template, &expr.Activation{
			Input:     view.Input,
			Item:      item,
			Index:     i,
			Acc:       acc,
			Variables: view.Variables,
		})
		if err != nil {
			return failure(false, "reduce template at index %d: %v", i, err)
		}
		acc = out
	}
	return success(acc)
}

// Cleanup has nothing to release.
func (s *TransformStrategy) Cleanup(view RunView, node *models.Node) {}
