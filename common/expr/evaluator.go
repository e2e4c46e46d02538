package expr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// Evaluator evaluates workflow expressions using CEL. Expressions are total
// and side-effect free: edge conditions, transform templates, and
// input/output mappings all go through here. Compiled programs are cached
// keyed by normalized source.
type Evaluator struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// Activation is the variable set visible to an expression. Nil members are
// bound as empty values.
type Activation struct {
	Input     interface{}
	Output    interface{}
	Variables map[string]interface{}
	Item      interface{}
	Index     int
	Acc       interface{}
}

// New creates an evaluator with the workflow variable environment.
func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("output", cel.DynType),
		cel.Variable("variables", cel.DynType),
		cel.Variable("data", cel.DynType),
		cel.Variable("item", cel.DynType),
		cel.Variable("index", cel.IntType),
		cel.Variable("acc", cel.DynType),
		ext.Strings(),
		ext.Math(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	return &Evaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// MustNew is New for wiring paths where a broken environment is unrecoverable.
func MustNew() *Evaluator {
	e, err := New()
	if err != nil {
		panic(err)
	}
	return e
}

// Eval evaluates an expression and returns its value.
func (e *Evaluator) Eval(expression string, act *Activation) (interface{}, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(e.bindings(act))
	if err != nil {
		return nil, fmt.Errorf("expression evaluation error: %w", err)
	}
	return out.Value(), nil
}

// EvalBool evaluates a condition expression; non-boolean results are errors.
func (e *Evaluator) EvalBool(expression string, act *Activation) (bool, error) {
	val, err := e.Eval(expression, act)
	if err != nil {
		return false, err
	}
	result, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return boolean, got %T", val)
	}
	return result, nil
}

func (e *Evaluator) bindings(act *Activation) map[string]interface{} {
	if act == nil {
		act = &Activation{}
	}
	vars := act.Variables
	if vars == nil {
		vars = map[string]interface{}{}
	}
	// "data" is an alias for the node's resolved input payload; legacy
	// definitions use it interchangeably with "input".
	return map[string]interface{}{
		"input":     orEmpty(act.Input),
		"output":    orEmpty(act.Output),
		"variables": vars,
		"data":      orEmpty(act.Input),
		"item":      orEmpty(act.Item),
		"index":     act.Index,
		"acc":       orEmpty(act.Acc),
	}
}

func orEmpty(v interface{}) interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	// JSONPath-style $.field is accepted for compatibility with older
	// authored workflows and rewritten to output.field.
	normalized := strings.ReplaceAll(expression, "$.", "output.")

	e.mu.RLock()
	prg, exists := e.cache[normalized]
	e.mu.RUnlock()
	if exists {
		return prg, nil
	}

	ast, issues := e.env.Compile(normalized)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression compile error: %w", issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.cache[normalized] = prg
	e.mu.Unlock()

	return prg, nil
}

// CacheSize returns the number of cached compiled expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
