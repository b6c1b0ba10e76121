package exprlang

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// Expr is the restricted boolean-expression evaluator used for Routing
// `when`, Graph edge `choose[].when`, and Workflow `condition`.
//
// It is built on github.com/google/cel-go, compiling each distinct
// expression once and caching the resulting cel.Program for reuse across
// every subsequent routing decision. The CEL environment declares a single
// `scope` variable of dynamic type and no custom functions or comprehension
// macros, so an
// expression can do string containment, equality/ordering, and boolean
// combinators over dotted lookups into scope, but cannot define a lambda or
// reach anything outside the supplied Scope value.
type Expr struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewExpr constructs a restricted expression evaluator.
func NewExpr() (*Expr, error) {
	env, err := cel.NewEnv(
		ext.Strings(),
		cel.Variable("scope", cel.DynType),
		cel.ClearMacros(),
	)
	if err != nil {
		return nil, fmt.Errorf("exprlang: building CEL environment: %w", err)
	}
	return &Expr{env: env, cache: make(map[string]cel.Program)}, nil
}

// Eval evaluates expr against scope and returns its boolean result. A
// compilation or evaluation failure is always returned as a *SecurityError
// and is never retried.
func (e *Expr) Eval(expr string, scope Scope) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"scope": map[string]any(scope)})
	if err != nil {
		return false, &SecurityError{Template: expr, Reason: err.Error()}
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, &SecurityError{Template: expr, Reason: "expression did not evaluate to a boolean"}
	}
	return b, nil
}

func (e *Expr) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &SecurityError{Template: expr, Reason: issues.Err().Error()}
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, &SecurityError{Template: expr, Reason: err.Error()}
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
