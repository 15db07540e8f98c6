// Package expression evaluates connection guard expressions against
// the execution context available at evaluation time: compiled-program
// caching, AllowUndefinedVariables, AsBool.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates boolean guard expressions against a flow's
// execution context snapshot, caching compiled programs.
type Evaluator struct {
	mu sync.RWMutex
	cache map[string]*vm.Program
}

// New creates a guard expression evaluator.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate runs guardExpr against ctx, the variable environment the
// expression sees (the flow engine passes "ctx", the flat path-keyed
// context snapshot, and "flow", the FlowState). An empty expression
// always evaluates true. A malformed expression returns an error: it
// is the caller's job to fall back to false on error and log at warn,
// not this function's — the evaluator itself only reports the failure.
func (e *Evaluator) Evaluate(guardExpr string, ctx map[string]any) (bool, error) {
	if guardExpr == "" {
		return true, nil
	}

	program, err := e.compile(guardExpr)
	if err != nil {
		return false, fmt.Errorf("flow: compile guard expression: %w", err)
	}

	result, err := expr.Run(program, ctx)
	if err != nil {
		return false, fmt.Errorf("flow: evaluate guard expression: %w", err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("flow: guard expression must return boolean, got %T", result)
	}
	return b, nil
}

func (e *Evaluator) compile(guardExpr string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[guardExpr]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(guardExpr, expr.AllowUndefinedVariables, expr.AsBool)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[guardExpr] = prog
	e.mu.Unlock()
	return prog, nil
}

// CacheSize reports the number of cached compiled guard expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
