package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
)

// Evaluator evaluates condition block expressions written in CEL. It is the
// opt-in alternative to the default template language, selected per node
// with language: "cel". Compiled programs are cached by expression text.
type Evaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a condition evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]cel.Program),
	}
}

// Evaluate compiles (or reuses) the expression and evaluates it against the
// execution context. Exposed bindings: prev (last node output), vars, env,
// loop. $. is accepted as shorthand for prev. for workflow compatibility.
func (e *Evaluator) Evaluate(expr string, ctx *execctx.Context) (bool, error) {
	normalized := strings.ReplaceAll(expr, "$.", "prev.")

	e.mu.RLock()
	prg, exists := e.cache[normalized]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(normalized)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	var prev interface{}
	if r, ok := ctx.PrevResult(0); ok {
		prev = r.Output
	}
	var loop interface{}
	if frame := ctx.LoopFrame(); frame != nil {
		loop = map[string]interface{}{
			"index":     frame.Index,
			"iteration": frame.Iteration,
			"first":     frame.First,
			"last":      frame.Last,
			"item":      frame.Item,
		}
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"prev": prev,
		"vars": ctx.VariablesSnapshot(),
		"env":  ctx.EnvSnapshot(),
		"loop": loop,
	})
	if err != nil {
		return false, fmt.Errorf("condition evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return boolean, got %T", out.Value())
	}
	return result, nil
}

// Validate compiles an expression without evaluating it, caching the program
// for later use. Used during workflow validation.
func (e *Evaluator) Validate(expr string) error {
	normalized := strings.ReplaceAll(expr, "$.", "prev.")

	e.mu.RLock()
	_, exists := e.cache[normalized]
	e.mu.RUnlock()
	if exists {
		return nil
	}

	prg, err := e.compile(normalized)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.cache[normalized] = prg
	e.mu.Unlock()
	return nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("prev", cel.DynType),
		cel.Variable("vars", cel.DynType),
		cel.Variable("env", cel.DynType),
		cel.Variable("loop", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return prg, nil
}

// ClearCache drops all compiled programs.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize returns the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
