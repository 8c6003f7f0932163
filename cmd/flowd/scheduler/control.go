package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/blocks"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/compiler"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/expr"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

const delayTick = 50 * time.Millisecond

// executeControl runs a control-flow block inline on the scheduler
// goroutine. These blocks mutate the execution context, which keeps the
// single-writer rule intact.
func (s *Scheduler) executeControl(ctx context.Context, node *compiler.ExecNode) *sdk.NodeResult {
	started := time.Now().UTC()
	s.ec.SetCurrentNodeID(node.ID)

	resolved, err := s.resolveControlConfig(node)
	if err != nil {
		return controlResult(node.ID, started, func(r *sdk.NodeResult) {
			r.Error = fmt.Sprintf("parameter resolution failed: %v", err)
		})
	}

	switch node.Type {
	case blocks.TypeStart:
		return s.execStart(node, resolved, started)
	case blocks.TypeEnd:
		return s.execEnd(node, resolved, started)
	case blocks.TypeDelay:
		return s.execDelay(node, resolved, started)
	case blocks.TypeCondition:
		return s.execCondition(node, started)
	case blocks.TypeLoop:
		return s.execLoop(ctx, node, resolved, started)
	case blocks.TypeParallel:
		return s.execParallel(node, started)
	case blocks.TypeVariableSet:
		return s.execVariableSet(node, resolved, started)
	case blocks.TypeVariableGet:
		return s.execVariableGet(node, resolved, started)
	}
	return controlResult(node.ID, started, func(r *sdk.NodeResult) {
		r.Error = fmt.Sprintf("unhandled control block type %s", node.Type)
	})
}

// resolveControlConfig resolves templates in the config. The condition
// expression is excluded: it is evaluated by the block itself, in the
// language the node declares.
func (s *Scheduler) resolveControlConfig(node *compiler.ExecNode) (map[string]interface{}, error) {
	config := node.Config
	if node.Type == blocks.TypeCondition {
		trimmed := make(map[string]interface{}, len(config))
		for k, v := range config {
			if k != "expression" {
				trimmed[k] = v
			}
		}
		config = trimmed
	}

	resolved, err := expr.ResolveAny(config, s.ec)
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]interface{})
	if !ok {
		out = map[string]interface{}{}
	}
	return out, nil
}

func (s *Scheduler) execStart(node *compiler.ExecNode, resolved map[string]interface{}, started time.Time) *sdk.NodeResult {
	inputs, _ := resolved["inputs"].(map[string]interface{})
	if inputs != nil {
		s.ec.SeedVariables(inputs)
	}
	return controlResult(node.ID, started, func(r *sdk.NodeResult) {
		r.Success = true
		r.Output = inputs
	})
}

func (s *Scheduler) execEnd(node *compiler.ExecNode, resolved map[string]interface{}, started time.Time) *sdk.NodeResult {
	status, _ := resolved["status"].(string)
	if status == "" {
		status = "success"
	}
	message, _ := resolved["message"].(string)
	return controlResult(node.ID, started, func(r *sdk.NodeResult) {
		r.Success = true
		r.Output = map[string]interface{}{"status": status, "message": message}
	})
}

// execDelay sleeps in short ticks so cancellation interrupts promptly.
// A cancelled delay yields a skipped result, not a failure.
func (s *Scheduler) execDelay(node *compiler.ExecNode, resolved map[string]interface{}, started time.Time) *sdk.NodeResult {
	seconds, _ := toNumber(resolved["seconds"])
	deadline := time.Now().Add(time.Duration(seconds * float64(time.Second)))

	for time.Now().Before(deadline) {
		if s.ec.Cancelled() {
			return controlResult(node.ID, started, func(r *sdk.NodeResult) {
				r.Skipped = true
				r.Error = "cancelled"
			})
		}
		s.drainControl()
		remaining := time.Until(deadline)
		if remaining > delayTick {
			remaining = delayTick
		}
		time.Sleep(remaining)
	}
	return controlResult(node.ID, started, func(r *sdk.NodeResult) {
		r.Success = true
		r.Output = map[string]interface{}{"seconds": seconds}
	})
}

// execCondition evaluates the expression and routes through the true or
// false handle. The default language is the template language; nodes may
// opt into CEL with language: "cel".
func (s *Scheduler) execCondition(node *compiler.ExecNode, started time.Time) *sdk.NodeResult {
	exprStr, _ := node.Config["expression"].(string)
	language, _ := node.Config["language"].(string)

	var truthy bool
	var err error
	if language == "cel" {
		truthy, err = s.conditions.Evaluate(exprStr, s.ec)
	} else {
		var value interface{}
		value, err = expr.Evaluate(exprStr, s.ec)
		truthy = expr.Truthy(value)
	}
	if err != nil {
		return controlResult(node.ID, started, func(r *sdk.NodeResult) {
			r.Error = fmt.Sprintf("condition evaluation failed: %v", err)
		})
	}

	handle := blocks.HandleFalse
	if truthy {
		handle = blocks.HandleTrue
	}
	return controlResult(node.ID, started, func(r *sdk.NodeResult) {
		r.Success = true
		r.Output = map[string]interface{}{"result": truthy}
		r.NextHandle = handle
	})
}

// execLoop runs the body subgraph once per item through a nested scheduler
// invocation on the shared context. Body node results are cleared before
// each iteration; workflow and global scopes persist across iterations.
func (s *Scheduler) execLoop(ctx context.Context, node *compiler.ExecNode, resolved map[string]interface{}, started time.Time) *sdk.NodeResult {
	items, err := loopItems(resolved)
	if err != nil {
		return controlResult(node.ID, started, func(r *sdk.NodeResult) {
			r.Error = err.Error()
		})
	}

	varName, _ := resolved["variable_name"].(string)
	if varName == "" {
		varName = "item"
	}

	var bodyIDs []string
	if node.Body != nil {
		bodyIDs = collectNodeIDs(node.Body)
	}

	accumulator := make([]interface{}, 0, len(items))
	for i, item := range items {
		if s.ec.Cancelled() {
			return controlResult(node.ID, started, func(r *sdk.NodeResult) {
				r.Skipped = true
				r.Error = "cancelled"
			})
		}

		s.ec.PushLoopFrame(&execctx.LoopFrame{
			Index:     i,
			Iteration: i + 1,
			First:     i == 0,
			Last:      i == len(items)-1,
			Item:      item,
			Array:     items,
		})
		s.ec.SetVariable(varName, item)

		var outcome runOutcome
		if node.Body != nil && len(node.Body.Nodes) > 0 {
			s.ec.ResetNodes(bodyIDs)
			outcome = s.runDAG(ctx, node.Body, true)
		}
		s.ec.PopLoopFrame()

		switch outcome {
		case outcomeCancelled:
			return controlResult(node.ID, started, func(r *sdk.NodeResult) {
				r.Skipped = true
				r.Error = "cancelled"
			})
		case outcomeFailed:
			return controlResult(node.ID, started, func(r *sdk.NodeResult) {
				r.Error = fmt.Sprintf("loop body failed on iteration %d", i+1)
			})
		}

		accumulator = append(accumulator, s.iterationOutput(node.Body))
	}

	return controlResult(node.ID, started, func(r *sdk.NodeResult) {
		r.Success = true
		r.Output = map[string]interface{}{
			"iterations": len(items),
			"results":    accumulator,
		}
		r.NextHandle = blocks.HandleComplete
	})
}

// iterationOutput collects the body exit-point outputs for the accumulator.
// A single exit contributes its output directly; multiple exits contribute
// a map keyed by node id.
func (s *Scheduler) iterationOutput(body *compiler.DAG) interface{} {
	if body == nil {
		return nil
	}
	if len(body.ExitPoints) == 1 {
		if res, ok := s.ec.Result(body.ExitPoints[0]); ok {
			return res.Output
		}
		return nil
	}
	out := make(map[string]interface{}, len(body.ExitPoints))
	for _, id := range body.ExitPoints {
		if res, ok := s.ec.Result(id); ok {
			out[id] = res.Output
		}
	}
	return out
}

// execParallel activates every outgoing branch by leaving next_handle
// unset. Convergence happens through the normal level barrier downstream.
func (s *Scheduler) execParallel(node *compiler.ExecNode, started time.Time) *sdk.NodeResult {
	branches := 0
	for _, succs := range node.Outputs {
		branches += len(succs)
	}
	return controlResult(node.ID, started, func(r *sdk.NodeResult) {
		r.Success = true
		r.Output = map[string]interface{}{"branches": branches}
	})
}

func (s *Scheduler) execVariableSet(node *compiler.ExecNode, resolved map[string]interface{}, started time.Time) *sdk.NodeResult {
	name, _ := resolved["name"].(string)
	if name == "" {
		return controlResult(node.ID, started, func(r *sdk.NodeResult) {
			r.Error = "variable_set requires a name"
		})
	}
	value := resolved["value"]
	s.ec.SetVariable(name, value)
	return controlResult(node.ID, started, func(r *sdk.NodeResult) {
		r.Success = true
		r.Output = map[string]interface{}{"name": name, "value": value}
	})
}

func (s *Scheduler) execVariableGet(node *compiler.ExecNode, resolved map[string]interface{}, started time.Time) *sdk.NodeResult {
	name, _ := resolved["name"].(string)
	value, _ := s.ec.Variable(name)
	return controlResult(node.ID, started, func(r *sdk.NodeResult) {
		r.Success = true
		r.Output = value
	})
}

// loopItems materializes the iteration source from count or array mode.
func loopItems(resolved map[string]interface{}) ([]interface{}, error) {
	mode, _ := resolved["mode"].(string)
	switch mode {
	case "count":
		n, ok := toNumber(resolved["count"])
		if !ok || n < 0 {
			return nil, fmt.Errorf("loop count mode requires a non-negative count")
		}
		items := make([]interface{}, int(n))
		for i := range items {
			items[i] = i
		}
		return items, nil

	case "array":
		switch arr := resolved["array"].(type) {
		case []interface{}:
			return arr, nil
		case nil:
			return nil, fmt.Errorf("loop array mode requires an array")
		default:
			return nil, fmt.Errorf("loop array resolved to %T, want array", arr)
		}
	}
	return nil, fmt.Errorf("unknown loop mode %q", mode)
}

func collectNodeIDs(dag *compiler.DAG) []string {
	var out []string
	for id, n := range dag.Nodes {
		out = append(out, id)
		if n.Body != nil {
			out = append(out, collectNodeIDs(n.Body)...)
		}
	}
	return out
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func controlResult(nodeID string, started time.Time, fill func(*sdk.NodeResult)) *sdk.NodeResult {
	completed := time.Now().UTC()
	res := &sdk.NodeResult{
		NodeID:      nodeID,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	}
	fill(res)
	return res
}
