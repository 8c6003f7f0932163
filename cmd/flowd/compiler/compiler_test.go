package compiler

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/blocks"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/condition"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

func newTestCompiler() *Compiler {
	return New(blocks.NewRegistry(), condition.NewEvaluator())
}

func node(id, typ string, config map[string]interface{}) sdk.Node {
	if config == nil {
		config = map[string]interface{}{}
	}
	return sdk.Node{ID: id, Type: typ, Config: config}
}

func edge(id, src, srcHandle, tgt, tgtHandle string) sdk.Edge {
	return sdk.Edge{ID: id, Source: src, SourceHandle: srcHandle, Target: tgt, TargetHandle: tgtHandle}
}

func linearWorkflow() *sdk.Workflow {
	return &sdk.Workflow{
		ID:   "wf-linear",
		Name: "linear",
		Nodes: []sdk.Node{
			node("start", blocks.TypeStart, nil),
			node("ping", blocks.TypePing, map[string]interface{}{"host": "8.8.8.8"}),
			node("end", blocks.TypeEnd, nil),
		},
		Edges: []sdk.Edge{
			edge("e1", "start", "out", "ping", "in"),
			edge("e2", "ping", "out", "end", "in"),
		},
	}
}

func TestCompileLinear(t *testing.T) {
	res := newTestCompiler().Compile(linearWorkflow())

	require.True(t, res.IsValid, "errors: %v", res.Errors)
	require.NotNil(t, res.DAG)

	assert.Equal(t, [][]string{{"start"}, {"ping"}, {"end"}}, res.DAG.Order)
	assert.Equal(t, []string{"start"}, res.DAG.EntryPoints)
	assert.Equal(t, []string{"end"}, res.DAG.ExitPoints)

	ping := res.DAG.Nodes["ping"]
	assert.Equal(t, 1, ping.Level)
	assert.Equal(t, []string{"start"}, ping.Dependencies)
	assert.Equal(t, []string{"end"}, ping.Outputs["out"])
	assert.Equal(t, []IncomingEdge{{Source: "start", SourceHandle: "out"}}, ping.Incoming)
}

func TestCompileDiamondLevels(t *testing.T) {
	wf := &sdk.Workflow{
		ID: "wf-diamond",
		Nodes: []sdk.Node{
			node("start", blocks.TypeStart, nil),
			node("a", blocks.TypePing, map[string]interface{}{"host": "a"}),
			node("b", blocks.TypePing, map[string]interface{}{"host": "b"}),
			node("join", blocks.TypePing, map[string]interface{}{"host": "j"}),
			node("end", blocks.TypeEnd, nil),
		},
		Edges: []sdk.Edge{
			edge("e1", "start", "out", "a", "in"),
			edge("e2", "start", "out", "b", "in"),
			edge("e3", "a", "out", "join", "in"),
			edge("e4", "b", "out", "join", "in"),
			edge("e5", "join", "out", "end", "in"),
		},
	}

	res := newTestCompiler().Compile(wf)
	require.True(t, res.IsValid, "errors: %v", res.Errors)

	assert.Equal(t, [][]string{{"start"}, {"a", "b"}, {"join"}, {"end"}}, res.DAG.Order)
	assert.Equal(t, []string{"a", "b"}, res.DAG.Nodes["join"].Dependencies)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		wf   *sdk.Workflow
		code string
	}{
		{
			name: "duplicate node id",
			wf: &sdk.Workflow{Nodes: []sdk.Node{
				node("a", blocks.TypeStart, nil),
				node("a", blocks.TypeEnd, nil),
			}},
			code: CodeDuplicateNode,
		},
		{
			name: "unknown block type",
			wf: &sdk.Workflow{Nodes: []sdk.Node{
				node("a", "voodoo.summon", nil),
			}},
			code: CodeUnknownBlockType,
		},
		{
			name: "dangling edge",
			wf: &sdk.Workflow{
				Nodes: []sdk.Node{node("a", blocks.TypeStart, nil)},
				Edges: []sdk.Edge{edge("e1", "a", "out", "ghost", "in")},
			},
			code: CodeDanglingEdge,
		},
		{
			name: "invalid source handle",
			wf: &sdk.Workflow{
				Nodes: []sdk.Node{
					node("c", blocks.TypeCondition, map[string]interface{}{"expression": "{{$vars.x}}"}),
					node("end", blocks.TypeEnd, nil),
				},
				Edges: []sdk.Edge{edge("e1", "c", "maybe", "end", "in")},
			},
			code: CodeInvalidHandle,
		},
		{
			name: "template syntax error",
			wf: &sdk.Workflow{Nodes: []sdk.Node{
				node("p", blocks.TypePing, map[string]interface{}{"host": "{{$vars.a >}}"}),
			}},
			code: CodeTemplateError,
		},
		{
			name: "cel condition error",
			wf: &sdk.Workflow{Nodes: []sdk.Node{
				node("c", blocks.TypeCondition, map[string]interface{}{
					"language": "cel", "expression": "&& broken",
				}),
			}},
			code: CodeConditionError,
		},
		{
			name: "cycle",
			wf: &sdk.Workflow{
				Nodes: []sdk.Node{
					node("a", blocks.TypePing, map[string]interface{}{"host": "a"}),
					node("b", blocks.TypePing, map[string]interface{}{"host": "b"}),
				},
				Edges: []sdk.Edge{
					edge("e1", "a", "out", "b", "in"),
					edge("e2", "b", "out", "a", "in"),
				},
			},
			code: CodeCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestCompiler().Compile(tt.wf)
			require.False(t, res.IsValid)
			require.Nil(t, res.DAG)

			var codes []string
			for _, issue := range res.Errors {
				codes = append(codes, issue.Code)
			}
			assert.Contains(t, codes, tt.code)
		})
	}
}

func loopWorkflow() *sdk.Workflow {
	return &sdk.Workflow{
		ID: "wf-loop",
		Nodes: []sdk.Node{
			node("start", blocks.TypeStart, nil),
			node("loop", blocks.TypeLoop, map[string]interface{}{
				"mode": "array", "array": "{{$vars.hosts}}", "variable_name": "h",
			}),
			node("ping", blocks.TypePing, map[string]interface{}{"host": "{{$vars.h}}"}),
			node("end", blocks.TypeEnd, nil),
		},
		Edges: []sdk.Edge{
			edge("e1", "start", "out", "loop", "in"),
			edge("e2", "loop", "iteration", "ping", "in"),
			edge("e3", "ping", "out", "loop", "in"),
			edge("e4", "loop", "complete", "end", "in"),
		},
	}
}

func TestCompileLoopDesugaring(t *testing.T) {
	res := newTestCompiler().Compile(loopWorkflow())
	require.True(t, res.IsValid, "errors: %v", res.Errors)

	// The body subgraph is folded into the loop node.
	assert.Equal(t, [][]string{{"start"}, {"loop"}, {"end"}}, res.DAG.Order)
	require.NotContains(t, res.DAG.Nodes, "ping")

	loop := res.DAG.Nodes["loop"]
	require.NotNil(t, loop.Body)
	assert.Equal(t, []string{"ping"}, loop.Body.EntryPoints)
	assert.Equal(t, [][]string{{"ping"}}, loop.Body.Order)
	assert.Equal(t, []string{"end"}, loop.Outputs[blocks.HandleComplete])
	assert.NotContains(t, loop.Outputs, blocks.HandleIteration)

	assert.Equal(t, 4, res.DAG.TotalNodes())
}

func TestCompileLoopBodyOverlap(t *testing.T) {
	wf := &sdk.Workflow{
		Nodes: []sdk.Node{
			node("loop", blocks.TypeLoop, map[string]interface{}{"mode": "count", "count": float64(2)}),
			node("shared", blocks.TypePing, map[string]interface{}{"host": "x"}),
		},
		Edges: []sdk.Edge{
			edge("e1", "loop", "iteration", "shared", "in"),
			edge("e2", "loop", "complete", "shared", "in"),
		},
	}

	res := newTestCompiler().Compile(wf)
	require.False(t, res.IsValid)
	assert.Equal(t, CodeLoopBodyOverlap, res.Errors[0].Code)
}

func TestCompileWarnings(t *testing.T) {
	wf := linearWorkflow()
	wf.Nodes = append(wf.Nodes, node("orphan", blocks.TypePing, map[string]interface{}{"host": "o"}))

	res := newTestCompiler().Compile(wf)
	require.True(t, res.IsValid)

	var codes []string
	for _, w := range res.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, CodeUnreachableNode)
}

func TestCompileMissingRequiredParam(t *testing.T) {
	wf := &sdk.Workflow{
		Nodes: []sdk.Node{
			node("start", blocks.TypeStart, nil),
			node("ping", blocks.TypePing, nil),
		},
		Edges: []sdk.Edge{edge("e1", "start", "out", "ping", "in")},
	}

	res := newTestCompiler().Compile(wf)
	require.True(t, res.IsValid)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, CodeMissingParam, res.Warnings[0].Code)
}

func TestCompileVariableRaceWarning(t *testing.T) {
	wf := &sdk.Workflow{
		Nodes: []sdk.Node{
			node("start", blocks.TypeStart, nil),
			node("set1", blocks.TypeVariableSet, map[string]interface{}{"name": "x", "value": "1"}),
			node("set2", blocks.TypeVariableSet, map[string]interface{}{"name": "x", "value": "2"}),
		},
		Edges: []sdk.Edge{
			edge("e1", "start", "out", "set1", "in"),
			edge("e2", "start", "out", "set2", "in"),
		},
	}

	res := newTestCompiler().Compile(wf)
	require.True(t, res.IsValid)

	var codes []string
	for _, w := range res.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, CodeVariableRace)
}

func TestCompileDeterministic(t *testing.T) {
	c := newTestCompiler()
	first := c.Compile(loopWorkflow())
	second := c.Compile(loopWorkflow())
	assert.True(t, reflect.DeepEqual(first, second))
}
