package execctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

func TestCompletionOrder(t *testing.T) {
	ctx := New("exec-1", "wf-1", nil, nil, nil, nil)

	ctx.SetResult(&sdk.NodeResult{NodeID: "a", Success: true, Output: "first"})
	ctx.SetResult(&sdk.NodeResult{NodeID: "b", Success: true, Output: "second"})
	ctx.SetResult(&sdk.NodeResult{NodeID: "c", Success: true, Output: "third"})

	last, ok := ctx.PrevResult(0)
	require.True(t, ok)
	assert.Equal(t, "c", last.NodeID)

	back, ok := ctx.PrevResult(2)
	require.True(t, ok)
	assert.Equal(t, "a", back.NodeID)

	_, ok = ctx.PrevResult(3)
	assert.False(t, ok)
}

func TestSetResultOverwriteMovesToEnd(t *testing.T) {
	ctx := New("exec-1", "wf-1", nil, nil, nil, nil)

	ctx.SetResult(&sdk.NodeResult{NodeID: "a", Output: 1})
	ctx.SetResult(&sdk.NodeResult{NodeID: "b", Output: 2})
	ctx.SetResult(&sdk.NodeResult{NodeID: "a", Output: 3})

	last, ok := ctx.PrevResult(0)
	require.True(t, ok)
	assert.Equal(t, "a", last.NodeID)
	assert.Equal(t, 3, last.Output)

	res, _ := ctx.Result("a")
	assert.Equal(t, 3, res.Output)
}

func TestResetNodes(t *testing.T) {
	ctx := New("exec-1", "wf-1", nil, nil, nil, nil)

	ctx.SetResult(&sdk.NodeResult{NodeID: "body", Success: true})
	ctx.SetNodeStatus("body", sdk.NodeStatusCompleted)

	ctx.ResetNodes([]string{"body"})

	_, ok := ctx.Result("body")
	assert.False(t, ok)
	assert.Equal(t, sdk.NodeStatusPending, ctx.NodeStatus("body"))
	_, ok = ctx.PrevResult(0)
	assert.False(t, ok)
}

func TestLoopFrameStack(t *testing.T) {
	ctx := New("exec-1", "wf-1", nil, nil, nil, nil)
	assert.Nil(t, ctx.LoopFrame())

	outer := &LoopFrame{Index: 0, Iteration: 1, First: true}
	inner := &LoopFrame{Index: 2, Iteration: 3}

	ctx.PushLoopFrame(outer)
	ctx.PushLoopFrame(inner)
	assert.Equal(t, inner, ctx.LoopFrame())

	ctx.PopLoopFrame()
	assert.Equal(t, outer, ctx.LoopFrame())

	ctx.PopLoopFrame()
	assert.Nil(t, ctx.LoopFrame())
}

func TestControlFlags(t *testing.T) {
	ctx := New("exec-1", "wf-1", nil, nil, nil, nil)

	assert.False(t, ctx.Cancelled())
	assert.False(t, ctx.Paused())

	ctx.SetPaused(true)
	assert.True(t, ctx.Paused())
	ctx.SetPaused(false)
	assert.False(t, ctx.Paused())

	ctx.Cancel()
	assert.True(t, ctx.Cancelled())
}

func TestVariableScopes(t *testing.T) {
	env := map[string]interface{}{"region": "eu-west"}
	vars := map[string]interface{}{"host": "10.0.0.1"}
	ctx := New("exec-1", "wf-1", env, nil, vars, nil)

	v, ok := ctx.Variable("host")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	ctx.SetVariable("host", "10.0.0.2")
	v, _ = ctx.Variable("host")
	assert.Equal(t, "10.0.0.2", v)

	e, ok := ctx.Env("region")
	require.True(t, ok)
	assert.Equal(t, "eu-west", e)

	snapshot := ctx.VariablesSnapshot()
	snapshot["host"] = "mutated"
	v, _ = ctx.Variable("host")
	assert.Equal(t, "10.0.0.2", v)
}
