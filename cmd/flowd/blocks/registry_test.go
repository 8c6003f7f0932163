package blocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinDefinitions(t *testing.T) {
	r := NewRegistry()

	def, ok := r.Definition(TypeCondition)
	require.True(t, ok)
	assert.True(t, def.ControlFlow)
	assert.True(t, def.HasOutput(HandleTrue))
	assert.True(t, def.HasOutput(HandleFalse))
	assert.False(t, def.HasOutput("maybe"))
	assert.True(t, def.HasInput(HandleIn))

	def, ok = r.Definition(TypePing)
	require.True(t, ok)
	assert.False(t, def.ControlFlow)

	p, ok := def.Param("host")
	require.True(t, ok)
	assert.True(t, p.Required)
}

func TestParallelBranchHandles(t *testing.T) {
	r := NewRegistry()

	def, ok := r.Definition(TypeParallel)
	require.True(t, ok)
	assert.True(t, def.HasOutput("branch_1"))
	assert.True(t, def.HasOutput("branch_12"))
	assert.True(t, def.HasOutput(HandleOut))
	assert.False(t, def.HasOutput("branch_"))
	assert.False(t, def.HasOutput("side_1"))

	// Convergence happens at the level barrier, so the block declares no
	// parameters of its own.
	assert.Empty(t, def.Params)
	_, ok = def.Param("wait_for_all")
	assert.False(t, ok)
	_, ok = def.Param("timeout")
	assert.False(t, ok)
}

func TestRegisterHandler(t *testing.T) {
	r := NewRegistry()

	err := r.RegisterHandler("traffic.teleport", EchoHandler())
	assert.ErrorIs(t, err, ErrUnknownBlockType)

	require.NoError(t, r.RegisterHandler(TypePing, EchoHandler()))
	h, ok := r.Handler(TypePing)
	require.True(t, ok)

	res, err := h.Invoke(context.Background(), map[string]interface{}{"host": "8.8.8.8"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]interface{}{"host": "8.8.8.8"}, res.Output)
}

func TestIsControlFlow(t *testing.T) {
	assert.True(t, IsControlFlow(TypeLoop))
	assert.True(t, IsControlFlow(TypeVariableSet))
	assert.False(t, IsControlFlow(TypePing))
	assert.False(t, IsControlFlow("traffic.unknown"))
}
