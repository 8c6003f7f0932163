package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

func testContext() *execctx.Context {
	ctx := execctx.New("exec-1", "wf-1",
		map[string]interface{}{"region": "eu-west"},
		nil,
		map[string]interface{}{"threshold": 100},
		nil,
	)
	ctx.SetResult(&sdk.NodeResult{NodeID: "probe", Success: true, Output: map[string]interface{}{
		"rtt_ms":  float64(42),
		"success": true,
	}})
	return ctx
}

func TestEvaluate(t *testing.T) {
	e := NewEvaluator()
	ctx := testContext()

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"prev field", `prev.rtt_ms < 100.0`, true},
		{"dollar shorthand", `$.success == true`, true},
		{"vars binding", `vars.threshold == 100`, true},
		{"env binding", `env.region == "eu-west"`, true},
		{"combined", `prev.rtt_ms < 100.0 && env.region != "us-east"`, true},
		{"false branch", `prev.rtt_ms > 100.0`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCachesPrograms(t *testing.T) {
	e := NewEvaluator()
	ctx := testContext()

	_, err := e.Evaluate(`prev.rtt_ms < 100.0`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	_, err = e.Evaluate(`prev.rtt_ms < 100.0`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}

func TestEvaluateErrors(t *testing.T) {
	e := NewEvaluator()
	ctx := testContext()

	_, err := e.Evaluate(`prev.rtt_ms +`, ctx)
	assert.Error(t, err)

	_, err = e.Evaluate(`vars.threshold`, ctx)
	assert.Error(t, err, "non-boolean result is rejected")
}

func TestValidate(t *testing.T) {
	e := NewEvaluator()

	assert.NoError(t, e.Validate(`prev.success == true`))
	assert.Equal(t, 1, e.CacheSize())
	assert.Error(t, e.Validate(`&& nope`))
}
