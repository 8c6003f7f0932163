package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

func testContext() *execctx.Context {
	env := map[string]interface{}{
		"region": "eu-west",
		"dns":    map[string]interface{}{"primary": "1.1.1.1", "secondary": "8.8.8.8"},
	}
	creds := map[string]interface{}{
		"router-admin": map[string]interface{}{"username": "admin", "password": "s3cret"},
	}
	vars := map[string]interface{}{
		"host":  "10.0.0.1",
		"count": float64(3),
		"input": map[string]interface{}{"target": "core-switch"},
		"tags":  []interface{}{"edge", "core", "lab"},
	}
	ctx := execctx.New("exec-1", "wf-1", env, creds, vars, nil)

	ctx.SetResult(&sdk.NodeResult{NodeID: "ping-1", Success: true, Output: map[string]interface{}{
		"success":  true,
		"rtt_ms":   float64(12.5),
		"attempts": []interface{}{float64(11), float64(14), float64(12)},
	}})
	ctx.SetResult(&sdk.NodeResult{NodeID: "dns-1", Success: true, Output: map[string]interface{}{
		"resolved": "93.184.216.34",
	}})
	return ctx
}

func TestEvaluatePaths(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name     string
		template string
		want     interface{}
	}{
		{"vars scalar", "{{$vars.host}}", "10.0.0.1"},
		{"bare identifier hits workflow scope", "{{host}}", "10.0.0.1"},
		{"bare identifier falls back to env", "{{region}}", "eu-west"},
		{"env nested", "{{$env.dns.primary}}", "1.1.1.1"},
		{"creds field", "{{$creds.router-admin.username}}", "admin"},
		{"input alias", "{{$input.target}}", "core-switch"},
		{"prev bare is last output", "{{$prev.resolved}}", "93.184.216.34"},
		{"prev numeric offset", "{{$prev.1.rtt_ms}}", float64(12.5)},
		{"prev by node id", "{{$prev.ping-1.success}}", true},
		{"prev array index", "{{$prev.ping-1.attempts.1}}", float64(14)},
		{"missing path is nil", "{{$vars.nope.deep}}", nil},
		{"missing node is nil", "{{$prev.ghost.output}}", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.template, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateOperators(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name     string
		template string
		want     interface{}
	}{
		{"numeric gt", "{{$prev.1.rtt_ms > 10}}", true},
		{"numeric lte", "{{$vars.count <= 2}}", false},
		{"string eq", "{{$vars.host == '10.0.0.1'}}", true},
		{"neq", "{{$env.region != 'us-east'}}", true},
		{"and", "{{$vars.count > 1 && $prev.ping-1.success}}", true},
		{"or short circuit", "{{$vars.missing || $vars.host}}", true},
		{"not", "{{!$vars.missing}}", true},
		{"grouping", "{{!($vars.count > 5)}}", true},
		{"null literal", "{{$vars.missing == null}}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.template, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateFilters(t *testing.T) {
	ctx := testContext()
	ctx.SetVariable("raw", "  Core-Switch  ")
	ctx.SetVariable("csv", "a,b,c")

	tests := []struct {
		name     string
		template string
		want     interface{}
	}{
		{"trim", "{{$vars.raw | trim}}", "Core-Switch"},
		{"chained", "{{$vars.raw | trim | upper}}", "CORE-SWITCH"},
		{"lower", "{{$vars.host | lower}}", "10.0.0.1"},
		{"length of string", "{{$vars.csv | length}}", 5},
		{"length of array", "{{$vars.tags | length}}", 3},
		{"split", "{{$vars.csv | split(',')}}", []interface{}{"a", "b", "c"}},
		{"join", "{{$vars.tags | join('-')}}", "edge-core-lab"},
		{"first", "{{$vars.tags | first}}", "edge"},
		{"last", "{{$vars.tags | last}}", "lab"},
		{"default on missing", "{{$vars.missing | default('fallback')}}", "fallback"},
		{"default passthrough", "{{$vars.host | default('fallback')}}", "10.0.0.1"},
		{"type mismatch passes through", "{{$vars.count | trim}}", float64(3)},
		{"unknown filter passes through", "{{$vars.host | sparkle}}", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.template, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpolation(t *testing.T) {
	ctx := testContext()

	got, err := Evaluate("ping {{$vars.host}} from {{$env.region}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping 10.0.0.1 from eu-west", got)

	got, err = Evaluate("missing=[{{$vars.nope}}]", ctx)
	require.NoError(t, err)
	assert.Equal(t, "missing=[]", got)

	got, err = Evaluate("plain string without placeholders", ctx)
	require.NoError(t, err)
	assert.Equal(t, "plain string without placeholders", got)
}

func TestWholeStringKeepsNativeType(t *testing.T) {
	ctx := testContext()

	got, err := Evaluate("{{$vars.count}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(3), got)

	got, err = Evaluate("{{$vars.tags}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"edge", "core", "lab"}, got)

	got, err = Evaluate("count: {{$vars.count}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "count: 3", got)
}

func TestLoopScope(t *testing.T) {
	ctx := testContext()
	ctx.PushLoopFrame(&execctx.LoopFrame{
		Index:     1,
		Iteration: 2,
		Item:      "10.0.0.2",
		Array:     []interface{}{"10.0.0.1", "10.0.0.2"},
		Last:      true,
	})
	defer ctx.PopLoopFrame()

	got, err := Evaluate("{{$loop.item}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", got)

	got, err = Evaluate("{{$loop.index}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got)

	got, err = Evaluate("{{$loop.last}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{
		{"unclosed braces", "hello {{$vars.host"},
		{"dangling operator", "{{$vars.a >}}"},
		{"unterminated string", "{{'abc}}"},
		{"bad filter call", "{{$vars.a | split(}}"},
		{"trailing garbage", "{{$vars.a $vars.b}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.template)
			assert.Error(t, err)
		})
	}
}

func TestResolveAny(t *testing.T) {
	ctx := testContext()

	config := map[string]interface{}{
		"target":  "{{$vars.host}}",
		"count":   float64(4),
		"command": "ping -c {{$vars.count}} {{$vars.host}}",
		"nested": map[string]interface{}{
			"servers": []interface{}{"{{$env.dns.primary}}", "{{$env.dns.secondary}}"},
		},
	}

	resolved, err := ResolveAny(config, ctx)
	require.NoError(t, err)

	out := resolved.(map[string]interface{})
	assert.Equal(t, "10.0.0.1", out["target"])
	assert.Equal(t, float64(4), out["count"])
	assert.Equal(t, "ping -c 3 10.0.0.1", out["command"])
	nested := out["nested"].(map[string]interface{})
	assert.Equal(t, []interface{}{"1.1.1.1", "8.8.8.8"}, nested["servers"].([]interface{}))
}

func TestValidateAny(t *testing.T) {
	assert.NoError(t, ValidateAny(map[string]interface{}{
		"ok": "{{$vars.a | trim}}",
	}))
	assert.Error(t, ValidateAny(map[string]interface{}{
		"bad": "{{$vars.a >}}",
	}))
}
