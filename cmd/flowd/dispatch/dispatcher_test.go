package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/blocks"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/compiler"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
	"github.com/goranjovic55/NOP-sub008/common/logger"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
	"github.com/goranjovic55/NOP-sub008/common/store"
)

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

func execNode(id, typ string, config map[string]interface{}) *compiler.ExecNode {
	if config == nil {
		config = map[string]interface{}{}
	}
	return &compiler.ExecNode{ID: id, Type: typ, Config: config}
}

func TestDispatchResolvesTemplates(t *testing.T) {
	registry := blocks.NewRegistry()
	require.NoError(t, registry.RegisterHandler(blocks.TypePing, blocks.EchoHandler()))
	d := New(registry, nil, testLogger())

	ec := execctx.New("exec-1", "wf-1", nil, nil, map[string]interface{}{"target": "8.8.8.8"}, nil)
	node := execNode("ping", blocks.TypePing, map[string]interface{}{"host": "{{$vars.target}}"})

	res := d.Dispatch(context.Background(), node, ec, Options{})
	require.True(t, res.Success, "error: %s", res.Error)

	output := res.Output.(map[string]interface{})
	assert.Equal(t, "8.8.8.8", output["host"])
	assert.Equal(t, "ping", res.NodeID)
	assert.False(t, res.CompletedAt.Before(res.StartedAt))
}

func TestDispatchUnknownHandler(t *testing.T) {
	d := New(blocks.NewRegistry(), nil, testLogger())
	ec := execctx.New("exec-1", "wf-1", nil, nil, nil, nil)

	res := d.Dispatch(context.Background(), execNode("p", blocks.TypePing, nil), ec, Options{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no handler")
}

func TestDispatchCredentialSubstitution(t *testing.T) {
	registry := blocks.NewRegistry()
	require.NoError(t, registry.RegisterHandler(blocks.TypeSSHExec, blocks.EchoHandler()))

	creds := store.NewMemoryCredentials(nil)
	creds.Add("router-admin", &store.Credential{Username: "admin", Password: "s3cret", PrivateKey: "/keys/id_rsa"})
	d := New(registry, creds, testLogger())

	ec := execctx.New("exec-1", "wf-1", nil, nil, nil, nil)
	node := execNode("ssh", blocks.TypeSSHExec, map[string]interface{}{
		"host":          "10.0.0.1",
		"command":       "uname",
		"credential_id": "router-admin",
		"username":      "override",
	})

	res := d.Dispatch(context.Background(), node, ec, Options{})
	require.True(t, res.Success, "error: %s", res.Error)

	output := res.Output.(map[string]interface{})
	assert.Equal(t, "override", output["username"], "inline field wins")
	assert.Equal(t, "s3cret", output["password"])
	assert.Equal(t, "/keys/id_rsa", output["key_file"])
	assert.NotContains(t, output, "credential_id")
}

func TestDispatchCredentialFailure(t *testing.T) {
	registry := blocks.NewRegistry()
	require.NoError(t, registry.RegisterHandler(blocks.TypeSSHExec, blocks.EchoHandler()))
	d := New(registry, store.NewMemoryCredentials(nil), testLogger())

	ec := execctx.New("exec-1", "wf-1", nil, nil, nil, nil)
	node := execNode("ssh", blocks.TypeSSHExec, map[string]interface{}{
		"host": "h", "command": "uname", "credential_id": "ghost",
	})

	res := d.Dispatch(context.Background(), node, ec, Options{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "credential resolution failed")
}

func TestDispatchTimeout(t *testing.T) {
	registry := blocks.NewRegistry()
	slow := blocks.HandlerFunc(func(ctx context.Context, params map[string]interface{}) (*sdk.HandlerResult, error) {
		select {
		case <-time.After(2 * time.Second):
			return &sdk.HandlerResult{Success: true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.NoError(t, registry.RegisterHandler(blocks.TypePing, slow))
	d := New(registry, nil, testLogger())

	ec := execctx.New("exec-1", "wf-1", nil, nil, nil, nil)
	node := execNode("ping", blocks.TypePing, map[string]interface{}{"host": "h"})

	start := time.Now()
	res := d.Dispatch(context.Background(), node, ec, Options{Timeout: 50 * time.Millisecond})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatchNodeTimeoutOverride(t *testing.T) {
	registry := blocks.NewRegistry()
	slow := blocks.HandlerFunc(func(ctx context.Context, params map[string]interface{}) (*sdk.HandlerResult, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return &sdk.HandlerResult{Success: true, Output: "done"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.NoError(t, registry.RegisterHandler(blocks.TypePing, slow))
	d := New(registry, nil, testLogger())

	ec := execctx.New("exec-1", "wf-1", nil, nil, nil, nil)
	node := execNode("ping", blocks.TypePing, map[string]interface{}{
		"host": "h", "timeout": float64(5),
	})

	// Node-level timeout (5s) overrides the tighter workflow default.
	res := d.Dispatch(context.Background(), node, ec, Options{Timeout: 10 * time.Millisecond})
	assert.True(t, res.Success)
}

func TestDispatchSkippedWhenCancelled(t *testing.T) {
	registry := blocks.NewRegistry()
	invoked := false
	require.NoError(t, registry.RegisterHandler(blocks.TypePing, blocks.HandlerFunc(
		func(ctx context.Context, params map[string]interface{}) (*sdk.HandlerResult, error) {
			invoked = true
			return &sdk.HandlerResult{Success: true}, nil
		})))
	d := New(registry, nil, testLogger())

	ec := execctx.New("exec-1", "wf-1", nil, nil, nil, nil)
	ec.Cancel()

	res := d.Dispatch(context.Background(), execNode("ping", blocks.TypePing, map[string]interface{}{"host": "h"}), ec, Options{})
	assert.True(t, res.Skipped)
	assert.False(t, res.Success)
	assert.False(t, invoked)
}

func TestDispatchDryRun(t *testing.T) {
	// No handler registered: dry run still succeeds via the echo handler.
	d := New(blocks.NewRegistry(), nil, testLogger())
	ec := execctx.New("exec-1", "wf-1", nil, nil, nil, nil)

	res := d.Dispatch(context.Background(), execNode("ping", blocks.TypePing, map[string]interface{}{"host": "h"}), ec, Options{DryRun: true})
	require.True(t, res.Success)
	output := res.Output.(map[string]interface{})
	assert.Equal(t, "h", output["host"])
}
