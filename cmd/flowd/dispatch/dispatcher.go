package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/blocks"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/compiler"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/expr"
	"github.com/goranjovic55/NOP-sub008/common/logger"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
	"github.com/goranjovic55/NOP-sub008/common/store"
)

// Options carries per-dispatch settings from the scheduler.
type Options struct {
	// Timeout is the workflow-level per-node timeout. A node config
	// "timeout" (seconds) overrides it; zero means unbounded.
	Timeout time.Duration

	// DryRun substitutes the echo handler for every non-control block.
	DryRun bool
}

// Dispatcher resolves node parameters, substitutes credentials and invokes
// block handlers under a timeout. Handlers receive only resolved parameters,
// never the execution context.
type Dispatcher struct {
	registry *blocks.Registry
	creds    store.CredentialResolver
	log      *logger.Logger
}

// New creates a dispatcher. creds may be nil when no credential-bearing
// blocks are registered.
func New(registry *blocks.Registry, creds store.CredentialResolver, log *logger.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, creds: creds, log: log}
}

// Dispatch runs one node to a NodeResult. Failures never propagate as
// errors; they are wrapped so the scheduler can apply the error policy.
func (d *Dispatcher) Dispatch(ctx context.Context, node *compiler.ExecNode, ec *execctx.Context, opts Options) *sdk.NodeResult {
	started := time.Now().UTC()

	if ec.Cancelled() {
		return skippedResult(node.ID, "cancelled", started)
	}

	ec.SetCurrentNodeID(node.ID)

	resolved, err := resolveConfig(node.Config, ec)
	if err != nil {
		return failedResult(node.ID, fmt.Sprintf("parameter resolution failed: %v", err), started)
	}

	if err := d.substituteCredentials(ctx, resolved); err != nil {
		return failedResult(node.ID, err.Error(), started)
	}

	handler, err := d.lookupHandler(node.Type, opts.DryRun)
	if err != nil {
		return failedResult(node.ID, err.Error(), started)
	}

	d.log.Debug("dispatching node", "node_id", node.ID, "type", node.Type, "dry_run", opts.DryRun)

	timeout := opts.Timeout
	if secs, ok := numberParam(resolved, "timeout"); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	ictx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res *sdk.HandlerResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := handler.Invoke(ictx, resolved)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return wrapOutcome(node.ID, out.res, out.err, started)

	case <-ictx.Done():
		if ec.Cancelled() {
			return skippedResult(node.ID, "cancelled", started)
		}
		return failedResult(node.ID, fmt.Sprintf("node timed out after %s", timeout), started)
	}
}

// resolveConfig evaluates every template in the node config.
func resolveConfig(config map[string]interface{}, ec *execctx.Context) (map[string]interface{}, error) {
	resolved, err := expr.ResolveAny(config, ec)
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]interface{})
	if !ok {
		out = map[string]interface{}{}
	}
	return out, nil
}

// substituteCredentials replaces a credential_id parameter with the
// resolved username, password and key_file fields. Inline fields already
// present in the config take precedence and are preserved.
func (d *Dispatcher) substituteCredentials(ctx context.Context, resolved map[string]interface{}) error {
	cid, ok := resolved["credential_id"].(string)
	if !ok || cid == "" {
		return nil
	}
	if d.creds == nil {
		return fmt.Errorf("credential %s requested but no resolver configured", cid)
	}

	cred, err := d.creds.Resolve(ctx, cid)
	if err != nil {
		return fmt.Errorf("credential resolution failed for %s: %w", cid, err)
	}

	setIfAbsent(resolved, "username", cred.Username)
	setIfAbsent(resolved, "password", cred.Password)
	setIfAbsent(resolved, "key_file", cred.PrivateKey)
	delete(resolved, "credential_id")
	return nil
}

func (d *Dispatcher) lookupHandler(blockType string, dryRun bool) (blocks.Handler, error) {
	if dryRun {
		return blocks.EchoHandler(), nil
	}
	handler, ok := d.registry.Handler(blockType)
	if !ok {
		return nil, fmt.Errorf("%w: no handler for %s", blocks.ErrUnknownBlockType, blockType)
	}
	return handler, nil
}

func setIfAbsent(m map[string]interface{}, key, value string) {
	if value == "" {
		return
	}
	if existing, ok := m[key]; ok {
		if s, isStr := existing.(string); !isStr || s != "" {
			return
		}
	}
	m[key] = value
}

func numberParam(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func wrapOutcome(nodeID string, res *sdk.HandlerResult, err error, started time.Time) *sdk.NodeResult {
	completed := time.Now().UTC()
	out := &sdk.NodeResult{
		NodeID:      nodeID,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if res == nil {
		out.Error = "handler returned no result"
		return out
	}
	out.Success = res.Success
	out.Output = res.Output
	out.Error = res.Error
	out.NextHandle = res.NextHandle
	return out
}

func failedResult(nodeID, msg string, started time.Time) *sdk.NodeResult {
	completed := time.Now().UTC()
	return &sdk.NodeResult{
		NodeID:      nodeID,
		Error:       msg,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	}
}

func skippedResult(nodeID, reason string, started time.Time) *sdk.NodeResult {
	completed := time.Now().UTC()
	return &sdk.NodeResult{
		NodeID:      nodeID,
		Skipped:     true,
		Error:       reason,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	}
}
