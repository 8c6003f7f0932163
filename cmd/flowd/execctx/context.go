package execctx

import (
	"sync"
	"sync/atomic"

	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

// EventSink is the one-way outlet the scheduler emits events into.
// The stream package implements it.
type EventSink interface {
	Emit(event sdk.Event)
}

// CredentialLookup resolves a credential id on demand. The registry backs
// it with the store's CredentialResolver so $creds references reach real
// credentials instead of only statically seeded ones.
type CredentialLookup func(id string) (map[string]interface{}, bool)

// LoopFrame holds per-iteration variables exposed as $loop.*.
type LoopFrame struct {
	Index     int           `json:"index"`
	Iteration int           `json:"iteration"`
	First     bool          `json:"first"`
	Last      bool          `json:"last"`
	Item      interface{}   `json:"item"`
	Array     []interface{} `json:"array"`
}

// Context is the per-run execution state. The scheduler is the single
// writer; the RWMutex exists so registry snapshots and expression
// evaluation can read concurrently with in-flight workers.
type Context struct {
	ExecutionID string
	WorkflowID  string

	mu              sync.RWMutex
	env             map[string]interface{}
	credentials     map[string]interface{}
	variables       map[string]interface{}
	results         map[string]*sdk.NodeResult
	completionOrder []string
	statuses        map[string]sdk.NodeStatus
	currentNodeID   string
	loopFrames      []*LoopFrame

	cancelled atomic.Bool
	paused    atomic.Bool

	credLookup CredentialLookup
	sink       EventSink
}

// New creates an execution context. env and credentials are read-only after
// init; variables is the mutable workflow scope seeded from the document and
// caller overrides.
func New(executionID, workflowID string, env, credentials, variables map[string]interface{}, sink EventSink) *Context {
	if env == nil {
		env = make(map[string]interface{})
	}
	if credentials == nil {
		credentials = make(map[string]interface{})
	}
	if variables == nil {
		variables = make(map[string]interface{})
	}
	return &Context{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		env:         env,
		credentials: credentials,
		variables:   variables,
		results:     make(map[string]*sdk.NodeResult),
		statuses:    make(map[string]sdk.NodeStatus),
		sink:        sink,
	}
}

// Emit forwards an event to the sink, if any.
func (c *Context) Emit(event sdk.Event) {
	if c.sink != nil {
		c.sink.Emit(event)
	}
}

// Env returns the value of a global environment entry.
func (c *Context) Env(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.env[name]
	return v, ok
}

// EnvSnapshot returns a copy of the environment scope.
func (c *Context) EnvSnapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.env)
}

// SetCredentialLookup installs the on-demand resolver. Must be called
// before the run starts; resolved credentials are cached in the scope.
func (c *Context) SetCredentialLookup(lookup CredentialLookup) {
	c.credLookup = lookup
}

// Credential returns the credential mapping stored under an id, consulting
// the lookup hook on a scope miss.
func (c *Context) Credential(id string) (interface{}, bool) {
	c.mu.RLock()
	v, ok := c.credentials[id]
	c.mu.RUnlock()
	if ok {
		return v, true
	}
	if c.credLookup == nil {
		return nil, false
	}
	resolved, ok := c.credLookup(id)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	c.credentials[id] = resolved
	c.mu.Unlock()
	return resolved, true
}

// CredentialsSnapshot returns a copy of the credentials scope.
func (c *Context) CredentialsSnapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.credentials)
}

// Variable returns a workflow-scope variable.
func (c *Context) Variable(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// SetVariable sets a workflow-scope variable.
func (c *Context) SetVariable(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// SeedVariables merges a mapping into the workflow scope.
func (c *Context) SeedVariables(values map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.variables[k] = v
	}
}

// VariablesSnapshot returns a copy of the workflow scope.
func (c *Context) VariablesSnapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.variables)
}

// Result returns the last completed result for a node.
func (c *Context) Result(nodeID string) (*sdk.NodeResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[nodeID]
	return r, ok
}

// SetResult records a node result. Re-execution inside loops overwrites the
// prior entry and moves the node to the end of the completion order.
func (c *Context) SetResult(result *sdk.NodeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.results[result.NodeID]; exists {
		for i, id := range c.completionOrder {
			if id == result.NodeID {
				c.completionOrder = append(c.completionOrder[:i], c.completionOrder[i+1:]...)
				break
			}
		}
	}
	c.results[result.NodeID] = result
	c.completionOrder = append(c.completionOrder, result.NodeID)
}

// PrevResult returns the result n positions back in completion order.
// n == 0 is the most recently completed node.
func (c *Context) PrevResult(n int) (*sdk.NodeResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := len(c.completionOrder) - 1 - n
	if idx < 0 || idx >= len(c.completionOrder) {
		return nil, false
	}
	r, ok := c.results[c.completionOrder[idx]]
	return r, ok
}

// ResultsSnapshot returns a copy of all node results.
func (c *Context) ResultsSnapshot() map[string]*sdk.NodeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*sdk.NodeResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// ResetNodes clears results and statuses for the given nodes. Used before
// each loop iteration to re-run the body subgraph.
func (c *Context) ResetNodes(nodeIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range nodeIDs {
		if _, exists := c.results[id]; exists {
			delete(c.results, id)
			for i, ordered := range c.completionOrder {
				if ordered == id {
					c.completionOrder = append(c.completionOrder[:i], c.completionOrder[i+1:]...)
					break
				}
			}
		}
		c.statuses[id] = sdk.NodeStatusPending
	}
}

// NodeStatus returns the current status of a node.
func (c *Context) NodeStatus(nodeID string) sdk.NodeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if s, ok := c.statuses[nodeID]; ok {
		return s
	}
	return sdk.NodeStatusPending
}

// SetNodeStatus records a node status transition.
func (c *Context) SetNodeStatus(nodeID string, status sdk.NodeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[nodeID] = status
}

// StatusSnapshot returns a copy of all node statuses.
func (c *Context) StatusSnapshot() map[string]sdk.NodeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]sdk.NodeStatus, len(c.statuses))
	for k, v := range c.statuses {
		out[k] = v
	}
	return out
}

// CurrentNodeID returns the node whose parameters are being resolved.
func (c *Context) CurrentNodeID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentNodeID
}

// SetCurrentNodeID marks the node whose parameters are being resolved.
func (c *Context) SetCurrentNodeID(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentNodeID = nodeID
}

// LoopFrame returns the innermost loop frame, or nil outside a loop.
func (c *Context) LoopFrame() *LoopFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.loopFrames) == 0 {
		return nil
	}
	return c.loopFrames[len(c.loopFrames)-1]
}

// PushLoopFrame enters a loop iteration. Nested loops stack frames.
func (c *Context) PushLoopFrame(frame *LoopFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loopFrames = append(c.loopFrames, frame)
}

// PopLoopFrame leaves the innermost loop, restoring the outer frame.
func (c *Context) PopLoopFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.loopFrames) > 0 {
		c.loopFrames = c.loopFrames[:len(c.loopFrames)-1]
	}
}

// Cancel sets the cancellation flag. Idempotent.
func (c *Context) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (c *Context) Cancelled() bool {
	return c.cancelled.Load()
}

// SetPaused sets or clears the pause flag.
func (c *Context) SetPaused(paused bool) {
	c.paused.Store(paused)
}

// Paused reports whether a pause was requested.
func (c *Context) Paused() bool {
	return c.paused.Load()
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
