package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/blocks"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/compiler"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/condition"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/dispatch"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/scheduler"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/stream"
	"github.com/goranjovic55/NOP-sub008/common/logger"
	"github.com/goranjovic55/NOP-sub008/common/queue"
	"github.com/goranjovic55/NOP-sub008/common/redis"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
	"github.com/goranjovic55/NOP-sub008/common/store"
)

var (
	// ErrExecutionFinished is returned when a control command targets a
	// terminal execution.
	ErrExecutionFinished = errors.New("execution already finished")
	// ErrCompileFailed is returned by Start when validation rejects the
	// workflow. The execution record carries the issues.
	ErrCompileFailed = errors.New("workflow failed validation")
)

// EventChannel is the Redis pub/sub channel mirroring all run events for
// out-of-process consumers.
const EventChannel = "flowd:executions"

// TopicTerminalSnapshots is the queue topic carrying terminal execution
// snapshots to the persister.
const TopicTerminalSnapshots = "executions.terminal"

const (
	defaultRetentionTTL  = 24 * time.Hour
	defaultSweepInterval = time.Minute
	defaultBufferSize    = 1024
	defaultParallelLimit = 4
)

// Overrides are per-run settings supplied at start time. They layer on top
// of the workflow document without modifying it.
type Overrides struct {
	Variables     map[string]interface{} `json:"variables,omitempty"`
	ErrorHandling string                 `json:"error_handling,omitempty"`
	DryRun        bool                   `json:"dry_run,omitempty"`
}

// Config assembles the registry and its collaborators.
type Config struct {
	Blocks      *blocks.Registry
	Conditions  *condition.Evaluator
	Store       store.DocumentStore
	Credentials store.CredentialResolver
	Queue       queue.Queue
	Events      *redis.Client
	Log         *logger.Logger

	// Env is the process-level variable scope exposed to expressions.
	Env map[string]interface{}

	// RetentionTTL bounds how long finished runs stay queryable in memory.
	RetentionTTL time.Duration

	BufferSize    int
	ParallelLimit int
}

// Registry owns the live executions of this process. It compiles workflows
// synchronously so validation errors surface on the start call, runs each
// scheduler on its own goroutine, and evicts finished runs after the
// retention window. Terminal snapshots flow through the queue to the
// persister and from there to the document store.
type Registry struct {
	blocks      *blocks.Registry
	conditions  *condition.Evaluator
	compiler    *compiler.Compiler
	store       store.DocumentStore
	credentials store.CredentialResolver
	queue       queue.Queue
	events      *redis.Client
	log         *logger.Logger
	env         map[string]interface{}

	retention  time.Duration
	bufferSize int
	parallel   int

	mu   sync.RWMutex
	runs map[string]*Run

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

// Run is one execution tracked by the registry. Compile failures produce a
// run with a frozen snapshot and no scheduler.
type Run struct {
	ID         string
	WorkflowID string

	sched    *scheduler.Scheduler
	streamer *stream.Streamer

	mu         sync.Mutex
	finishedAt time.Time
	frozen     *sdk.ExecutionSnapshot
}

// Snapshot returns the externally visible view of the run.
func (r *Run) Snapshot() *sdk.ExecutionSnapshot {
	r.mu.Lock()
	frozen := r.frozen
	r.mu.Unlock()
	if frozen != nil {
		return frozen
	}
	return r.sched.Snapshot()
}

// Finished reports whether the run reached a terminal state, and when.
func (r *Run) Finished() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt, !r.finishedAt.IsZero()
}

func (r *Run) markFinished() {
	r.mu.Lock()
	r.finishedAt = time.Now().UTC()
	r.mu.Unlock()
}

// New creates a registry and starts its retention janitor.
func New(cfg Config) *Registry {
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = defaultRetentionTTL
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.ParallelLimit < 1 {
		cfg.ParallelLimit = defaultParallelLimit
	}

	r := &Registry{
		blocks:      cfg.Blocks,
		conditions:  cfg.Conditions,
		compiler:    compiler.New(cfg.Blocks, cfg.Conditions),
		store:       cfg.Store,
		credentials: cfg.Credentials,
		queue:       cfg.Queue,
		events:      cfg.Events,
		log:         cfg.Log,
		env:         cfg.Env,
		retention:   cfg.RetentionTTL,
		bufferSize:  cfg.BufferSize,
		parallel:    cfg.ParallelLimit,
		runs:        make(map[string]*Run),
		stopJanitor: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Close stops the janitor and cancels every live run.
func (r *Registry) Close() {
	close(r.stopJanitor)
	<-r.janitorDone

	r.mu.RLock()
	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.RUnlock()

	for _, run := range runs {
		if run.sched != nil && !run.sched.Status().Terminal() {
			_ = run.sched.ApplyControl(sdk.ControlCancel)
		}
	}
}

// Start loads the workflow, compiles it, and launches a scheduler. The
// compile happens on the caller's goroutine so validation failures surface
// immediately; in that case the execution record exists in the failed state
// and the returned error wraps ErrCompileFailed.
func (r *Registry) Start(ctx context.Context, workflowID string, ov *Overrides) (string, error) {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if ov == nil {
		ov = &Overrides{}
	}

	execID := uuid.NewString()
	streamer := stream.New(r.bufferSize)
	r.mirrorEvents(execID, streamer)

	emit := func(from, to sdk.RunStatus) {
		streamer.Emit(sdk.Event{
			Type:        sdk.EventRunStateChanged,
			ExecutionID: execID,
			Timestamp:   time.Now().UTC(),
			OldStatus:   from,
			NewStatus:   to,
		})
	}
	emit(sdk.RunStatusIdle, sdk.RunStatusCompiling)

	result := r.compiler.Compile(wf)
	if !result.IsValid {
		return execID, r.failCompile(ctx, execID, wf, result, streamer, emit)
	}
	emit(sdk.RunStatusCompiling, sdk.RunStatusValidating)

	settings := wf.Settings
	if ov.ErrorHandling != "" {
		settings.ErrorHandling = ov.ErrorHandling
	}
	settings.Normalize(r.parallel)

	variables := make(map[string]interface{}, len(wf.Variables)+len(ov.Variables))
	for k, v := range wf.Variables {
		variables[k] = v
	}
	for k, v := range ov.Variables {
		variables[k] = v
	}

	ec := execctx.New(execID, wf.ID, r.env, nil, variables, streamer)
	if r.credentials != nil {
		ec.SetCredentialLookup(r.credentialLookup(execID))
	}
	sched := scheduler.New(scheduler.Config{
		DAG:        result.DAG,
		Settings:   settings,
		Dispatcher: dispatch.New(r.blocks, r.credentials, r.log),
		Conditions: r.conditions,
		Streamer:   streamer,
		Context:    ec,
		Log:        r.log,
		DryRun:     ov.DryRun,
		Warnings:   issueStrings(result.Warnings),
	})

	run := &Run{ID: execID, WorkflowID: wf.ID, sched: sched, streamer: streamer}
	r.mu.Lock()
	r.runs[execID] = run
	r.mu.Unlock()

	go func() {
		sched.Run(context.Background())
		run.markFinished()
		r.persist(sched.Snapshot())
		streamer.Close()
	}()

	r.log.Info("execution started", "execution_id", execID, "workflow_id", wf.ID, "dry_run", ov.DryRun)
	return execID, nil
}

// credentialLookup bridges $creds expression references to the credential
// resolver, exposing the same fields the dispatcher substitutes.
func (r *Registry) credentialLookup(execID string) execctx.CredentialLookup {
	return func(id string) (map[string]interface{}, bool) {
		cred, err := r.credentials.Resolve(context.Background(), id)
		if err != nil {
			r.log.Warn("credential resolution failed", "execution_id", execID, "credential_id", id, "error", err)
			return nil, false
		}
		return map[string]interface{}{
			"username":    cred.Username,
			"password":    cred.Password,
			"private_key": cred.PrivateKey,
		}, true
	}
}

// failCompile records a failed execution without running any node.
func (r *Registry) failCompile(ctx context.Context, execID string, wf *sdk.Workflow, result *compiler.CompileResult, streamer *stream.Streamer, emit func(from, to sdk.RunStatus)) error {
	issues := issueStrings(result.Errors)
	now := time.Now().UTC()

	emit(sdk.RunStatusCompiling, sdk.RunStatusFailed)
	for _, issue := range issues {
		streamer.Emit(sdk.Event{
			Type:        sdk.EventError,
			ExecutionID: execID,
			Timestamp:   time.Now().UTC(),
			Error:       issue,
		})
	}
	streamer.Emit(sdk.Event{
		Type:        sdk.EventComplete,
		ExecutionID: execID,
		Timestamp:   time.Now().UTC(),
		Summary:     &sdk.Summary{Status: sdk.RunStatusFailed, Errors: issues},
	})

	snapshot := &sdk.ExecutionSnapshot{
		ID:          execID,
		WorkflowID:  wf.ID,
		Status:      sdk.RunStatusFailed,
		StartedAt:   now,
		CompletedAt: &now,
		Errors:      issues,
		Warnings:    issueStrings(result.Warnings),
	}

	run := &Run{ID: execID, WorkflowID: wf.ID, streamer: streamer, frozen: snapshot}
	run.markFinished()
	r.mu.Lock()
	r.runs[execID] = run
	r.mu.Unlock()

	r.persist(snapshot)
	streamer.Close()

	r.log.Warn("workflow failed validation", "workflow_id", wf.ID, "issues", len(issues))
	return fmt.Errorf("%w: %d issues", ErrCompileFailed, len(issues))
}

// Get returns the snapshot of a live run, falling back to the document
// store for evicted ones.
func (r *Registry) Get(ctx context.Context, executionID string) (*sdk.ExecutionSnapshot, error) {
	r.mu.RLock()
	run, ok := r.runs[executionID]
	r.mu.RUnlock()
	if ok {
		return run.Snapshot(), nil
	}
	return r.store.GetExecution(ctx, executionID)
}

// Subscribe attaches a consumer to a run's event stream. Subscribing to a
// finished run yields an immediately closed channel.
func (r *Registry) Subscribe(executionID string) (*stream.Subscription, error) {
	r.mu.RLock()
	run, ok := r.runs[executionID]
	r.mu.RUnlock()
	if !ok {
		return nil, store.ErrExecutionNotFound
	}
	return run.streamer.Subscribe(), nil
}

// SendControl applies pause, resume, or cancel to a live run.
func (r *Registry) SendControl(executionID string, cmd sdk.ControlCommand) error {
	r.mu.RLock()
	run, ok := r.runs[executionID]
	r.mu.RUnlock()
	if !ok {
		return store.ErrExecutionNotFound
	}
	if run.sched == nil || run.sched.Status().Terminal() {
		return ErrExecutionFinished
	}
	return run.sched.ApplyControl(cmd)
}

// List merges live runs with persisted snapshots, newest first. An empty
// workflowID lists everything.
func (r *Registry) List(ctx context.Context, workflowID string) ([]*sdk.ExecutionSnapshot, error) {
	stored, err := r.store.ListExecutions(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*sdk.ExecutionSnapshot, len(stored))
	for _, snap := range stored {
		byID[snap.ID] = snap
	}

	r.mu.RLock()
	for id, run := range r.runs {
		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}
		byID[id] = run.Snapshot()
	}
	r.mu.RUnlock()

	out := make([]*sdk.ExecutionSnapshot, 0, len(byID))
	for _, snap := range byID {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// persist publishes the terminal snapshot to the queue for the persister.
// Without a queue it writes the store directly.
func (r *Registry) persist(snapshot *sdk.ExecutionSnapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		r.log.Error("snapshot marshal failed", "execution_id", snapshot.ID, "error", err)
		return
	}

	if r.queue != nil {
		if err := r.queue.Publish(context.Background(), TopicTerminalSnapshots, snapshot.ID, payload); err != nil {
			r.log.Error("snapshot publish failed", "execution_id", snapshot.ID, "error", err)
		}
		return
	}
	if err := r.store.PutExecution(context.Background(), snapshot); err != nil {
		r.log.Error("snapshot persist failed", "execution_id", snapshot.ID, "error", err)
	}
}

// mirrorEvents forwards the run's event stream to the Redis channel so
// consumers outside this process can follow along. No-op without Redis.
func (r *Registry) mirrorEvents(executionID string, streamer *stream.Streamer) {
	if r.events == nil {
		return
	}
	sub := streamer.Subscribe()
	go func() {
		for event := range sub.Events() {
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := r.events.PublishEvent(context.Background(), EventChannel, string(payload)); err != nil {
				r.log.Warn("event mirror publish failed", "execution_id", executionID, "error", err)
			}
		}
	}()
}

// janitor evicts finished runs past the retention window. Their snapshots
// remain in the document store.
func (r *Registry) janitor() {
	defer close(r.janitorDone)
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopJanitor:
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, run := range r.runs {
		finishedAt, done := run.Finished()
		if done && now.Sub(finishedAt) > r.retention {
			delete(r.runs, id)
			r.log.Debug("evicted finished run", "execution_id", id)
		}
	}
}

func issueStrings(issues []compiler.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		switch {
		case issue.NodeID != "":
			out = append(out, fmt.Sprintf("%s (node %s): %s", issue.Code, issue.NodeID, issue.Message))
		case issue.EdgeID != "":
			out = append(out, fmt.Sprintf("%s (edge %s): %s", issue.Code, issue.EdgeID, issue.Message))
		default:
			out = append(out, fmt.Sprintf("%s: %s", issue.Code, issue.Message))
		}
	}
	return out
}
