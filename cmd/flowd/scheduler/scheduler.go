package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/blocks"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/compiler"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/condition"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/dispatch"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/execctx"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/stream"
	"github.com/goranjovic55/NOP-sub008/common/logger"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

const defaultPollInterval = 100 * time.Millisecond

type runOutcome int

const (
	outcomeOK runOutcome = iota
	outcomeFailed
	outcomeCancelled
)

// Config assembles a scheduler for one run.
type Config struct {
	DAG        *compiler.DAG
	Settings   sdk.Settings
	Dispatcher *dispatch.Dispatcher
	Conditions *condition.Evaluator
	Streamer   *stream.Streamer
	Context    *execctx.Context
	Log        *logger.Logger
	DryRun     bool

	// PollInterval bounds how long pause and cancel checks can lag.
	PollInterval time.Duration

	// Warnings from compilation, carried into the final snapshot.
	Warnings []string
}

// Scheduler drives one compiled DAG to completion. A single scheduler
// goroutine owns all context mutation; block handlers run in a worker pool
// capped by the parallel limit and only ever see resolved parameters.
type Scheduler struct {
	dag        *compiler.DAG
	settings   sdk.Settings
	dispatcher *dispatch.Dispatcher
	conditions *condition.Evaluator
	streamer   *stream.Streamer
	ec         *execctx.Context
	log        *logger.Logger
	dryRun     bool
	poll       time.Duration
	warnings   []string

	// sem is the run-wide worker budget. Nested loop-body bands draw from
	// the same pool so parallel_limit holds across the whole run.
	sem chan struct{}

	mu           sync.Mutex
	status       sdk.RunStatus
	currentLevel int
	errors       []string
	startedAt    time.Time
	completedAt  *time.Time
}

// New creates a scheduler in the validating state; Run performs the
// transition to running.
func New(cfg Config) *Scheduler {
	poll := cfg.PollInterval
	if poll <= 0 || poll > defaultPollInterval {
		poll = defaultPollInterval
	}
	limit := cfg.Settings.ParallelLimit
	if limit < 1 {
		limit = 1
	}
	return &Scheduler{
		dag:        cfg.DAG,
		settings:   cfg.Settings,
		dispatcher: cfg.Dispatcher,
		conditions: cfg.Conditions,
		streamer:   cfg.Streamer,
		ec:         cfg.Context,
		log:        cfg.Log.WithExecutionID(cfg.Context.ExecutionID),
		dryRun:     cfg.DryRun,
		poll:       poll,
		warnings:   cfg.Warnings,
		sem:        make(chan struct{}, limit),
		status:     sdk.RunStatusValidating,
		startedAt:  time.Now().UTC(),
	}
}

// Status returns the current run status.
func (s *Scheduler) Status() sdk.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ApplyControl applies a control command to the run flags. Transitions and
// their events happen on the scheduler goroutine when it observes the
// flags, which it does at least every poll interval.
func (s *Scheduler) ApplyControl(cmd sdk.ControlCommand) error {
	if !cmd.Valid() {
		return fmt.Errorf("invalid control command %q", cmd)
	}
	switch cmd {
	case sdk.ControlCancel:
		s.ec.Cancel()
	case sdk.ControlPause:
		s.ec.SetPaused(true)
	case sdk.ControlResume:
		s.ec.SetPaused(false)
	}
	return nil
}

// Run executes the DAG to a terminal state. It blocks until done; the
// registry invokes it on a dedicated goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.settings.TimeoutS > 0 {
		timer := time.AfterFunc(time.Duration(s.settings.TimeoutS)*time.Second, func() {
			s.noteError(fmt.Sprintf("run exceeded timeout of %ds", s.settings.TimeoutS))
			s.emit(sdk.Event{Type: sdk.EventError, Error: fmt.Sprintf("run exceeded timeout of %ds", s.settings.TimeoutS)})
			s.ec.Cancel()
			cancel()
		})
		defer timer.Stop()
	}

	// Cancellation flag propagates to in-flight handlers through runCtx.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s.ec.Cancelled() {
					cancel()
					return
				}
			case <-watchDone:
				return
			}
		}
	}()

	s.transition(sdk.RunStatusRunning)
	s.log.Info("run started",
		"workflow_id", s.ec.WorkflowID,
		"nodes", len(s.dag.Nodes),
		"levels", len(s.dag.Order),
		"parallel_limit", s.settings.ParallelLimit,
	)

	outcome := s.runDAG(runCtx, s.dag, false)

	switch outcome {
	case outcomeOK:
		s.finish(sdk.RunStatusCompleted)
	case outcomeFailed:
		s.skipRemaining("upstream failure stopped the run")
		s.finish(sdk.RunStatusFailed)
	case outcomeCancelled:
		s.skipRemaining("cancelled")
		s.finish(sdk.RunStatusCancelled)
	}
}

// runDAG executes one DAG band by band. Nested invocations run loop bodies
// against the same execution context and emit node events but no progress
// or run-state events.
func (s *Scheduler) runDAG(ctx context.Context, dag *compiler.DAG, nested bool) runOutcome {
	for levelIdx, band := range dag.Order {
		s.drainControl()
		if s.ec.Cancelled() {
			return outcomeCancelled
		}
		if outcome := s.waitWhilePaused(nested); outcome != outcomeOK {
			return outcome
		}

		if !nested {
			s.setCurrentLevel(levelIdx)
			s.emitProgress(levelIdx)
		}

		active, skipped := s.partitionBand(dag, band)
		for _, id := range skipped {
			s.markSkipped(id, "no active incoming edge")
		}

		results := s.executeBand(ctx, dag, active)

		failed := false
		for _, res := range results {
			s.applyResult(res)
			if !res.Success && !res.Skipped {
				failed = true
				s.noteError(fmt.Sprintf("node %s: %s", res.NodeID, res.Error))
			}
		}

		if !nested {
			s.emitProgress(levelIdx)
			if s.streamer.TakeDropped() {
				// Consumers lost progress events to backpressure; re-sync.
				s.emitProgress(levelIdx)
			}
		}

		if failed && s.settings.ErrorHandling == sdk.ErrorHandlingStop {
			return outcomeFailed
		}
		if s.ec.Cancelled() {
			return outcomeCancelled
		}
	}
	return outcomeOK
}

// partitionBand applies the active-edge rule: an edge is active iff its
// source completed successfully and its handle matches the source's
// next_handle (unset means all handles). Under the continue policy a
// failed source still activates its successors.
func (s *Scheduler) partitionBand(dag *compiler.DAG, band []string) (active, skipped []string) {
	for _, id := range band {
		node := dag.Nodes[id]
		if len(node.Incoming) == 0 {
			active = append(active, id)
			continue
		}

		activated := false
		for _, in := range node.Incoming {
			res, ok := s.ec.Result(in.Source)
			if !ok || res.Skipped {
				continue
			}
			if !res.Success && s.settings.ErrorHandling != sdk.ErrorHandlingContinue {
				continue
			}
			if res.NextHandle == "" || res.NextHandle == in.SourceHandle {
				activated = true
				break
			}
		}
		if activated {
			active = append(active, id)
		} else {
			skipped = append(skipped, id)
		}
	}
	return active, skipped
}

// executeBand fans the active nodes out over the worker pool. Control-flow
// blocks run inline on the scheduler goroutine since they mutate the
// context; everything else goes through the dispatcher with retries. Active
// nodes sit in the waiting state until a worker slot frees up; the slot pool
// is shared with nested loop-body bands.
func (s *Scheduler) executeBand(ctx context.Context, dag *compiler.DAG, active []string) []*sdk.NodeResult {
	results := make([]*sdk.NodeResult, len(active))

	var wg sync.WaitGroup
	var controlNodes []int
	for i, id := range active {
		node := dag.Nodes[id]
		s.ec.SetNodeStatus(id, sdk.NodeStatusWaiting)

		if blocks.IsControlFlow(node.Type) {
			controlNodes = append(controlNodes, i)
			continue
		}

		wg.Add(1)
		go func(i int, node *compiler.ExecNode) {
			defer wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()
			s.ec.SetNodeStatus(node.ID, sdk.NodeStatusRunning)
			s.emit(sdk.Event{Type: sdk.EventNodeStart, NodeID: node.ID})
			results[i] = s.dispatchWithRetry(ctx, node)
		}(i, node)
	}

	// Control blocks do not hold worker slots, so a loop body can never
	// deadlock against its own ancestors.
	for _, i := range controlNodes {
		id := active[i]
		s.ec.SetNodeStatus(id, sdk.NodeStatusRunning)
		s.emit(sdk.Event{Type: sdk.EventNodeStart, NodeID: id})
		results[i] = s.executeControl(ctx, dag.Nodes[id])
	}

	wg.Wait()
	return results
}

// dispatchWithRetry wraps a dispatch in the retry policy. Only the final
// attempt counts for the error-handling policy; backoff sleeps stay
// responsive to cancellation.
func (s *Scheduler) dispatchWithRetry(ctx context.Context, node *compiler.ExecNode) *sdk.NodeResult {
	opts := dispatch.Options{
		Timeout: time.Duration(s.settings.TimeoutS) * time.Second,
		DryRun:  s.dryRun,
	}

	var res *sdk.NodeResult
	for attempt := 0; ; attempt++ {
		res = s.dispatcher.Dispatch(ctx, node, s.ec, opts)
		if res.Success || res.Skipped || attempt == s.settings.RetryCount {
			return res
		}

		s.emit(sdk.Event{
			Type:      sdk.EventNodeError,
			NodeID:    node.ID,
			Error:     res.Error,
			Attempt:   attempt + 1,
			WillRetry: true,
		})
		s.emit(sdk.Event{Type: sdk.EventNodeRetry, NodeID: node.ID, Attempt: attempt + 1})

		if !s.sleepInterruptible(time.Duration(s.settings.RetryDelayMS) * time.Millisecond) {
			return res
		}
	}
}

// applyResult records a finished node on the context and emits its event.
func (s *Scheduler) applyResult(res *sdk.NodeResult) {
	switch {
	case res.Skipped:
		s.ec.SetNodeStatus(res.NodeID, sdk.NodeStatusSkipped)
		s.emit(sdk.Event{Type: sdk.EventNodeSkipped, NodeID: res.NodeID, Reason: res.Error})
	case res.Success:
		s.ec.SetResult(res)
		s.ec.SetNodeStatus(res.NodeID, sdk.NodeStatusCompleted)
		s.emit(sdk.Event{Type: sdk.EventNodeComplete, NodeID: res.NodeID, Result: res})
	default:
		s.ec.SetResult(res)
		s.ec.SetNodeStatus(res.NodeID, sdk.NodeStatusFailed)
		s.emit(sdk.Event{Type: sdk.EventNodeError, NodeID: res.NodeID, Error: res.Error, Result: res})
	}
}

func (s *Scheduler) markSkipped(nodeID, reason string) {
	s.ec.SetNodeStatus(nodeID, sdk.NodeStatusSkipped)
	s.emit(sdk.Event{Type: sdk.EventNodeSkipped, NodeID: nodeID, Reason: reason})
}

// skipRemaining marks every non-terminal node skipped so each node reaches
// a terminal status before the run does.
func (s *Scheduler) skipRemaining(reason string) {
	for _, band := range s.dag.Order {
		for _, id := range band {
			if !s.ec.NodeStatus(id).Terminal() {
				s.markSkipped(id, reason)
			}
		}
	}
	// Loop body nodes that already started also need a terminal status.
	for id, status := range s.ec.StatusSnapshot() {
		if !status.Terminal() {
			s.markSkipped(id, reason)
		}
	}
}

// waitWhilePaused spin-waits while the pause flag is set, transitioning the
// run state on entry and exit. Cancel remains responsive during the wait.
func (s *Scheduler) waitWhilePaused(nested bool) runOutcome {
	if !s.ec.Paused() {
		return outcomeOK
	}

	if !nested || s.Status() == sdk.RunStatusRunning {
		s.transition(sdk.RunStatusPaused)
	}
	for s.ec.Paused() {
		if s.ec.Cancelled() {
			return outcomeCancelled
		}
		s.drainControl()
		time.Sleep(s.poll)
	}
	if s.ec.Cancelled() {
		return outcomeCancelled
	}
	s.transition(sdk.RunStatusRunning)
	return outcomeOK
}

// sleepInterruptible sleeps in poll-interval slices, returning false when
// cancellation interrupts the sleep.
func (s *Scheduler) sleepInterruptible(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if s.ec.Cancelled() {
			return false
		}
		s.drainControl()
		remaining := time.Until(deadline)
		if remaining > s.poll {
			remaining = s.poll
		}
		time.Sleep(remaining)
	}
	return !s.ec.Cancelled()
}

// drainControl moves queued stream control commands onto the run flags.
func (s *Scheduler) drainControl() {
	for {
		select {
		case cmd := <-s.streamer.Control():
			if err := s.ApplyControl(cmd); err != nil {
				s.log.Warn("ignoring control command", "error", err)
			}
		default:
			return
		}
	}
}

func (s *Scheduler) transition(to sdk.RunStatus) {
	s.mu.Lock()
	from := s.status
	if !sdk.CanTransition(from, to) {
		s.mu.Unlock()
		s.log.Warn("illegal run transition", "from", from, "to", to)
		return
	}
	s.status = to
	if to.Terminal() {
		now := time.Now().UTC()
		s.completedAt = &now
	}
	s.mu.Unlock()

	s.emit(sdk.Event{Type: sdk.EventRunStateChanged, OldStatus: from, NewStatus: to})
	s.log.Info("run state changed", "from", from, "to", to)
}

// finish performs the terminal transition and emits the complete event.
func (s *Scheduler) finish(status sdk.RunStatus) {
	s.transition(status)

	statuses := s.ec.StatusSnapshot()
	outputs := make(map[string]interface{})
	for _, id := range s.dag.ExitPoints {
		if res, ok := s.ec.Result(id); ok {
			outputs[id] = res.Output
		}
	}

	s.mu.Lock()
	errs := append([]string{}, s.errors...)
	duration := time.Since(s.startedAt).Milliseconds()
	s.mu.Unlock()

	s.emit(sdk.Event{
		Type: sdk.EventComplete,
		Summary: &sdk.Summary{
			Status:       status,
			NodeStatuses: statuses,
			Outputs:      outputs,
			Errors:       errs,
			DurationMS:   duration,
		},
	})
	s.log.Info("run finished", "status", status, "duration_ms", duration)
}

func (s *Scheduler) setCurrentLevel(level int) {
	s.mu.Lock()
	s.currentLevel = level
	s.mu.Unlock()
}

func (s *Scheduler) noteError(msg string) {
	s.mu.Lock()
	s.errors = append(s.errors, msg)
	s.mu.Unlock()
}

// progress counts outer-DAG nodes only; loop bodies fold into their loop
// node so the counts stay monotone across iterations.
func (s *Scheduler) progressSnapshot(level int) *sdk.Progress {
	total := len(s.dag.Nodes)
	p := &sdk.Progress{Total: total, Level: level, Levels: len(s.dag.Order)}
	for id := range s.dag.Nodes {
		switch s.ec.NodeStatus(id) {
		case sdk.NodeStatusCompleted:
			p.Completed++
		case sdk.NodeStatusFailed:
			p.Failed++
		case sdk.NodeStatusSkipped:
			p.Skipped++
		}
	}
	if total > 0 {
		p.Percentage = float64(p.Completed+p.Failed+p.Skipped) / float64(total) * 100
	}
	return p
}

func (s *Scheduler) emitProgress(level int) {
	s.emit(sdk.Event{Type: sdk.EventProgress, Progress: s.progressSnapshot(level)})
}

func (s *Scheduler) emit(event sdk.Event) {
	event.ExecutionID = s.ec.ExecutionID
	event.Timestamp = time.Now().UTC()
	s.streamer.Emit(event)
}

// Snapshot builds the externally visible view of the run.
func (s *Scheduler) Snapshot() *sdk.ExecutionSnapshot {
	s.mu.Lock()
	status := s.status
	level := s.currentLevel
	errs := append([]string{}, s.errors...)
	startedAt := s.startedAt
	completedAt := s.completedAt
	s.mu.Unlock()

	return &sdk.ExecutionSnapshot{
		ID:           s.ec.ExecutionID,
		WorkflowID:   s.ec.WorkflowID,
		Status:       status,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		CurrentLevel: level,
		TotalLevels:  len(s.dag.Order),
		Progress:     *s.progressSnapshot(level),
		NodeStatuses: s.ec.StatusSnapshot(),
		NodeResults:  s.ec.ResultsSnapshot(),
		Errors:       errs,
		Variables:    s.ec.VariablesSnapshot(),
		Warnings:     s.warnings,
	}
}
