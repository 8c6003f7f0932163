package sdk

import (
	"time"
)

// Workflow is the persisted workflow document. The engine treats it opaquely
// except for the compiler, which turns it into an executable DAG.
type Workflow struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Version   int                    `json:"version"`
	Nodes     []Node                 `json:"nodes"`
	Edges     []Edge                 `json:"edges"`
	Settings  Settings               `json:"settings"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Node is a typed block placed on the canvas. Type is of the form
// "<category>.<name>", e.g. "control.condition" or "traffic.ping".
type Node struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config,omitempty"`
	Label  string                 `json:"label,omitempty"`
}

// Edge connects a source handle to a target handle.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"source_handle"`
	Target       string `json:"target"`
	TargetHandle string `json:"target_handle"`
}

// Error-handling modes applied when a node fails.
const (
	ErrorHandlingStop       = "stop"
	ErrorHandlingContinue   = "continue"
	ErrorHandlingSkipBranch = "skip-branch"
)

// Settings holds workflow-level execution settings.
type Settings struct {
	ErrorHandling string `json:"error_handling,omitempty"`
	RetryCount    int    `json:"retry_count,omitempty"`
	RetryDelayMS  int    `json:"retry_delay_ms,omitempty"`
	TimeoutS      int    `json:"timeout_s,omitempty"`
	ParallelLimit int    `json:"parallel_limit,omitempty"`
}

// Normalize fills unset settings with defaults. defaultParallel must be >= 1.
func (s *Settings) Normalize(defaultParallel int) {
	if s.ErrorHandling == "" {
		s.ErrorHandling = ErrorHandlingStop
	}
	if s.RetryCount < 0 {
		s.RetryCount = 0
	}
	if s.RetryDelayMS < 0 {
		s.RetryDelayMS = 0
	}
	if s.TimeoutS < 0 {
		s.TimeoutS = 0
	}
	if s.ParallelLimit < 1 {
		s.ParallelLimit = defaultParallel
	}
}

// NodeStatus is the per-node execution status.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusWaiting   NodeStatus = "waiting"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

// NodeResult is the outcome of a single node execution.
type NodeResult struct {
	NodeID      string      `json:"node_id"`
	Success     bool        `json:"success"`
	Output      interface{} `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	DurationMS  int64       `json:"duration_ms"`
	// NextHandle is set by control-flow blocks (condition -> true|false,
	// loop -> iteration|complete) and gates which outgoing edges are active.
	NextHandle string `json:"next_handle,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// HandlerResult is what a block handler returns to the dispatcher.
type HandlerResult struct {
	Success    bool        `json:"success"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	NextHandle string      `json:"next_handle,omitempty"`
}

// RunStatus is the execution-run status.
type RunStatus string

const (
	RunStatusIdle       RunStatus = "idle"
	RunStatusCompiling  RunStatus = "compiling"
	RunStatusValidating RunStatus = "validating"
	RunStatusRunning    RunStatus = "running"
	RunStatusPaused     RunStatus = "paused"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the run status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// runTransitions is the run state machine. Terminal states may reset to idle.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusIdle:       {RunStatusCompiling},
	RunStatusCompiling:  {RunStatusValidating, RunStatusFailed},
	RunStatusValidating: {RunStatusRunning, RunStatusFailed},
	RunStatusRunning:    {RunStatusCompleted, RunStatusFailed, RunStatusPaused, RunStatusCancelled},
	RunStatusPaused:     {RunStatusRunning, RunStatusCancelled},
	RunStatusCompleted:  {RunStatusIdle},
	RunStatusFailed:     {RunStatusIdle},
	RunStatusCancelled:  {RunStatusIdle},
}

// CanTransition reports whether from -> to is a legal run transition.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventType identifies a scheduler event on the run stream.
type EventType string

const (
	EventProgress        EventType = "progress"
	EventNodeStart       EventType = "node_start"
	EventNodeComplete    EventType = "node_complete"
	EventNodeError       EventType = "node_error"
	EventNodeRetry       EventType = "node_retry"
	EventNodeSkipped     EventType = "node_skipped"
	EventRunStateChanged EventType = "run_state_changed"
	EventComplete        EventType = "complete"
	EventError           EventType = "error"
)

// Progress counts nodes by terminal status.
type Progress struct {
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Level      int     `json:"level"`
	Levels     int     `json:"levels"`
}

// Event is a single outbound entry on a run's event stream.
// Events are totally ordered per run.
type Event struct {
	Type        EventType   `json:"type"`
	ExecutionID string      `json:"execution_id"`
	Timestamp   time.Time   `json:"timestamp"`
	NodeID      string      `json:"node_id,omitempty"`
	Result      *NodeResult `json:"result,omitempty"`
	Progress    *Progress   `json:"progress,omitempty"`
	OldStatus   RunStatus   `json:"old_status,omitempty"`
	NewStatus   RunStatus   `json:"new_status,omitempty"`
	Error       string      `json:"error,omitempty"`
	Attempt     int         `json:"attempt,omitempty"`
	WillRetry   bool        `json:"will_retry,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Summary     *Summary    `json:"summary,omitempty"`
}

// Summary is the payload of the final complete event.
type Summary struct {
	Status       RunStatus              `json:"status"`
	NodeStatuses map[string]NodeStatus  `json:"node_statuses"`
	Outputs      map[string]interface{} `json:"outputs,omitempty"`
	Errors       []string               `json:"errors,omitempty"`
	DurationMS   int64                  `json:"duration_ms"`
}

// ControlCommand is an inbound control message for a running execution.
type ControlCommand string

const (
	ControlPause  ControlCommand = "pause"
	ControlResume ControlCommand = "resume"
	ControlCancel ControlCommand = "cancel"
)

// Valid reports whether the command is one of pause/resume/cancel.
func (c ControlCommand) Valid() bool {
	return c == ControlPause || c == ControlResume || c == ControlCancel
}

// ExecutionSnapshot is the persisted view of a run, written on terminal
// transitions and served by the status endpoint while the run is live.
type ExecutionSnapshot struct {
	ID           string                 `json:"id"`
	WorkflowID   string                 `json:"workflow_id"`
	Status       RunStatus              `json:"status"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	CurrentLevel int                    `json:"current_level"`
	TotalLevels  int                    `json:"total_levels"`
	Progress     Progress               `json:"progress"`
	NodeStatuses map[string]NodeStatus  `json:"node_statuses"`
	NodeResults  map[string]*NodeResult `json:"node_results,omitempty"`
	Errors       []string               `json:"errors,omitempty"`
	Variables    map[string]interface{} `json:"variables,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
}

// Logger is the minimal logging interface engine packages depend on.
// common/logger satisfies it.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}
