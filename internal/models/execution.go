package models

import "time"

// CommandState is the per-command progress of an execution.
type CommandState string

const (
	CommandPending   CommandState = "pending"
	CommandRunning   CommandState = "running"
	CommandSucceeded CommandState = "succeeded"
	CommandFailed    CommandState = "failed"
	CommandTimedOut  CommandState = "timed_out"
	CommandNotRun    CommandState = "not_run"
	CommandCancelled CommandState = "cancelled"
)

// CommandResult tracks one command of a running plan. Success is nil until
// the command has run to an outcome.
type CommandResult struct {
	Command  Command       `json:"command"`
	State    CommandState  `json:"state"`
	Success  *bool         `json:"success"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExecutionResult is the coordinator's view of one plan run. It becomes
// read-only history once Completed is set.
type ExecutionResult struct {
	Handle    string          `json:"handle"`
	PlanID    string          `json:"plan_id"`
	SessionID string          `json:"session_id"`
	Commands  []CommandResult `json:"commands"`
	Completed bool            `json:"completed"`
	Cancelled bool            `json:"cancelled"`
	StartedAt time.Time       `json:"started_at"`
	TotalTime time.Duration   `json:"total_time"`
}

// Succeeded reports whether every command ran and succeeded.
func (r ExecutionResult) Succeeded() bool {
	if !r.Completed || r.Cancelled {
		return false
	}
	for _, c := range r.Commands {
		if c.Success == nil || !*c.Success {
			return false
		}
	}
	return true
}

// Outcome names how the execution ended: running, cancelled, succeeded or
// failed.
func (r ExecutionResult) Outcome() string {
	switch {
	case !r.Completed:
		return "running"
	case r.Cancelled:
		return "cancelled"
	case r.Succeeded():
		return "succeeded"
	default:
		return "failed"
	}
}

// Clone deep-copies the result so pollers never alias coordinator state.
func (r ExecutionResult) Clone() ExecutionResult {
	out := r
	out.Commands = make([]CommandResult, len(r.Commands))
	for i, c := range r.Commands {
		if c.Success != nil {
			v := *c.Success
			c.Success = &v
		}
		out.Commands[i] = c
	}
	return out
}
