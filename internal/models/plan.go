package models

import "time"

// Priority ranks how urgently a plan should be applied.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// RiskLevel ranks how dangerous a plan's commands are.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// PlanStatus is the lifecycle state of a fix plan.
type PlanStatus string

const (
	PlanStatusProposed  PlanStatus = "proposed"
	PlanStatusApproved  PlanStatus = "approved"
	PlanStatusRejected  PlanStatus = "rejected"
	PlanStatusExecuting PlanStatus = "executing"
	PlanStatusCompleted PlanStatus = "completed"
)

// PlanOrigin records which stage produced a plan.
type PlanOrigin string

const (
	OriginInitial  PlanOrigin = "initial"
	OriginFollowup PlanOrigin = "followup"
)

// Command is a single step of a fix plan.
type Command struct {
	Step           int    `json:"step"`
	Description    string `json:"description"`
	CommandText    string `json:"command"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout returns the command timeout, defaulting to 30s when unset.
func (c Command) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FixPlan is a reviewable, executable remediation.
type FixPlan struct {
	ID                   string     `json:"id"`
	Issue                string     `json:"issue"`
	Description          string     `json:"description,omitempty"`
	Priority             Priority   `json:"priority"`
	RiskLevel            RiskLevel  `json:"risk_level"`
	EstimatedMinutes     int        `json:"estimated_time"`
	Commands             []Command  `json:"commands"`
	RollbackCommands     []Command  `json:"rollback_commands,omitempty"`
	VerificationCommands []Command  `json:"verification_commands,omitempty"`
	Status               PlanStatus `json:"status"`
	Origin               PlanOrigin `json:"origin"`
	ParentID             string     `json:"parent_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers never share command slices with the
// registry.
func (p FixPlan) Clone() FixPlan {
	out := p
	out.Commands = append([]Command(nil), p.Commands...)
	out.RollbackCommands = append([]Command(nil), p.RollbackCommands...)
	out.VerificationCommands = append([]Command(nil), p.VerificationCommands...)
	return out
}
