package models

// Phase is the progress marker of a dispatcher run.
type Phase string

const (
	PhasePending    Phase = "PENDING"
	PhaseCollecting Phase = "COLLECTING"
	PhaseAnalyzing  Phase = "ANALYZING"
	PhasePlanning   Phase = "PLANNING"
	PhaseExecuting  Phase = "EXECUTING"
	PhaseReporting  Phase = "REPORTING"
	PhaseError      Phase = "ERROR"
	PhaseDone       Phase = "DONE"
)
