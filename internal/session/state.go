// Package session holds per-session mutable state, the session's plan
// registry and its exclusive run lock.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/joescharf/opsassist/internal/models"
)

// State is the mutable record a pipeline run reads and writes. All access
// goes through methods; readers take a Snapshot.
type State struct {
	mu sync.RWMutex

	id             string
	phase          models.Phase
	metrics        *models.MetricsSnapshot
	analysis       *models.Analysis
	detectedIssues []string
	executions     []models.ExecutionResult
	conversation   []models.ConversationTurn
	actions        []models.ActionRecord
	errorMessage   string
	lastResponse   string
	updatedAt      time.Time

	now func() time.Time
}

// Snapshot is a deep copy of State plus a read view of the session's plans.
type Snapshot struct {
	ID                  string                    `json:"id"`
	Phase               models.Phase              `json:"phase"`
	Metrics             *models.MetricsSnapshot   `json:"metrics,omitempty"`
	Alerts              []models.Alert            `json:"alerts"`
	Analysis            *models.Analysis          `json:"analysis,omitempty"`
	DetectedIssues      []string                  `json:"detected_issues"`
	FixPlans            []models.FixPlan          `json:"fix_plans"`
	ExecutionResults    []models.ExecutionResult  `json:"execution_results"`
	ConversationHistory []models.ConversationTurn `json:"conversation_history"`
	ActionHistory       []models.ActionRecord     `json:"action_history"`
	ErrorMessage        string                    `json:"error_message,omitempty"`
	LastResponse        string                    `json:"last_response,omitempty"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

func newState(id string, now func() time.Time) *State {
	return &State{id: id, phase: models.PhasePending, now: now, updatedAt: now()}
}

func (s *State) touch() { s.updatedAt = s.now() }

// SetPhase records the run's current phase.
func (s *State) SetPhase(p models.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
	s.touch()
}

// Phase returns the current phase.
func (s *State) Phase() models.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetMetrics stores the snapshot the run is working from.
func (s *State) SetMetrics(snap *models.MetricsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = snap
	s.touch()
}

// Metrics returns the current snapshot. Snapshots are immutable.
func (s *State) Metrics() *models.MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// SetAnalysis stores the analysis and its detected issues.
func (s *State) SetAnalysis(a models.Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Issues = slices.Clone(a.Issues)
	a.RecommendedActions = slices.Clone(a.RecommendedActions)
	s.analysis = &a
	s.detectedIssues = slices.Clone(a.Issues)
	s.touch()
}

// Analysis returns a copy of the current analysis.
func (s *State) Analysis() (models.Analysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.analysis == nil {
		return models.Analysis{}, false
	}
	return cloneAnalysis(*s.analysis), true
}

// SetError records a stage failure.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorMessage = msg
	s.touch()
}

// ErrorMessage returns the last recorded failure.
func (s *State) ErrorMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorMessage
}

// BeginRun clears per-run fields ahead of a new dispatcher run. Metrics,
// analysis and history carry over.
func (s *State) BeginRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorMessage = ""
	s.lastResponse = ""
	s.phase = models.PhasePending
	s.touch()
}

// SetResponse stores the rendered reply of the last run.
func (s *State) SetResponse(resp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResponse = resp
	s.touch()
}

// LastResponse returns the rendered reply of the last run.
func (s *State) LastResponse() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResponse
}

// AppendTurn adds a conversation turn.
func (s *State) AppendTurn(t models.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.At.IsZero() {
		t.At = s.now()
	}
	s.conversation = append(s.conversation, t)
	s.touch()
}

// RecordAction appends to the action history.
func (s *State) RecordAction(action string, details map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, models.ActionRecord{Action: action, Details: cloneMap(details), At: s.now()})
	s.touch()
}

// RecordExecution stores or replaces the result with the same handle. A
// completed result is never replaced by an in-progress one.
func (s *State) RecordExecution(r models.ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r = r.Clone()
	for i := range s.executions {
		if s.executions[i].Handle == r.Handle {
			if s.executions[i].Completed && !r.Completed {
				return
			}
			s.executions[i] = r
			s.touch()
			return
		}
	}
	s.executions = append(s.executions, r)
	s.touch()
}

// Snapshot returns a deep copy. FixPlans is left for the session to fill.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Snapshot{
		ID:             s.id,
		Phase:          s.phase,
		Metrics:        s.metrics,
		DetectedIssues: slices.Clone(s.detectedIssues),
		ErrorMessage:   s.errorMessage,
		LastResponse:   s.lastResponse,
		UpdatedAt:      s.updatedAt,
	}
	if s.metrics != nil {
		out.Alerts = slices.Clone(s.metrics.Alerts)
	}
	if s.analysis != nil {
		a := cloneAnalysis(*s.analysis)
		out.Analysis = &a
	}
	out.ExecutionResults = make([]models.ExecutionResult, len(s.executions))
	for i, r := range s.executions {
		out.ExecutionResults[i] = r.Clone()
	}
	out.ConversationHistory = slices.Clone(s.conversation)
	out.ActionHistory = make([]models.ActionRecord, len(s.actions))
	for i, a := range s.actions {
		a.Details = cloneMap(a.Details)
		out.ActionHistory[i] = a
	}
	return out
}

func cloneAnalysis(a models.Analysis) models.Analysis {
	a.Issues = slices.Clone(a.Issues)
	a.RecommendedActions = slices.Clone(a.RecommendedActions)
	return a
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
