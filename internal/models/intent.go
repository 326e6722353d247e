package models

// Intent is the classified purpose of a user query. It selects the pipeline.
type Intent string

const (
	IntentChat         Intent = "chat"
	IntentSystemInfo   Intent = "system_info"
	IntentSystemCheck  Intent = "system_check"
	IntentTroubleshoot Intent = "troubleshoot"
	IntentPerformance  Intent = "performance"
	IntentCommandExec  Intent = "command_exec"
)

// Intents lists every intent the classifier can produce.
var Intents = []Intent{
	IntentChat,
	IntentSystemInfo,
	IntentSystemCheck,
	IntentTroubleshoot,
	IntentPerformance,
	IntentCommandExec,
}

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

// IntentResult is the immutable outcome of classifying one query.
type IntentResult struct {
	Intent      Intent            `json:"intent"`
	Confidence  float64           `json:"confidence"`
	MatchedRule string            `json:"matched_rule"`
	Params      map[string]string `json:"params,omitempty"`
}

// Capability names the collaborator call a stage needs.
type Capability string

const (
	CapCollectMetrics Capability = "collect-metrics"
	CapAnalyze        Capability = "analyze"
	CapPlan           Capability = "plan"
	CapExecute        Capability = "execute"
	CapReport         Capability = "report"
	CapChat           Capability = "chat"
	CapReanalyze      Capability = "reanalyze"
)

// Stage is one unit of pipeline work.
type Stage struct {
	Name        string     `json:"name"`
	Capability  Capability `json:"capability"`
	Conditional bool       `json:"conditional"`
	// FreshMetrics forces a collection even when the cache holds a snapshot.
	FreshMetrics bool `json:"fresh_metrics,omitempty"`
}

// Pipeline is the static, ordered stage list for an intent.
type Pipeline struct {
	Intent Intent  `json:"intent"`
	Stages []Stage `json:"stages"`
}

// StageNames returns the pipeline's stage names in order.
func (p Pipeline) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		names[i] = s.Name
	}
	return names
}
