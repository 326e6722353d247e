package workflow

import "github.com/joescharf/opsassist/internal/models"

// Stage names.
const (
	StageChatResponse   = "chat_response"
	StageCollectMetrics = "collect_metrics"
	StageAnalyze        = "analyze"
	StagePlan           = "plan"
	StageExecute        = "execute"
	StageReport         = "report"
)

var (
	chatStage     = models.Stage{Name: StageChatResponse, Capability: models.CapChat}
	cachedCollect = models.Stage{Name: StageCollectMetrics, Capability: models.CapCollectMetrics}
	freshCollect  = models.Stage{Name: StageCollectMetrics, Capability: models.CapCollectMetrics, FreshMetrics: true}
	analyzeStage  = models.Stage{Name: StageAnalyze, Capability: models.CapAnalyze}
	planStage     = models.Stage{Name: StagePlan, Capability: models.CapPlan}
	executeStage  = models.Stage{Name: StageExecute, Capability: models.CapExecute, Conditional: true}
	reportStage   = models.Stage{Name: StageReport, Capability: models.CapReport}
)

// pipelines is the static intent table. Only system_check forces a fresh
// collection; the other metric pipelines accept a cached snapshot.
var pipelines = map[models.Intent][]models.Stage{
	models.IntentChat:         {chatStage},
	models.IntentSystemInfo:   {cachedCollect, reportStage},
	models.IntentSystemCheck:  {freshCollect, analyzeStage, planStage, executeStage, reportStage},
	models.IntentTroubleshoot: {cachedCollect, analyzeStage, planStage, reportStage},
	models.IntentPerformance:  {cachedCollect, analyzeStage, reportStage},
	models.IntentCommandExec:  {analyzeStage, planStage, reportStage},
}

// PipelineFor returns a copy of the pipeline for intent. Unknown intents get
// the chat pipeline.
func PipelineFor(intent models.Intent) models.Pipeline {
	stages, ok := pipelines[intent]
	if !ok {
		intent = models.IntentChat
		stages = pipelines[models.IntentChat]
	}
	return models.Pipeline{Intent: intent, Stages: append([]models.Stage(nil), stages...)}
}

func phaseFor(c models.Capability) models.Phase {
	switch c {
	case models.CapCollectMetrics:
		return models.PhaseCollecting
	case models.CapAnalyze:
		return models.PhaseAnalyzing
	case models.CapPlan:
		return models.PhasePlanning
	case models.CapExecute:
		return models.PhaseExecuting
	default:
		return models.PhaseReporting
	}
}
