package llm

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/joescharf/opsassist/internal/models"
)

const operatorPersona = `You are an experienced Linux operations engineer assisting with a single managed host.`

const planSchema = `Return ONLY a JSON object of this shape:
{
  "fix_plans": [
    {
      "issue": "short name of the problem being fixed",
      "description": "what the plan does",
      "priority": "low|medium|high|critical",
      "risk_level": "low|medium|high|critical",
      "estimated_time": 5,
      "commands": [
        {"step": 1, "description": "what this step does", "command": "shell command", "expected_output": "what success looks like", "timeout": 30}
      ],
      "rollback_commands": [],
      "verification_commands": []
    }
  ]
}

Rules:
- Steps start at 1 and are unique within a plan
- Commands must be non-interactive and safe to run over SSH
- Never use destructive commands (rm -rf /, mkfs, dd, shutdown, reboot)
- "estimated_time" is in minutes; "timeout" is in seconds
- Return an empty "fix_plans" array when nothing needs fixing
- Return valid JSON only, no markdown fencing or explanation`

// writeSnapshot renders metrics and alerts for a prompt.
func writeSnapshot(sb *strings.Builder, snap *models.MetricsSnapshot) {
	if snap == nil || len(snap.Payload) == 0 {
		sb.WriteString("No metrics are available.\n")
		return
	}
	sb.WriteString("Current metrics:\n")
	for _, name := range slices.Sorted(maps.Keys(snap.Payload)) {
		m := snap.Payload[name]
		fmt.Fprintf(sb, "- %s: %.2f %s", name, m.Value, m.Unit)
		if m.Threshold != nil {
			fmt.Fprintf(sb, " (threshold %.2f, %s)", *m.Threshold, m.Level)
		}
		sb.WriteString("\n")
	}
	if len(snap.Alerts) == 0 {
		sb.WriteString("\nNo active alerts.\n")
		return
	}
	sb.WriteString("\nActive alerts:\n")
	for _, a := range snap.Alerts {
		fmt.Fprintf(sb, "- [%s] %s\n", a.Level, a.Message)
	}
}

func writeParams(sb *strings.Builder, params map[string]string) {
	if len(params) == 0 {
		return
	}
	sb.WriteString("Extracted parameters:\n")
	for _, k := range slices.Sorted(maps.Keys(params)) {
		fmt.Fprintf(sb, "- %s: %s\n", k, params[k])
	}
	sb.WriteString("\n")
}

// buildAnalyzePrompt constructs the prompts for a structured analysis.
func buildAnalyzePrompt(req models.AnalysisRequest) (system string, user string) {
	system = operatorPersona + ` Analyse the host's state and return ONLY a JSON object with these fields:
- "summary": one or two sentences describing the overall state
- "issues": array of concrete problems found (empty when healthy)
- "recommended_actions": array of short recommendations
- "overall_status": one of "healthy", "warning", "critical"
- "urgency": one of "low", "medium", "high", "critical"
- "auto_fixable": true only when every issue can be fixed safely without a human

Rules:
- Base conclusions on the metrics and alerts provided; do not invent values
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Request type: %s\n", req.Intent)
	if req.Query != "" {
		fmt.Fprintf(&sb, "User request: %s\n", req.Query)
	}
	sb.WriteString("\n")
	writeParams(&sb, req.Params)
	writeSnapshot(&sb, req.Snapshot)
	user = sb.String()
	return
}

// buildPlanPrompt constructs the prompts for fix-plan generation.
func buildPlanPrompt(req models.AnalysisRequest, analysis models.Analysis) (system string, user string) {
	system = operatorPersona + ` Produce remediation plans for the issues found. ` + planSchema

	var sb strings.Builder
	if req.Query != "" {
		fmt.Fprintf(&sb, "User request: %s\n\n", req.Query)
	}
	writeParams(&sb, req.Params)
	if analysis.Summary != "" {
		fmt.Fprintf(&sb, "Analysis summary: %s\n", analysis.Summary)
	}
	if len(analysis.Issues) > 0 {
		sb.WriteString("Issues:\n")
		for _, i := range analysis.Issues {
			fmt.Fprintf(&sb, "- %s\n", i)
		}
	}
	if len(analysis.RecommendedActions) > 0 {
		sb.WriteString("Recommended actions:\n")
		for _, a := range analysis.RecommendedActions {
			fmt.Fprintf(&sb, "- %s\n", a)
		}
	}
	sb.WriteString("\n")
	writeSnapshot(&sb, req.Snapshot)
	user = sb.String()
	return
}

// maxHistoryTurns bounds how much conversation is replayed into a chat prompt.
const maxHistoryTurns = 6

// buildChatPrompt constructs the prompts for a conversational reply.
func buildChatPrompt(query string, history []models.ConversationTurn, snap *models.MetricsSnapshot) (system string, user string) {
	system = operatorPersona + ` Answer the user's question accurately and concisely. When the question is technical, give concrete steps or commands. When the user asks about system state, rely only on the data provided. If a full inspection is needed, tell the user to ask for a system check.`

	var sb strings.Builder
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	if len(history) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, t := range history {
			fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", t.Query, t.Response)
		}
		sb.WriteString("\n")
	}
	if snap != nil {
		writeSnapshot(&sb, snap)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "User question: %s\n", query)
	user = sb.String()
	return
}

type commandReport struct {
	Step    int    `json:"step"`
	Command string `json:"command"`
	State   string `json:"state"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// buildReanalyzePrompt constructs the prompts for follow-up plan generation
// from an execution's results.
func buildReanalyzePrompt(plan models.FixPlan, result models.ExecutionResult) (system string, user string) {
	system = operatorPersona + ` Review the results of a remediation plan that was just executed and propose follow-up plans.

Rules:
- Read the command output carefully; when it lists processes, files or services, use the real PIDs, paths and names it shows
- Never use placeholder values such as example PIDs
- Propose follow-ups only for problems the output actually shows
` + planSchema

	succeeded := 0
	reports := make([]commandReport, 0, len(result.Commands))
	for _, c := range result.Commands {
		if c.Success != nil && *c.Success {
			succeeded++
		}
		reports = append(reports, commandReport{
			Step:    c.Command.Step,
			Command: c.Command.CommandText,
			State:   string(c.State),
			Output:  c.Output,
			Error:   c.Error,
		})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan %s: %s\n", plan.ID, plan.Issue)
	if plan.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", plan.Description)
	}
	fmt.Fprintf(&sb, "\nExecution summary:\n- Commands: %d\n- Succeeded: %d\n- Total time: %s\n",
		len(result.Commands), succeeded, result.TotalTime)
	switch {
	case result.Cancelled:
		sb.WriteString("- Outcome: cancelled\n")
	case result.Succeeded():
		sb.WriteString("- Outcome: success\n")
	default:
		sb.WriteString("- Outcome: partial failure\n")
	}

	detail, _ := json.MarshalIndent(reports, "", "  ")
	sb.WriteString("\nDetailed results:\n")
	sb.Write(detail)
	sb.WriteString("\n")
	user = sb.String()
	return
}
