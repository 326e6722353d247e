package workflow

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joescharf/opsassist/internal/health"
	"github.com/joescharf/opsassist/internal/models"
)

// Stage outcomes.
const (
	StageOK      = "ok"
	StageSkipped = "skipped"
	StageFailed  = "failed"
	StageNotRun  = "not_run"
)

// StageResult records how one pipeline stage ended.
type StageResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of one pipeline run. It is produced even when a stage
// fails; whatever the earlier stages gathered is kept.
type Report struct {
	SessionID       string                  `json:"session_id"`
	Query           string                  `json:"query"`
	Intent          models.IntentResult     `json:"intent"`
	Pipeline        []string                `json:"pipeline"`
	Stages          []StageResult           `json:"stages"`
	Phases          []models.Phase          `json:"phases"`
	Response        string                  `json:"response"`
	Answer          string                  `json:"answer,omitempty"`
	Metrics         *models.MetricsSnapshot `json:"metrics,omitempty"`
	FromCache       bool                    `json:"from_cache"`
	Analysis        *models.Analysis        `json:"analysis,omitempty"`
	Plans           []models.FixPlan        `json:"plans,omitempty"`
	ExecutionHandle string                  `json:"execution_handle,omitempty"`
	Health          health.Assessment       `json:"health"`
	Error           string                  `json:"error,omitempty"`
	StartedAt       time.Time               `json:"started_at"`
	Duration        time.Duration           `json:"duration"`
}

func (r *Report) addStage(name, status string, err error, d time.Duration) {
	sr := StageResult{Name: name, Status: status, Duration: d}
	if err != nil {
		sr.Error = err.Error()
	}
	r.Stages = append(r.Stages, sr)
}

// Stage returns the result for the named stage.
func (r *Report) Stage(name string) (StageResult, bool) {
	i := slices.IndexFunc(r.Stages, func(s StageResult) bool { return s.Name == name })
	if i < 0 {
		return StageResult{}, false
	}
	return r.Stages[i], true
}

// Failed reports whether any stage failed.
func (r *Report) Failed() bool {
	return r.Error != ""
}

// keyMetrics are rendered in this order when present.
var keyMetrics = []struct{ name, label string }{
	{"cpu_usage_percent", "CPU"},
	{"memory_usage_percent", "Memory"},
	{"disk_usage_percent", "Disk"},
	{"load_1m", "Load (1m)"},
	{"tcp_connections", "TCP connections"},
}

// render builds the plain-text reply stored as the session's last response.
func render(r *Report) string {
	if r.Intent.Intent == models.IntentChat && r.Error == "" {
		return r.Answer
	}

	var b strings.Builder
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
		if r.Intent.Intent == models.IntentChat {
			return strings.TrimRight(b.String(), "\n")
		}
	}

	if r.Metrics != nil {
		fmt.Fprintf(&b, "%s\n", r.Health.Summary)
		for _, k := range keyMetrics {
			m, ok := r.Metrics.Metric(k.name)
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  %s: %s", k.label, formatValue(m))
			if m.Level != "" && m.Level != models.LevelNormal {
				fmt.Fprintf(&b, " [%s]", m.Level)
			}
			b.WriteByte('\n')
		}
		if len(r.Metrics.Alerts) > 0 {
			b.WriteString("Alerts:\n")
			for _, a := range r.Metrics.Alerts {
				fmt.Fprintf(&b, "  - [%s] %s\n", a.Level, a.Message)
			}
		}
	}

	if a := r.Analysis; a != nil {
		if a.Summary != "" {
			fmt.Fprintf(&b, "Analysis: %s\n", a.Summary)
		}
		if a.OverallStatus != "" || a.Urgency != "" {
			fmt.Fprintf(&b, "Status: %s, urgency: %s\n", orDash(a.OverallStatus), orDash(a.Urgency))
		}
		for _, issue := range a.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
		if len(a.RecommendedActions) > 0 {
			b.WriteString("Recommended:\n")
			for _, act := range a.RecommendedActions {
				fmt.Fprintf(&b, "  - %s\n", act)
			}
		}
	}

	if len(r.Plans) > 0 {
		b.WriteString("Fix plans:\n")
		for _, p := range r.Plans {
			fmt.Fprintf(&b, "  %s [%s/%s risk] %s (%d commands)\n", p.ID, p.Priority, p.RiskLevel, p.Issue, len(p.Commands))
		}
	}
	if r.ExecutionHandle != "" {
		fmt.Fprintf(&b, "Execution started: %s\n", r.ExecutionHandle)
	}

	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		return "No findings."
	}
	return out
}

func formatValue(m models.Metric) string {
	switch m.Unit {
	case "percent":
		return fmt.Sprintf("%.1f%%", m.Value)
	case "GB":
		return fmt.Sprintf("%.1f GB", m.Value)
	default:
		return fmt.Sprintf("%g", m.Value)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
