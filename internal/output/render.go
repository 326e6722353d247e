package output

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joescharf/opsassist/internal/models"
	"github.com/joescharf/opsassist/internal/workflow"
)

// Report prints a pipeline report. Chat replies are printed as-is; other
// intents get metric, analysis and plan sections.
func (u *UI) Report(rep *workflow.Report) error {
	if rep.Intent.Intent == models.IntentChat {
		if rep.Error != "" {
			u.Error("%s", rep.Error)
			return nil
		}
		fmt.Fprintln(u.Out, rep.Response)
		return nil
	}

	u.VerboseLog("intent %s (%.2f, %s) session %s", rep.Intent.Intent, rep.Intent.Confidence, rep.Intent.MatchedRule, rep.SessionID)
	if u.Verbose {
		if err := u.Stages(rep.Stages); err != nil {
			return err
		}
	}

	if rep.Error != "" {
		u.Error("%s", rep.Error)
	}

	if rep.Metrics != nil {
		src := "fresh"
		if rep.FromCache {
			src = "cached"
		}
		u.Heading(fmt.Sprintf("Health: %s (score %s, %s metrics)", LevelColor(string(rep.Health.Status)), HealthColor(rep.Health.Score), src))
		if err := u.Metrics(rep.Metrics); err != nil {
			return err
		}
		if len(rep.Metrics.Alerts) > 0 {
			u.Heading("Alerts")
			for _, a := range rep.Metrics.Alerts {
				fmt.Fprintf(u.Out, "  [%s] %s\n", LevelColor(string(a.Level)), a.Message)
			}
		}
	}

	if a := rep.Analysis; a != nil {
		u.Heading("Analysis")
		if a.Summary != "" {
			fmt.Fprintf(u.Out, "  %s\n", a.Summary)
		}
		fmt.Fprintf(u.Out, "  status: %s  urgency: %s  auto-fixable: %t\n", LevelColor(a.OverallStatus), LevelColor(a.Urgency), a.AutoFixable)
		for _, issue := range a.Issues {
			fmt.Fprintf(u.Out, "  - %s\n", issue)
		}
		if len(a.RecommendedActions) > 0 {
			fmt.Fprintln(u.Out, "  recommended:")
			for _, act := range a.RecommendedActions {
				fmt.Fprintf(u.Out, "    - %s\n", act)
			}
		}
	}

	if len(rep.Plans) > 0 {
		u.Heading("Fix plans")
		if err := u.Plans(rep.Plans); err != nil {
			return err
		}
	}
	if rep.ExecutionHandle != "" {
		u.Info("Execution started: %s", Cyan(rep.ExecutionHandle))
	}
	return nil
}

// Stages prints the per-stage outcome table.
func (u *UI) Stages(stages []workflow.StageResult) error {
	table := u.Table([]string{"Stage", "Status", "Time", "Error"})
	for _, s := range stages {
		if err := table.Append([]string{s.Name, StatusColor(s.Status), formatDuration(s.Duration), s.Error}); err != nil {
			return err
		}
	}
	return table.Render()
}

// Metrics prints a snapshot's payload sorted by metric name.
func (u *UI) Metrics(snap *models.MetricsSnapshot) error {
	names := make([]string, 0, len(snap.Payload))
	for name := range snap.Payload {
		names = append(names, name)
	}
	slices.Sort(names)

	table := u.Table([]string{"Metric", "Value", "Threshold", "Level"})
	for _, name := range names {
		m := snap.Payload[name]
		threshold := ""
		if m.Threshold != nil {
			threshold = fmt.Sprintf("%g", *m.Threshold)
		}
		if err := table.Append([]string{name, formatMetric(m), threshold, LevelColor(string(m.Level))}); err != nil {
			return err
		}
	}
	return table.Render()
}

// Plans prints a plan summary table.
func (u *UI) Plans(plans []models.FixPlan) error {
	table := u.Table([]string{"ID", "Status", "Priority", "Risk", "Issue", "Commands"})
	for _, p := range plans {
		if err := table.Append([]string{
			p.ID,
			StatusColor(string(p.Status)),
			LevelColor(string(p.Priority)),
			LevelColor(string(p.RiskLevel)),
			p.Issue,
			fmt.Sprintf("%d", len(p.Commands)),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// PlanDetail prints one plan with its commands.
func (u *UI) PlanDetail(p models.FixPlan) error {
	fmt.Fprintf(u.Out, "%s  %s  %s\n", bold(p.ID), StatusColor(string(p.Status)), p.Issue)
	if p.Description != "" {
		fmt.Fprintf(u.Out, "  %s\n", p.Description)
	}
	if p.ParentID != "" {
		fmt.Fprintf(u.Out, "  follow-up of %s\n", p.ParentID)
	}
	table := u.Table([]string{"Step", "Command", "Timeout", "Description"})
	for _, c := range p.Commands {
		if err := table.Append([]string{
			fmt.Sprintf("%d", c.Step),
			c.CommandText,
			c.Timeout().String(),
			c.Description,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// Execution prints per-command progress of an execution.
func (u *UI) Execution(r models.ExecutionResult) error {
	fmt.Fprintf(u.Out, "%s  plan %s  %s  %s\n", bold(r.Handle), r.PlanID, StatusColor(r.Outcome()), formatDuration(r.TotalTime))
	table := u.Table([]string{"Step", "Command", "State", "Time", "Output"})
	for _, c := range r.Commands {
		out := c.Output
		if c.Error != "" {
			out = c.Error
		}
		if err := table.Append([]string{
			fmt.Sprintf("%d", c.Command.Step),
			c.Command.CommandText,
			StatusColor(string(c.State)),
			formatDuration(c.Duration),
			firstLine(out),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatMetric(m models.Metric) string {
	switch m.Unit {
	case "percent":
		return fmt.Sprintf("%.1f%%", m.Value)
	case "bytes":
		return fmt.Sprintf("%.1f GiB", m.Value/(1<<30))
	case "GB":
		return fmt.Sprintf("%.1f GB", m.Value)
	default:
		return fmt.Sprintf("%g", m.Value)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
