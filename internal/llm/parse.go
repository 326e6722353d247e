package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/opsassist/internal/models"
)

// looseInt accepts a JSON number or a string containing one ("5", "5-10 minutes").
type looseInt int

var firstInt = regexp.MustCompile(`\d+`)

func (l *looseInt) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*l = looseInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	if m := firstInt.FindString(s); m != "" {
		v, _ := strconv.Atoi(m)
		*l = looseInt(v)
	}
	return nil
}

type commandWire struct {
	Step           looseInt `json:"step"`
	Description    string   `json:"description"`
	Command        string   `json:"command"`
	ExpectedOutput string   `json:"expected_output"`
	Timeout        looseInt `json:"timeout"`
}

type planWire struct {
	Issue                string        `json:"issue"`
	Description          string        `json:"description"`
	Priority             string        `json:"priority"`
	RiskLevel            string        `json:"risk_level"`
	EstimatedTime        looseInt      `json:"estimated_time"`
	Commands             []commandWire `json:"commands"`
	RollbackCommands     []commandWire `json:"rollback_commands"`
	VerificationCommands []commandWire `json:"verification_commands"`
}

func parseAnalysis(text string) (models.Analysis, error) {
	raw := extractJSON(text)
	var a models.Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return models.Analysis{}, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	a.OverallStatus = strings.ToLower(strings.TrimSpace(a.OverallStatus))
	a.Urgency = strings.ToLower(strings.TrimSpace(a.Urgency))
	a.Raw = text
	return a, nil
}

// parsePlans accepts {"fix_plans": [...]} or a bare array. Plans without an
// issue or runnable command are dropped.
func parsePlans(text string) ([]models.FixPlan, error) {
	raw := extractJSON(text)

	var wires []planWire
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &wires); err != nil {
			return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
		}
	} else {
		var env struct {
			FixPlans []planWire `json:"fix_plans"`
		}
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
		}
		wires = env.FixPlans
	}

	plans := make([]models.FixPlan, 0, len(wires))
	for _, w := range wires {
		p := models.FixPlan{
			Issue:                strings.TrimSpace(w.Issue),
			Description:          w.Description,
			Priority:             models.Priority(normalizeLevel(w.Priority)),
			RiskLevel:            models.RiskLevel(normalizeLevel(w.RiskLevel)),
			EstimatedMinutes:     int(w.EstimatedTime),
			Commands:             toCommands(w.Commands),
			RollbackCommands:     toCommands(w.RollbackCommands),
			VerificationCommands: toCommands(w.VerificationCommands),
		}
		if p.Issue == "" || len(p.Commands) == 0 {
			continue
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// toCommands drops empty commands and renumbers steps when the model
// omitted or repeated them.
func toCommands(ws []commandWire) []models.Command {
	var out []models.Command
	seen := map[int]bool{}
	renumber := false
	for _, w := range ws {
		text := strings.TrimSpace(w.Command)
		if text == "" {
			continue
		}
		step := int(w.Step)
		if step <= 0 || seen[step] {
			renumber = true
		}
		seen[step] = true
		out = append(out, models.Command{
			Step:           step,
			Description:    w.Description,
			CommandText:    text,
			ExpectedOutput: w.ExpectedOutput,
			TimeoutSeconds: int(w.Timeout),
		})
	}
	if renumber {
		for i := range out {
			out[i].Step = i + 1
		}
	}
	return out
}

func normalizeLevel(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "low", "medium", "high", "critical":
		return v
	}
	return "medium"
}
