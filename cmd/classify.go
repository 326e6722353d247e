package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/opsassist/internal/intent"
	"github.com/joescharf/opsassist/internal/output"
	"github.com/joescharf/opsassist/internal/workflow"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <query>",
	Short: "Show the intent and pipeline a query would run",
	Long:  "Classify a query with the rule table without running anything. No config or network access is needed.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return classifyRun(strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func classifyRun(query string) error {
	ir := intent.NewClassifier().Classify(query)

	fmt.Fprintf(ui.Out, "%-12s %s\n", "Intent:", output.Cyan(string(ir.Intent)))
	fmt.Fprintf(ui.Out, "%-12s %.2f\n", "Confidence:", ir.Confidence)
	if ir.MatchedRule != "" {
		fmt.Fprintf(ui.Out, "%-12s %s\n", "Rule:", ir.MatchedRule)
	}
	fmt.Fprintf(ui.Out, "%-12s %s\n", "Pipeline:", strings.Join(workflow.PipelineFor(ir.Intent).StageNames(), " → "))

	if len(ir.Params) > 0 {
		keys := make([]string, 0, len(ir.Params))
		for k := range ir.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(ui.Out, "%-12s\n", "Params:")
		for _, k := range keys {
			fmt.Fprintf(ui.Out, "  %s = %s\n", k, ir.Params[k])
		}
	}
	return nil
}
