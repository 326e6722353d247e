package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/opsassist/internal/session"
	"github.com/joescharf/opsassist/internal/workflow"
)

// askHistoryTurns bounds how much stored conversation a resumed session gets.
const askHistoryTurns = 20

var (
	askSession string
	askApprove bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Ask a question about the managed host",
	Long: `Classify the query, run the matching pipeline and print the report.

With --approve the first proposed fix plan is approved and executed over SSH,
and the command waits for it to finish (bounded by executor.max_wait).`,
	Example: `  opsassist ask "check the system"
  opsassist ask "memory is at 95%, fix it" --approve
  opsassist ask --session ops-1 "what changed since last time?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return askRun(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Session id (conversation history is loaded from the history store)")
	askCmd.Flags().BoolVar(&askApprove, "approve", false, "Approve and execute the first proposed plan, then wait for it")
	rootCmd.AddCommand(askCmd)
}

func askRun(ctx context.Context, query string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	sess := askSessionFor(ctx, a)
	ir := a.dispatcher.Classify(query)
	ui.VerboseLog("intent %s (%.2f), pipeline %s", ir.Intent, ir.Confidence, strings.Join(workflow.PipelineFor(ir.Intent).StageNames(), " → "))

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(ui.ErrOut))
	s.Suffix = fmt.Sprintf(" Running %s pipeline...", ir.Intent)
	s.Start()
	rep, err := a.dispatcher.Run(ctx, sess, query, ir)
	s.Stop()
	if err != nil {
		return err
	}

	if err := ui.Report(rep); err != nil {
		return err
	}
	ui.VerboseLog("session %s", sess.ID)

	handle := rep.ExecutionHandle
	if handle == "" && askApprove {
		if err := requireSSHHost(); err != nil {
			return err
		}
		plan, ok := sess.Plans.FirstProposed()
		if !ok {
			ui.Warning("No proposed plan to approve")
			return nil
		}
		ui.Info("Approving plan %s: %s", plan.ID, plan.Issue)
		handle, err = a.dispatcher.ApproveAndExecute(ctx, sess, plan.ID)
		if err != nil {
			return fmt.Errorf("execute plan %s: %w", plan.ID, err)
		}
	}
	if handle == "" {
		return nil
	}
	return askWait(ctx, a, sess, handle)
}

// askSessionFor resumes --session when given, seeding it with the stored
// conversation so chat keeps its context across invocations.
func askSessionFor(ctx context.Context, a *app) *session.Session {
	if askSession == "" {
		return a.sessions.Create()
	}
	sess := a.sessions.GetOrCreate(askSession)
	if a.history == nil {
		return sess
	}
	turns, err := a.history.ListTurns(ctx, askSession, askHistoryTurns)
	if err != nil {
		ui.Warning("Could not load history for %s: %v", askSession, err)
		return sess
	}
	for _, t := range turns {
		sess.State.AppendTurn(t.ConversationTurn)
	}
	ui.VerboseLog("loaded %d previous turns", len(turns))
	return sess
}

// askWait blocks until the execution and its follow-up analysis finish.
func askWait(ctx context.Context, a *app, sess *session.Session, handle string) error {
	ctx, cancel := context.WithTimeout(ctx, viper.GetDuration("executor.max_wait"))
	defer cancel()

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(ui.ErrOut))
	s.Suffix = fmt.Sprintf(" Executing %s...", handle)
	s.Start()
	result, err := a.coordinator.Wait(ctx, handle, viper.GetDuration("executor.poll_interval"))
	if err == nil {
		var done <-chan struct{}
		if done, err = a.coordinator.Done(handle); err == nil {
			select {
			case <-done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
	}
	s.Stop()

	fmt.Fprintln(ui.Out)
	if rerr := ui.Execution(result); rerr != nil {
		return rerr
	}
	if err != nil {
		return fmt.Errorf("wait for %s: %w", handle, err)
	}

	switch result.Outcome() {
	case "succeeded":
		ui.Success("Plan %s succeeded", result.PlanID)
	case "cancelled":
		ui.Warning("Plan %s was cancelled", result.PlanID)
	default:
		ui.Error("Plan %s failed", result.PlanID)
	}

	if followups := sess.Plans.Followups(result.PlanID); len(followups) > 0 {
		fmt.Fprintln(ui.Out)
		ui.Heading("Follow-up plans")
		return ui.Plans(followups)
	}
	return nil
}
