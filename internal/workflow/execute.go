package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/models"
	"github.com/joescharf/opsassist/internal/notify"
	"github.com/joescharf/opsassist/internal/session"
)

// ApproveAndExecute approves a proposed plan and starts it. While another
// plan of the session is executing it fails with models.ErrBusy and the plan
// stays proposed.
func (d *Dispatcher) ApproveAndExecute(ctx context.Context, sess *session.Session, planID string) (string, error) {
	if sess.Plans.Executing() {
		if _, ok := sess.Plans.Lookup(planID); !ok {
			return "", fmt.Errorf("plan %s: %w", planID, models.ErrNotFound)
		}
		return "", fmt.Errorf("session %s has a plan executing: %w", sess.ID, models.ErrBusy)
	}
	if _, err := sess.Plans.Approve(planID); err != nil {
		return "", err
	}
	sess.State.RecordAction("approve_plan", map[string]string{"plan": planID})
	handle, err := d.ExecutePlan(ctx, sess, planID)
	if errors.Is(err, models.ErrBusy) {
		// The executor saw a run the registry did not; undo the approval.
		if werr := sess.Plans.Withdraw(planID); werr != nil {
			d.logger.Error("withdraw plan", zap.String("plan", planID), zap.Error(werr))
		}
	}
	return handle, err
}

// ExecutePlan hands an approved plan to the executor and returns its handle.
// The plan returns to approved if the executor refuses it.
func (d *Dispatcher) ExecutePlan(ctx context.Context, sess *session.Session, planID string) (string, error) {
	if d.executor == nil {
		return "", fmt.Errorf("executor: %w", errNoCollaborator)
	}
	plan, err := sess.Plans.MarkExecuting(planID)
	if err != nil {
		return "", err
	}
	handle, err := d.executor.Start(ctx, sess.ID, plan)
	if err != nil {
		if rerr := sess.Plans.Revert(planID); rerr != nil {
			d.logger.Error("revert plan", zap.String("plan", planID), zap.Error(rerr))
		}
		sess.State.RecordAction("execute_rejected", map[string]string{"plan": planID, "error": err.Error()})
		return "", err
	}
	if res, err := d.executor.Poll(handle); err == nil {
		sess.State.RecordExecution(res)
	}
	sess.State.RecordAction("execute_plan", map[string]string{"plan": planID, "handle": handle})
	d.emit(ctx, notify.Event{
		Type:      notify.ExecutionStarted,
		SessionID: sess.ID,
		PlanID:    planID,
		Handle:    handle,
		Message:   plan.Issue,
	})
	return handle, nil
}

// HandleCompletion is the executor's completion hook. It records the final
// result, completes the plan and asks the analyst for follow-ups unless the
// run was cancelled. It does not take the session run lock; State and the
// plan registry guard their own writes.
func (d *Dispatcher) HandleCompletion(result models.ExecutionResult) {
	ctx := context.Background()
	log := d.logger.With(zap.String("session", result.SessionID), zap.String("handle", result.Handle), zap.String("plan", result.PlanID))

	sess, err := d.sessions.Get(result.SessionID)
	if err != nil {
		log.Warn("completion for unknown session", zap.Error(err))
		return
	}
	sess.State.RecordExecution(result)
	if err := sess.Plans.MarkCompleted(result.PlanID); err != nil {
		log.Warn("mark plan completed", zap.Error(err))
	}

	outcome := result.Outcome()
	sess.State.RecordAction("execution_completed", map[string]string{
		"plan":    result.PlanID,
		"handle":  result.Handle,
		"outcome": outcome,
	})
	if d.history != nil {
		if err := d.history.SaveExecution(ctx, result); err != nil {
			log.Warn("save execution", zap.Error(err))
		}
	}
	d.emit(ctx, notify.Event{
		Type:      notify.ExecutionCompleted,
		SessionID: result.SessionID,
		PlanID:    result.PlanID,
		Handle:    result.Handle,
		Message:   outcome,
	})

	if result.Cancelled {
		return
	}
	ids, err := d.Reanalyze(ctx, result.SessionID, result)
	if err != nil {
		log.Warn("reanalysis failed", zap.Error(err))
		sess.State.RecordAction("reanalyze_failed", map[string]string{"plan": result.PlanID, "error": err.Error()})
		return
	}
	log.Info("reanalysis finished", zap.Int("followups", len(ids)))
}

// Reanalyze asks the analyst for follow-up plans to an execution and records
// them under the executed plan. It returns the new plan ids.
func (d *Dispatcher) Reanalyze(ctx context.Context, sessionID string, result models.ExecutionResult) ([]string, error) {
	if d.analyst == nil {
		return nil, fmt.Errorf("analyst: %w", errNoCollaborator)
	}
	sess, err := d.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	parent, ok := sess.Plans.Lookup(result.PlanID)
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", result.PlanID, models.ErrNotFound)
	}
	followups, err := d.analyst.Reanalyze(ctx, parent, result)
	if err != nil {
		return nil, err
	}
	if len(followups) == 0 {
		return nil, nil
	}
	ids, err := sess.Plans.RecordFollowups(parent.ID, followups)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if p, ok := sess.Plans.Lookup(id); ok {
			d.savePlan(ctx, sessionID, p)
		}
	}
	sess.State.RecordAction("reanalyze", map[string]string{"plan": parent.ID, "followups": fmt.Sprint(len(ids))})
	return ids, nil
}
