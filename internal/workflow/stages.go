package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/models"
	"github.com/joescharf/opsassist/internal/plans"
	"github.com/joescharf/opsassist/internal/session"
)

var errNoCollaborator = errors.New("collaborator not configured")

func (d *Dispatcher) runStage(ctx context.Context, stage models.Stage, sess *session.Session, query string, ir models.IntentResult, rep *Report) error {
	switch stage.Capability {
	case models.CapChat:
		return d.chat(ctx, sess, query, rep)
	case models.CapCollectMetrics:
		return d.collect(ctx, sess, stage.FreshMetrics, rep)
	case models.CapAnalyze:
		return d.analyze(ctx, sess, query, ir, rep)
	case models.CapPlan:
		return d.plan(ctx, sess, query, ir, rep)
	case models.CapExecute:
		return d.autoExecute(ctx, sess, rep)
	default:
		return fmt.Errorf("unknown capability %q: %w", stage.Capability, models.ErrInvalidState)
	}
}

// chat answers from the conversation and whatever snapshot the session
// already holds. It never consults the metrics source.
func (d *Dispatcher) chat(ctx context.Context, sess *session.Session, query string, rep *Report) error {
	if d.analyst == nil {
		return fmt.Errorf("analyst: %w", errNoCollaborator)
	}
	snap := sess.State.Snapshot()
	answer, err := d.analyst.Chat(ctx, query, snap.ConversationHistory, sess.State.Metrics())
	if err != nil {
		return err
	}
	rep.Answer = answer
	return nil
}

func (d *Dispatcher) collect(ctx context.Context, sess *session.Session, fresh bool, rep *Report) error {
	if d.metrics == nil {
		return fmt.Errorf("metrics source: %w", errNoCollaborator)
	}
	snap, cached, err := d.metrics.Snapshot(ctx, fresh)
	if err != nil {
		return err
	}
	if !fresh {
		d.telemetry.CacheLookup(cached)
	}
	sess.State.SetMetrics(snap)
	sess.State.RecordAction("collect_metrics", map[string]string{
		"fresh":  fmt.Sprint(fresh),
		"cached": fmt.Sprint(cached),
		"alerts": fmt.Sprint(len(snap.Alerts)),
	})
	rep.Metrics = snap
	rep.FromCache = cached
	return nil
}

func (d *Dispatcher) request(sess *session.Session, query string, ir models.IntentResult) models.AnalysisRequest {
	return models.AnalysisRequest{
		Intent:   ir.Intent,
		Query:    query,
		Params:   ir.Params,
		Snapshot: sess.State.Metrics(),
	}
}

func (d *Dispatcher) analyze(ctx context.Context, sess *session.Session, query string, ir models.IntentResult, rep *Report) error {
	if d.analyst == nil {
		return fmt.Errorf("analyst: %w", errNoCollaborator)
	}
	a, err := d.analyst.Analyze(ctx, d.request(sess, query, ir))
	if err != nil {
		return err
	}
	if a.OverallStatus == "" {
		a.OverallStatus = string(d.scorer.Assess(sess.State.Metrics()).Status)
	}
	sess.State.SetAnalysis(a)
	sess.State.RecordAction("analyze", map[string]string{
		"status":       a.OverallStatus,
		"issues":       fmt.Sprint(len(a.Issues)),
		"auto_fixable": fmt.Sprint(a.AutoFixable),
	})
	rep.Analysis = &a
	return nil
}

func (d *Dispatcher) plan(ctx context.Context, sess *session.Session, query string, ir models.IntentResult, rep *Report) error {
	if d.analyst == nil {
		return fmt.Errorf("analyst: %w", errNoCollaborator)
	}
	a, _ := sess.State.Analysis()
	proposed, err := d.analyst.GeneratePlans(ctx, d.request(sess, query, ir), a)
	if err != nil {
		return err
	}
	for _, p := range proposed {
		id, err := sess.Plans.Propose(p)
		if err != nil {
			if errors.Is(err, plans.ErrInvalidPlan) {
				d.logger.Warn("dropping invalid plan", zap.String("session", sess.ID), zap.String("issue", p.Issue), zap.Error(err))
				continue
			}
			return err
		}
		stored, _ := sess.Plans.Lookup(id)
		rep.Plans = append(rep.Plans, stored)
		d.savePlan(ctx, sess.ID, stored)
	}
	sess.State.RecordAction("plan", map[string]string{"proposed": fmt.Sprint(len(rep.Plans))})
	return nil
}

// shouldExecute gates the conditional execute stage.
func (d *Dispatcher) shouldExecute(sess *session.Session) bool {
	a, ok := sess.State.Analysis()
	if !ok || !a.AutoFixable || d.executor == nil {
		return false
	}
	if sess.Plans.Executing() {
		return false
	}
	_, ok = sess.Plans.FirstProposed()
	return ok
}

func (d *Dispatcher) autoExecute(ctx context.Context, sess *session.Session, rep *Report) error {
	p, ok := sess.Plans.FirstProposed()
	if !ok {
		return fmt.Errorf("no proposed plan: %w", models.ErrInvalidState)
	}
	handle, err := d.ApproveAndExecute(ctx, sess, p.ID)
	if err != nil {
		return err
	}
	rep.ExecutionHandle = handle
	return nil
}

func (d *Dispatcher) savePlan(ctx context.Context, sessionID string, p models.FixPlan) {
	if d.history == nil {
		return
	}
	if err := d.history.SavePlan(ctx, sessionID, p); err != nil {
		d.logger.Warn("save plan", zap.String("plan", p.ID), zap.Error(err))
	}
}
