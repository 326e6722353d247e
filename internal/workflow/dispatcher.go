// Package workflow routes a classified query through its static pipeline,
// driving collection, analysis, planning and conditional execution against a
// session's state.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/health"
	"github.com/joescharf/opsassist/internal/models"
	"github.com/joescharf/opsassist/internal/notify"
	"github.com/joescharf/opsassist/internal/session"
)

// Classifier maps a query to an intent.
type Classifier interface {
	Classify(query string) models.IntentResult
}

// Analyst is the language-model collaborator.
type Analyst interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (models.Analysis, error)
	GeneratePlans(ctx context.Context, req models.AnalysisRequest, analysis models.Analysis) ([]models.FixPlan, error)
	Chat(ctx context.Context, query string, history []models.ConversationTurn, snap *models.MetricsSnapshot) (string, error)
	Reanalyze(ctx context.Context, plan models.FixPlan, result models.ExecutionResult) ([]models.FixPlan, error)
}

// MetricsSource yields snapshots, reporting whether one came from the cache.
type MetricsSource interface {
	Snapshot(ctx context.Context, fresh bool) (*models.MetricsSnapshot, bool, error)
}

// Executor starts plans asynchronously.
type Executor interface {
	Start(ctx context.Context, sessionID string, plan models.FixPlan) (string, error)
	Poll(handle string) (models.ExecutionResult, error)
}

// History persists finished work. It is optional.
type History interface {
	SaveTurn(ctx context.Context, sessionID string, turn models.ConversationTurn) error
	SavePlan(ctx context.Context, sessionID string, plan models.FixPlan) error
	SaveExecution(ctx context.Context, result models.ExecutionResult) error
}

// Telemetry receives run metrics. It is optional.
type Telemetry interface {
	RunFinished(intent, outcome string, d time.Duration)
	StageFailed(intent, stage string)
	CacheLookup(hit bool)
}

// Deps are the dispatcher's collaborators. Classifier and Sessions are
// required; the rest may be nil.
type Deps struct {
	Classifier Classifier
	Analyst    Analyst
	Metrics    MetricsSource
	Executor   Executor
	Sessions   *session.Manager
	Notifier   notify.Notifier
	History    History
	Telemetry  Telemetry
	Logger     *zap.Logger
}

// Dispatcher runs pipelines. One run per session at a time.
type Dispatcher struct {
	classifier Classifier
	analyst    Analyst
	metrics    MetricsSource
	executor   Executor
	sessions   *session.Manager
	notifier   notify.Notifier
	history    History
	telemetry  Telemetry
	logger     *zap.Logger
	scorer     *health.Scorer

	wg  sync.WaitGroup
	now func() time.Time
}

// New builds a dispatcher.
func New(d Deps) *Dispatcher {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Telemetry == nil {
		d.Telemetry = nopTelemetry{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Dispatcher{
		classifier: d.Classifier,
		analyst:    d.Analyst,
		metrics:    d.Metrics,
		executor:   d.Executor,
		sessions:   d.Sessions,
		notifier:   d.Notifier,
		history:    d.History,
		telemetry:  d.Telemetry,
		logger:     d.Logger,
		scorer:     health.NewScorer(),
		now:        time.Now,
	}
}

type nopTelemetry struct{}

func (nopTelemetry) RunFinished(string, string, time.Duration) {}
func (nopTelemetry) StageFailed(string, string)                {}
func (nopTelemetry) CacheLookup(bool)                          {}

// Classify exposes the classifier.
func (d *Dispatcher) Classify(query string) models.IntentResult {
	return d.classifier.Classify(query)
}

// Handle classifies query and runs the matching pipeline.
func (d *Dispatcher) Handle(ctx context.Context, sess *session.Session, query string) (*Report, error) {
	return d.Run(ctx, sess, query, d.classifier.Classify(query))
}

// Run executes the pipeline for ir against sess. It fails only with
// models.ErrBusy when another run holds the session; stage failures are
// reported in the Report.
func (d *Dispatcher) Run(ctx context.Context, sess *session.Session, query string, ir models.IntentResult) (*Report, error) {
	release, err := sess.TryAcquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return d.run(ctx, sess, query, ir), nil
}

// Submit classifies and starts a run in the background, returning as soon as
// the session lock is held. done, if set, receives the report.
func (d *Dispatcher) Submit(ctx context.Context, sess *session.Session, query string, done func(*Report)) (models.IntentResult, error) {
	ir := d.classifier.Classify(query)
	release, err := sess.TryAcquire()
	if err != nil {
		return ir, err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer release()
		rep := d.run(context.WithoutCancel(ctx), sess, query, ir)
		if done != nil {
			done(rep)
		}
	}()
	return ir, nil
}

// Wait blocks until every submitted run and completion hook has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, sess *session.Session, query string, ir models.IntentResult) *Report {
	st := sess.State
	st.BeginRun()

	p := PipelineFor(ir.Intent)
	rep := &Report{
		SessionID: sess.ID,
		Query:     query,
		Intent:    ir,
		Pipeline:  p.StageNames(),
		Phases:    []models.Phase{models.PhasePending},
		StartedAt: d.now(),
	}
	log := d.logger.With(zap.String("session", sess.ID), zap.String("intent", string(p.Intent)))
	log.Info("pipeline started", zap.Float64("confidence", ir.Confidence), zap.String("rule", ir.MatchedRule))

	checking := p.Intent != models.IntentChat
	if checking {
		d.emit(ctx, notify.Event{Type: notify.CheckStarted, SessionID: sess.ID, Message: string(p.Intent)})
	}

	var failure error
	for _, stage := range p.Stages {
		if stage.Capability == models.CapReport {
			continue
		}
		if failure != nil {
			rep.addStage(stage.Name, StageNotRun, nil, 0)
			continue
		}
		if stage.Conditional && !d.shouldExecute(sess) {
			rep.addStage(stage.Name, StageSkipped, nil, 0)
			continue
		}

		d.enter(st, rep, phaseFor(stage.Capability))
		start := d.now()
		err := d.runStage(ctx, stage, sess, query, ir, rep)
		elapsed := d.now().Sub(start)
		if err != nil {
			failure = fmt.Errorf("%s: %w", stage.Name, err)
			rep.addStage(stage.Name, StageFailed, err, elapsed)
			st.SetError(failure.Error())
			d.enter(st, rep, models.PhaseError)
			d.telemetry.StageFailed(string(p.Intent), stage.Name)
			log.Warn("stage failed", zap.String("stage", stage.Name), zap.Error(err))
			continue
		}
		rep.addStage(stage.Name, StageOK, nil, elapsed)
		log.Debug("stage finished", zap.String("stage", stage.Name), zap.Duration("elapsed", elapsed))
	}

	if failure == nil {
		d.enter(st, rep, models.PhaseReporting)
	}
	if hasStage(p, StageReport) {
		rep.addStage(StageReport, StageOK, nil, 0)
	}
	rep.Health = d.scorer.Assess(rep.Metrics)
	if failure != nil {
		rep.Error = failure.Error()
	}
	rep.Response = render(rep)
	st.SetResponse(rep.Response)

	turn := models.ConversationTurn{Query: query, Response: rep.Response, Intent: p.Intent, At: d.now()}
	st.AppendTurn(turn)
	d.saveTurn(ctx, sess.ID, turn)

	d.enter(st, rep, models.PhaseDone)
	rep.Duration = d.now().Sub(rep.StartedAt)

	outcome := "ok"
	if failure != nil {
		outcome = "error"
		d.emit(ctx, notify.Event{Type: notify.Error, SessionID: sess.ID, Message: failure.Error()})
	} else if checking {
		d.emit(ctx, notify.Event{Type: notify.CheckCompleted, SessionID: sess.ID, Message: rep.Health.Summary})
	}
	d.telemetry.RunFinished(string(p.Intent), outcome, rep.Duration)
	log.Info("pipeline finished", zap.String("outcome", outcome), zap.Duration("elapsed", rep.Duration))
	return rep
}

// enter records a phase transition, ignoring repeats.
func (d *Dispatcher) enter(st *session.State, rep *Report, p models.Phase) {
	if rep.Phases[len(rep.Phases)-1] == p {
		return
	}
	rep.Phases = append(rep.Phases, p)
	st.SetPhase(p)
}

func (d *Dispatcher) emit(ctx context.Context, e notify.Event) {
	if e.At.IsZero() {
		e.At = d.now()
	}
	d.notifier.Notify(ctx, e)
}

func (d *Dispatcher) saveTurn(ctx context.Context, sessionID string, turn models.ConversationTurn) {
	if d.history == nil {
		return
	}
	if err := d.history.SaveTurn(ctx, sessionID, turn); err != nil {
		d.logger.Warn("save conversation turn", zap.String("session", sessionID), zap.Error(err))
	}
}

func hasStage(p models.Pipeline, name string) bool {
	for _, s := range p.Stages {
		if s.Name == name {
			return true
		}
	}
	return false
}
