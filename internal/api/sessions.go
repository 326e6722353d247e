package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/models"
	"github.com/joescharf/opsassist/internal/session"
	"github.com/joescharf/opsassist/internal/store"
	"github.com/joescharf/opsassist/internal/workflow"
)

type sessionSummary struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Phase     models.Phase `json:"phase"`
	Plans     int          `json:"plans"`
}

func summarize(sess *session.Session) sessionSummary {
	return sessionSummary{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		Phase:     sess.State.Phase(),
		Plans:     sess.Plans.Len(),
	}
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	list := s.sessions.List()
	out := make([]sessionSummary, 0, len(list))
	for _, sess := range list {
		out = append(out, summarize(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, summarize(s.sessions.Create()))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// resetSession clears a session's state and plans but keeps its id.
func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Reset(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type queryAccepted struct {
	SessionID string              `json:"session_id"`
	Intent    models.IntentResult `json:"intent"`
	Pipeline  []string            `json:"pipeline"`
}

// querySession acknowledges immediately; progress arrives over the event
// stream and the session snapshot.
func (s *Server) querySession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q, err := decodeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ir, err := s.dispatcher.Submit(r.Context(), sess, q, func(rep *workflow.Report) {
		s.logger.Debug("query finished",
			zap.String("session", rep.SessionID),
			zap.String("intent", string(rep.Intent.Intent)),
			zap.Bool("failed", rep.Failed()),
		)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queryAccepted{
		SessionID: sess.ID,
		Intent:    ir,
		Pipeline:  workflow.PipelineFor(ir.Intent).StageNames(),
	})
}

type historyResponse struct {
	Turns      []*store.TurnRecord      `json:"turns"`
	Plans      []*store.PlanRecord      `json:"plans"`
	Executions []*store.ExecutionRecord `json:"executions"`
}

// sessionHistory reads the persisted audit trail. Sessions reset or lost on
// restart are still readable here.
func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "history store not configured")
		return
	}
	id := r.PathValue("id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var out historyResponse
	var err error
	if out.Turns, err = s.history.ListTurns(r.Context(), id, limit); err != nil {
		s.fail(w, r, err)
		return
	}
	if out.Plans, err = s.history.ListPlans(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	if out.Executions, err = s.history.ListExecutions(r.Context(), id, limit); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
