package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/joescharf/opsassist/internal/models"
	"github.com/joescharf/opsassist/internal/session"
)

type executionStarted struct {
	PlanID string `json:"plan_id"`
	Handle string `json:"handle"`
}

func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Plans.List())
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	p, found := sess.Plans.Lookup(r.PathValue("pid"))
	if !found {
		writeError(w, http.StatusNotFound, "plan not found: "+r.PathValue("pid"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// approvePlan approves a proposed plan and starts it.
func (s *Server) approvePlan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	pid := r.PathValue("pid")
	handle, err := s.dispatcher.ApproveAndExecute(r.Context(), sess, pid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, executionStarted{PlanID: pid, Handle: handle})
}

// executePlan retries an approved plan the executor refused earlier.
func (s *Server) executePlan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	pid := r.PathValue("pid")
	handle, err := s.dispatcher.ExecutePlan(r.Context(), sess, pid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, executionStarted{PlanID: pid, Handle: handle})
}

func (s *Server) rejectPlan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	pid := r.PathValue("pid")
	if err := sess.Plans.Reject(pid); err != nil {
		s.fail(w, r, err)
		return
	}
	sess.State.RecordAction("reject_plan", map[string]string{"plan": pid})
	p, _ := sess.Plans.Lookup(pid)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) editCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	pid := r.PathValue("pid")
	step, err := strconv.Atoi(r.PathValue("step"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "step must be an integer")
		return
	}
	var cmd models.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := sess.Plans.EditCommand(pid, step, cmd); err != nil {
		s.fail(w, r, err)
		return
	}
	sess.State.RecordAction("edit_command", map[string]string{"plan": pid, "step": strconv.Itoa(step)})
	p, _ := sess.Plans.Lookup(pid)
	writeJSON(w, http.StatusOK, p)
}
