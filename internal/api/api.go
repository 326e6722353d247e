// Package api exposes sessions, plans and executions over REST, pushes
// workflow events over a websocket and serves Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/models"
	"github.com/joescharf/opsassist/internal/notify"
	"github.com/joescharf/opsassist/internal/plans"
	"github.com/joescharf/opsassist/internal/session"
	"github.com/joescharf/opsassist/internal/store"
	"github.com/joescharf/opsassist/internal/workflow"
)

// Executions is the part of the execution coordinator the API needs.
type Executions interface {
	Poll(handle string) (models.ExecutionResult, error)
	Cancel(handle string) error
}

// Server provides the REST API handlers.
type Server struct {
	dispatcher *workflow.Dispatcher
	sessions   *session.Manager
	exec       Executions
	hub        *notify.Hub
	history    store.Store
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewServer creates a new API server. The hub, history store and metrics
// gatherer are optional and set with the With* methods.
func NewServer(d *workflow.Dispatcher, sessions *session.Manager, exec Executions, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		dispatcher: d,
		sessions:   sessions,
		exec:       exec,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// WithHub enables the websocket event stream.
func (s *Server) WithHub(h *notify.Hub) *Server {
	s.hub = h
	return s
}

// WithHistory enables the history endpoints.
func (s *Server) WithHistory(st store.Store) *Server {
	s.history = st
	return s
}

// WithMetrics serves g on /metrics.
func (s *Server) WithMetrics(g prometheus.Gatherer) *Server {
	s.gatherer = g
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)
	mux.HandleFunc("POST /api/v1/classify", s.classify)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("POST /api/v1/sessions", s.createSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.resetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/query", s.querySession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/history", s.sessionHistory)

	mux.HandleFunc("GET /api/v1/sessions/{id}/plans", s.listPlans)
	mux.HandleFunc("GET /api/v1/sessions/{id}/plans/{pid}", s.getPlan)
	mux.HandleFunc("POST /api/v1/sessions/{id}/plans/{pid}/approve", s.approvePlan)
	mux.HandleFunc("POST /api/v1/sessions/{id}/plans/{pid}/reject", s.rejectPlan)
	mux.HandleFunc("POST /api/v1/sessions/{id}/plans/{pid}/execute", s.executePlan)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/plans/{pid}/commands/{step}", s.editCommand)

	mux.HandleFunc("GET /api/v1/executions/{handle}", s.getExecution)
	mux.HandleFunc("POST /api/v1/executions/{handle}/cancel", s.cancelExecution)

	mux.HandleFunc("GET /api/v1/ws", s.events)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps the shared error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, models.ErrPolicyViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, plans.ErrInvalidPlan):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sessions.List()),
	})
}

type queryRequest struct {
	Query string `json:"query"`
}

func decodeQuery(r *http.Request) (string, error) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", errors.New("invalid JSON")
	}
	if req.Query == "" {
		return "", errors.New("query is required")
	}
	return req.Query, nil
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	q, err := decodeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Classify(q))
}
