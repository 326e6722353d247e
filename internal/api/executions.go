package api

import (
	"net/http"
)

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	res, err := s.exec.Poll(r.PathValue("handle"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cancelExecution(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := s.exec.Cancel(handle); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.exec.Poll(handle)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
