package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/byronwjones/chrysolite/internal/session"
)

type startRequest struct {
	Args string `json:"args"`
}

type inputRequest struct {
	Text *string `json:"text"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps App errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyRunning), errors.Is(err, session.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	// An empty body starts the program without arguments.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.app.Execute(req.Args); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	s.broadcastStatus()
	writeJSON(w, http.StatusCreated, s.status())
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := s.app.SendInput(*req.Text); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	if !s.app.Running() {
		writeError(w, http.StatusConflict, session.ErrNotRunning.Error())
		return
	}

	s.app.Kill()
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}
