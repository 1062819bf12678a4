package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/session"
)

type createSessionRequest struct {
	ID  string            `json:"id,omitempty"`
	Env map[string]string `json:"env,omitempty"`
	Cwd string            `json:"cwd,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	sess := s.sessions.Create(session.Options{ID: req.ID, Cwd: req.Cwd, Env: req.Env})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": sess.ID,
		"timestamp": nowISO(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.sessions.Delete(id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "timestamp": nowISO()})
}
