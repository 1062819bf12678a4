package api

import (
	"encoding/json"
	"net/http"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/portreg"
)

type portsExposeRequest struct {
	Port      int    `json:"port"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handlePortsExpose(w http.ResponseWriter, r *http.Request) {
	var req portsExposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	entry, err := s.ports.Expose(req.Port, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"success":   true,
		"port":      entry.Port,
		"token":     entry.Token,
		"exposedAt": entry.ExposedAt,
		"timestamp": nowISO(),
	}
	if entry.Name != "" {
		resp["name"] = entry.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

type portsUnexposeRequest struct {
	Port int `json:"port"`
}

func (s *Server) handlePortsUnexpose(w http.ResponseWriter, r *http.Request) {
	var req portsUnexposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	if err := s.ports.Unexpose(req.Port); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "timestamp": nowISO()})
}

func (s *Server) handlePortsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"ports":     s.ports.List(),
		"timestamp": nowISO(),
	})
}

type portsCheckReadyRequest struct {
	Port      int    `json:"port"`
	Mode      string `json:"mode,omitempty"`
	Path      string `json:"path,omitempty"`
	StatusMin int    `json:"statusMin,omitempty"`
	StatusMax int    `json:"statusMax,omitempty"`
}

func (s *Server) handlePortsCheckReady(w http.ResponseWriter, r *http.Request) {
	var req portsCheckReadyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	mode := portreg.ModeTCP
	if req.Mode == string(portreg.ModeHTTP) {
		mode = portreg.ModeHTTP
	}

	result := s.ports.CheckReady(r.Context(), portreg.ReadyCheck{
		Port: req.Port, Mode: mode, Path: req.Path, StatusMin: req.StatusMin, StatusMax: req.StatusMax,
	})

	resp := map[string]any{"ready": result.Ready}
	if result.StatusCode != 0 {
		resp["statusCode"] = result.StatusCode
	}
	if result.Error != "" {
		resp["error"] = result.Error
	}
	writeJSON(w, http.StatusOK, resp)
}
