package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/process"
	"github.com/sandboxkit/sandboxkit/internal/sse"
)

type startProcessRequest struct {
	Command    string            `json:"command"`
	SessionID  string            `json:"sessionId"`
	ProcessID  string            `json:"processId,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Cwd        string            `json:"cwd,omitempty"`
	Background bool              `json:"background,omitempty"`
}

func (s *Server) handleStartProcess(w http.ResponseWriter, r *http.Request) {
	var req startProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	rec, err := s.procs.Start(r.Context(), process.StartOptions{
		Command:   req.Command,
		SessionID: req.SessionID,
		Env:       req.Env,
		Cwd:       req.Cwd,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processId": rec.ProcessID,
		"pid":       rec.Pid,
		"command":   rec.Command,
		"timestamp": nowISO(),
	})
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	all := s.procs.List()

	processes := make([]map[string]any, 0, len(all))
	for _, rec := range all {
		if sessionID != "" && rec.SessionID != sessionID {
			continue
		}
		processes = append(processes, recordToJSON(rec))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processes": processes,
		"timestamp": nowISO(),
	})
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.procs.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToJSON(rec))
}

func (s *Server) handleKillProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.procs.Kill(id, 0); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "timestamp": nowISO()})
}

func (s *Server) handleProcessLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stdout, stderr, err := s.procs.Logs(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"stdout":    string(stdout),
		"stderr":    string(stderr),
		"timestamp": nowISO(),
	})
}

func (s *Server) handleProcessLogsStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "streaming unsupported", "timestamp": nowISO()})
		return
	}

	events, err := s.procs.Stream(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		payload := map[string]any{"processId": id, "type": ev.Stream, "timestamp": nowISO()}
		switch ev.Stream {
		case "stdout", "stderr":
			payload["data"] = string(ev.Data)
		case "exit":
			payload["exitCode"] = ev.ExitCode
		}
		_ = sse.Encode(w, payload)
		flusher.Flush()
	}
}

func recordToJSON(rec process.Record) map[string]any {
	m := map[string]any{
		"id":        rec.ProcessID,
		"pid":       rec.Pid,
		"command":   rec.Command,
		"status":    string(rec.State),
		"sessionId": rec.SessionID,
		"startTime": rec.StartedAt,
	}
	if !rec.EndedAt.IsZero() {
		m["endTime"] = rec.EndedAt
		m["exitCode"] = rec.ExitCode
	}
	return m
}
