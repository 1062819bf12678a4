package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/process"
	"github.com/sandboxkit/sandboxkit/internal/sse"
)

type executeRequest struct {
	Command   string `json:"command"`
	SessionID string `json:"sessionId"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// handleExecute runs a command to completion and returns a single JSON
// result, never an SSE sequence.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	timeout := s.cfg.ExecTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	rec, err := s.procs.Start(ctx, process.StartOptions{Command: req.Command, SessionID: req.SessionID})
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := s.procs.Stream(r.Context(), rec.ProcessID)
	if err != nil {
		writeError(w, err)
		return
	}

	var stdout, stderr []byte
	exitCode := 0
	for ev := range events {
		switch ev.Stream {
		case "stdout":
			stdout = append(stdout, ev.Data...)
		case "stderr":
			stderr = append(stderr, ev.Data...)
		case "exit":
			exitCode = ev.ExitCode
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   exitCode == 0,
		"stdout":    string(stdout),
		"stderr":    string(stderr),
		"exitCode":  exitCode,
		"command":   req.Command,
		"timestamp": nowISO(),
	})
}

// handleExecuteStream runs a command, emitting an SSE sequence of
// ExecEvents: start, then stdout/stderr, then complete or error.
func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "streaming unsupported", "timestamp": nowISO()})
		return
	}

	ctx := r.Context()
	rec, err := s.procs.Start(ctx, process.StartOptions{Command: req.Command, SessionID: req.SessionID})
	if err != nil {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_ = sse.Encode(w, map[string]any{"type": "error", "error": err.Error(), "timestamp": nowISO()})
		flusher.Flush()
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_ = sse.Encode(w, map[string]any{"type": "start", "command": req.Command, "timestamp": nowISO()})
	flusher.Flush()

	events, err := s.procs.Stream(ctx, rec.ProcessID)
	if err != nil {
		_ = sse.Encode(w, map[string]any{"type": "error", "error": err.Error(), "timestamp": nowISO()})
		flusher.Flush()
		return
	}

	for ev := range events {
		switch ev.Stream {
		case "stdout":
			_ = sse.Encode(w, map[string]any{"type": "stdout", "data": string(ev.Data), "timestamp": nowISO()})
		case "stderr":
			_ = sse.Encode(w, map[string]any{"type": "stderr", "data": string(ev.Data), "timestamp": nowISO()})
		case "exit":
			_ = sse.Encode(w, map[string]any{
				"type": "complete", "exitCode": ev.ExitCode, "success": ev.ExitCode == 0, "timestamp": nowISO(),
			})
		}
		flusher.Flush()
	}
}
