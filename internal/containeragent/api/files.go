package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/session"
	"github.com/sandboxkit/sandboxkit/internal/security"
)

// FileNotFoundError reports that a read targeted a file that does not
// exist.
type FileNotFoundError struct{ Path string }

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("FILE_NOT_FOUND: %s", e.Path)
}

// PathValidationError reports that a path escaped the session root or a
// protected subtree.
type PathValidationError struct {
	Path   string
	Reason string
}

func (e *PathValidationError) Error() string {
	return fmt.Sprintf("PATH_VALIDATION_FAILED: %s: %s", e.Path, e.Reason)
}

// PermissionDeniedError reports a filesystem permission failure.
type PermissionDeniedError struct{ Path string }

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("PERMISSION_DENIED: %s", e.Path)
}

// protectedSubtrees are rejected even though they may technically sit
// under a path.Clean-normalized session root, guarding against a root
// misconfigured to "/".
var protectedSubtrees = []string{"/etc", "/proc", "/dev"}

// resolvePath validates p (resolved against the session's logical cwd,
// always rooted at session.DefaultCwd) and returns the real filesystem
// path backing it, rebased under the server's configured WorkspaceRoot.
// The logical/physical split lets WorkspaceRoot point at whatever
// directory actually backs "/workspace" inside this process (a bind
// mount in the container, a temp dir under test) without changing the
// path semantics callers observe.
func (s *Server) resolvePath(sessionID, p string) (string, error) {
	sess := s.sessions.GetOrDefault(sessionID)
	resolved := sess.ResolvePath(p)

	for _, protected := range protectedSubtrees {
		if resolved == protected || len(resolved) > len(protected) && resolved[:len(protected)+1] == protected+"/" {
			return "", &PathValidationError{Path: p, Reason: "targets a protected system subtree"}
		}
	}

	normalized, ok := security.ValidatePath(resolved, session.DefaultCwd)
	if !ok {
		return "", &PathValidationError{Path: p, Reason: "escapes the session root"}
	}

	rel := strings.TrimPrefix(normalized, session.DefaultCwd)
	return filepath.Join(s.cfg.WorkspaceRoot, rel), nil
}

type filesWriteRequest struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Encoding  string `json:"encoding,omitempty"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleFilesWrite(w http.ResponseWriter, r *http.Request) {
	var req filesWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	fullPath, err := s.resolvePath(req.SessionID, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	content, err := decodeContent(req.Content, req.Encoding)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error(), "timestamp": nowISO()})
		return
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		writeError(w, mapOSError(fullPath, err))
		return
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		writeError(w, mapOSError(fullPath, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"bytesWritten": len(content),
		"timestamp":    nowISO(),
	})
}

type filesReadRequest struct {
	Path      string `json:"path"`
	Encoding  string `json:"encoding,omitempty"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleFilesRead(w http.ResponseWriter, r *http.Request) {
	var req filesReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	fullPath, err := s.resolvePath(req.SessionID, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, &FileNotFoundError{Path: req.Path})
			return
		}
		writeError(w, mapOSError(fullPath, err))
		return
	}

	content := string(data)
	if req.Encoding == "base64" {
		content = base64.StdEncoding.EncodeToString(data)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"content":   content,
		"size":      len(data),
		"timestamp": nowISO(),
	})
}

type filesDeleteRequest struct {
	Path      string `json:"path"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleFilesDelete(w http.ResponseWriter, r *http.Request) {
	var req filesDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	fullPath, err := s.resolvePath(req.SessionID, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := os.RemoveAll(fullPath); err != nil {
		writeError(w, mapOSError(fullPath, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "timestamp": nowISO()})
}

type filesMkdirRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleFilesMkdir(w http.ResponseWriter, r *http.Request) {
	var req filesMkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	fullPath, err := s.resolvePath(req.SessionID, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Recursive {
		err = os.MkdirAll(fullPath, 0o755)
	} else {
		err = os.Mkdir(fullPath, 0o755)
	}
	if err != nil {
		writeError(w, mapOSError(fullPath, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "timestamp": nowISO()})
}

type filesRenameRequest struct {
	Path      string `json:"path"`
	NewPath   string `json:"newPath"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleFilesRename(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r)
}

type filesMoveRequest struct {
	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`
	SessionID  string `json:"sessionId"`
}

func (s *Server) handleFilesMove(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r)
}

// handleMove backs both /api/files/rename and /api/files/move: both
// accept either {path, newPath} or {sourcePath, targetPath} and perform
// the same validated os.Rename.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	source, _ := raw["path"].(string)
	if source == "" {
		source, _ = raw["sourcePath"].(string)
	}
	target, _ := raw["newPath"].(string)
	if target == "" {
		target, _ = raw["targetPath"].(string)
	}
	sessionID, _ := raw["sessionId"].(string)

	sourcePath, err := s.resolvePath(sessionID, source)
	if err != nil {
		writeError(w, err)
		return
	}
	targetPath, err := s.resolvePath(sessionID, target)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := os.Rename(sourcePath, targetPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, &FileNotFoundError{Path: source})
			return
		}
		writeError(w, mapOSError(sourcePath, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "timestamp": nowISO()})
}

func decodeContent(content, encoding string) ([]byte, error) {
	if encoding == "base64" {
		return base64.StdEncoding.DecodeString(content)
	}
	return []byte(content), nil
}

func mapOSError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return &FileNotFoundError{Path: path}
	}
	if errors.Is(err, os.ErrPermission) {
		return &PermissionDeniedError{Path: path}
	}
	return err
}
