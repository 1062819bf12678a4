package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sandboxkit/sandboxkit/internal/security"
)

// InvalidGitURLError reports that a checkout URL failed validateGitUrl.
type InvalidGitURLError struct{ Reasons []string }

func (e *InvalidGitURLError) Error() string {
	return fmt.Sprintf("INVALID_GIT_URL: %s", strings.Join(e.Reasons, "; "))
}

// GitCloneFailedError reports that `git clone` exited non-zero for a
// reason that didn't match any of the more specific git error patterns.
type GitCloneFailedError struct {
	Stderr   string
	ExitCode int
}

func (e *GitCloneFailedError) Error() string {
	return fmt.Sprintf("GIT_CLONE_FAILED: exit %d: %s", e.ExitCode, strings.TrimSpace(e.Stderr))
}

// GitAuthenticationFailedError reports that git rejected the credentials
// (or lack thereof) presented for the remote.
type GitAuthenticationFailedError struct{ Stderr string }

func (e *GitAuthenticationFailedError) Error() string {
	return fmt.Sprintf("GIT_AUTHENTICATION_FAILED: %s", strings.TrimSpace(e.Stderr))
}

// GitRepositoryNotFoundError reports that the remote repository itself
// doesn't exist or isn't reachable with the given credentials.
type GitRepositoryNotFoundError struct{ Stderr string }

func (e *GitRepositoryNotFoundError) Error() string {
	return fmt.Sprintf("GIT_REPOSITORY_NOT_FOUND: %s", strings.TrimSpace(e.Stderr))
}

// GitBranchNotFoundError reports that the requested branch doesn't
// exist on the remote.
type GitBranchNotFoundError struct{ Stderr string }

func (e *GitBranchNotFoundError) Error() string {
	return fmt.Sprintf("GIT_BRANCH_NOT_FOUND: %s", strings.TrimSpace(e.Stderr))
}

// GitNetworkError reports that git couldn't reach the remote at all
// (DNS failure, connection refused, connection reset).
type GitNetworkError struct{ Stderr string }

func (e *GitNetworkError) Error() string {
	return fmt.Sprintf("GIT_NETWORK_ERROR: %s", strings.TrimSpace(e.Stderr))
}

// GitOperationFailedError reports that the git binary itself couldn't
// be invoked (not found, not executable).
type GitOperationFailedError struct{ Reason string }

func (e *GitOperationFailedError) Error() string {
	return fmt.Sprintf("GIT_OPERATION_FAILED: %s", e.Reason)
}

// GitCheckoutFailedError reports that the checkout was aborted before
// git could finish, typically because the request's context was
// canceled or timed out mid-clone.
type GitCheckoutFailedError struct{ Reason, Stderr string }

func (e *GitCheckoutFailedError) Error() string {
	return fmt.Sprintf("GIT_CHECKOUT_FAILED: %s: %s", e.Reason, strings.TrimSpace(e.Stderr))
}

// gitAuthMarkers, gitRepoMarkers, gitBranchMarkers and gitNetworkMarkers
// are lowercased stderr substrings git prints for each failure class,
// checked in the order a single clone failure is most likely to match.
var (
	gitAuthMarkers = []string{
		"authentication failed",
		"could not read username",
		"could not read password",
		"permission denied (publickey)",
		"invalid username or password",
	}
	gitBranchMarkers = []string{
		"remote branch",
		"not found in upstream",
		"couldn't find remote ref",
	}
	gitRepoMarkers = []string{
		"repository not found",
		"could not read from remote repository",
		"does not appear to be a git repository",
	}
	gitNetworkMarkers = []string{
		"could not resolve host",
		"could not connect to server",
		"connection refused",
		"connection reset",
		"connection timed out",
		"network is unreachable",
		"ssl connect error",
	}
)

// classifyGitError maps a failed `git clone` invocation to the closed
// git error hierarchy by inspecting its stderr, exit status and the
// request context, the way classifyStartupError classifies container
// startup failures from their error text.
func classifyGitError(ctx context.Context, err error, output []byte) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return &GitCheckoutFailedError{Reason: ctx.Err().Error(), Stderr: string(output)}
	}

	exitErr, isExitError := err.(*exec.ExitError)
	if !isExitError {
		return &GitOperationFailedError{Reason: err.Error()}
	}

	stderr := string(output)
	lower := strings.ToLower(stderr)
	switch {
	case containsAnyMarker(lower, gitAuthMarkers):
		return &GitAuthenticationFailedError{Stderr: stderr}
	case containsAnyMarker(lower, gitBranchMarkers):
		return &GitBranchNotFoundError{Stderr: stderr}
	case containsAnyMarker(lower, gitRepoMarkers):
		return &GitRepositoryNotFoundError{Stderr: stderr}
	case containsAnyMarker(lower, gitNetworkMarkers):
		return &GitNetworkError{Stderr: stderr}
	default:
		return &GitCloneFailedError{Stderr: stderr, ExitCode: exitErr.ExitCode()}
	}
}

func containsAnyMarker(haystack string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return true
		}
	}
	return false
}

type gitCheckoutRequest struct {
	RepoURL   string `json:"repoUrl"`
	Branch    string `json:"branch,omitempty"`
	TargetDir string `json:"targetDir,omitempty"`
	Depth     int    `json:"depth,omitempty"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleGitCheckout(w http.ResponseWriter, r *http.Request) {
	var req gitCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body", "timestamp": nowISO()})
		return
	}

	validation := security.ValidateGitURL(req.RepoURL, s.cfg.AllowedGitHosts)
	if !validation.OK {
		writeError(w, &InvalidGitURLError{Reasons: validation.Errors})
		return
	}

	targetDir := req.TargetDir
	if targetDir == "" {
		targetDir = "/workspace/" + repoNameFromURL(req.RepoURL)
	}
	fullTarget, err := s.resolvePath(req.SessionID, targetDir)
	if err != nil {
		writeError(w, err)
		return
	}

	args := []string{"clone"}
	if req.Branch != "" {
		args = append(args, "--branch", req.Branch)
	}
	if req.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(req.Depth))
	}
	args = append(args, req.RepoURL, fullTarget)

	cmd := exec.CommandContext(r.Context(), "git", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		writeError(w, classifyGitError(r.Context(), err, output))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"output":    string(output),
		"exitCode":  0,
		"targetDir": targetDir,
		"timestamp": nowISO(),
	})
}

func repoNameFromURL(rawURL string) string {
	trimmed := strings.TrimSuffix(rawURL, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}
