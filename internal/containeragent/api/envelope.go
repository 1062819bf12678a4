package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/portreg"
	"github.com/sandboxkit/sandboxkit/internal/containeragent/process"
	"github.com/sandboxkit/sandboxkit/internal/containeragent/session"
	"github.com/sandboxkit/sandboxkit/internal/security"
)

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the shared {success:false, error, code, timestamp}
// envelope, choosing an HTTP status from err's concrete type per the
// status-mapping table.
func writeError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	envelope := map[string]any{
		"success":   false,
		"error":     err.Error(),
		"code":      code,
		"timestamp": nowISO(),
	}
	writeJSON(w, status, envelope)
}

// classifyError maps an internal error to an HTTP status and a stable
// client-facing code, per the closed error hierarchy.
func classifyError(err error) (status int, code string) {
	switch err.(type) {
	case *session.NotFoundError:
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case *process.NotFoundError:
		return http.StatusNotFound, "PROCESS_NOT_FOUND"
	case *portreg.InvalidPortError:
		return http.StatusBadRequest, "INVALID_PORT"
	case *portreg.AlreadyExposedError:
		return http.StatusConflict, "PORT_ALREADY_EXPOSED"
	case *portreg.NotExposedError:
		return http.StatusNotFound, "PORT_NOT_EXPOSED"
	case *security.InvalidIDError:
		return http.StatusBadRequest, "INVALID_ID"
	case *FileNotFoundError:
		return http.StatusNotFound, "FILE_NOT_FOUND"
	case *PathValidationError:
		return http.StatusBadRequest, "PATH_VALIDATION_FAILED"
	case *PermissionDeniedError:
		return http.StatusForbidden, "PERMISSION_DENIED"
	case *InvalidGitURLError:
		return http.StatusBadRequest, "INVALID_GIT_URL"
	case *GitAuthenticationFailedError:
		return http.StatusUnauthorized, "GIT_AUTHENTICATION_FAILED"
	case *GitBranchNotFoundError:
		return http.StatusNotFound, "GIT_BRANCH_NOT_FOUND"
	case *GitRepositoryNotFoundError:
		return http.StatusNotFound, "GIT_REPOSITORY_NOT_FOUND"
	case *GitNetworkError:
		return http.StatusInternalServerError, "GIT_NETWORK_ERROR"
	case *GitOperationFailedError:
		return http.StatusInternalServerError, "GIT_OPERATION_FAILED"
	case *GitCheckoutFailedError:
		return http.StatusInternalServerError, "GIT_CHECKOUT_FAILED"
	case *GitCloneFailedError:
		return http.StatusInternalServerError, "GIT_CLONE_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
