package controlplane

import (
	"strings"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/clienterr"
)

// transientMarkers are substrings of a startup-path error message that
// indicate the caller should retry.
var transientMarkers = []string{
	"container port not found",
	"connection refused: container port",
	"the container is not listening",
	"failed to verify port",
	"container did not start",
	"network connection lost",
	"container suddenly disconnected",
	"monitor failed to find container",
	"timed out",
	"timeout",
	"the operation was aborted",
}

// noInstanceMarkers indicate the sandbox has no backing container yet
// (still provisioning).
var noInstanceMarkers = []string{
	"no container instance",
}

// classifyStartupError maps a raw startup-path error to a 503-retryable
// error (transient: Retry-After 3s; no-instance: Retry-After 10s) or
// leaves permanent failures (missing image, already-exists, permission
// denied, unknown) as plain errors that surface as 500 with no retry.
func classifyStartupError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	for _, m := range noInstanceMarkers {
		if strings.Contains(msg, m) {
			return &clienterr.RetryableError{Err: err, RetryAfter: 10 * time.Second}
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return &clienterr.RetryableError{Err: err, RetryAfter: 3 * time.Second}
		}
	}
	return clienterr.FromCode(clienterr.InternalError, err.Error())
}

// decodeTypedError turns the container envelope's "code" + "error"
// fields into the matching *clienterr.Error.
func decodeTypedError(code, message string) *clienterr.Error {
	return &clienterr.Error{Code: clienterr.Code(code), Message: message}
}
