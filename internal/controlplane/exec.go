package controlplane

import "context"

type executeRequest struct {
	Command   string `json:"command"`
	SessionID string `json:"sessionId"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// Exec runs command to completion in the default (or given) session and
// returns its result in one shot.
func (cp *Instance) Exec(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error) {
	sessionID := opts.SessionID
	if sessionID == "" {
		id, err := cp.defaultSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	var result ExecResult
	err := cp.doJSON(ctx, "POST", "/api/execute", executeRequest{
		Command: command, SessionID: sessionID, TimeoutMs: opts.TimeoutMs,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecStream runs command, delivering ExecEvents to fn until a complete
// or error event ends the sequence, or ctx is canceled.
func (cp *Instance) ExecStream(ctx context.Context, command string, opts ExecOptions, fn func(ExecEvent) error) error {
	sessionID := opts.SessionID
	if sessionID == "" {
		id, err := cp.defaultSession(ctx)
		if err != nil {
			return err
		}
		sessionID = id
	}

	w, err := cp.doStream(ctx, "POST", "/api/execute/stream", executeRequest{Command: command, SessionID: sessionID})
	if err != nil {
		return err
	}
	defer w.close()

	for {
		var ev ExecEvent
		if err := w.next(&ev); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Type == "complete" || ev.Type == "error" {
			return nil
		}
	}
}
