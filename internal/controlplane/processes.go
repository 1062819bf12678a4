package controlplane

import (
	"context"
	"fmt"
	"net/url"
)

type startProcessRequest struct {
	Command   string            `json:"command"`
	SessionID string            `json:"sessionId"`
	ProcessID string            `json:"processId,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
}

type startProcessResponse struct {
	ProcessID string `json:"processId"`
	Pid       int    `json:"pid"`
	Command   string `json:"command"`
}

// StartProcess launches command as a background process and returns its
// id immediately, without waiting for completion.
func (cp *Instance) StartProcess(ctx context.Context, command string, opts StartProcessOptions) (*ProcessInfo, error) {
	sessionID := opts.SessionID
	if sessionID == "" {
		id, err := cp.defaultSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	var resp startProcessResponse
	err := cp.doJSON(ctx, "POST", "/api/processes/start", startProcessRequest{
		Command: command, SessionID: sessionID, ProcessID: opts.ProcessID, Env: opts.Env, Cwd: opts.Cwd,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return cp.GetProcess(ctx, resp.ProcessID)
}

type listProcessesResponse struct {
	Processes []ProcessInfo `json:"processes"`
}

// ListProcesses returns a snapshot of every process in the sandbox.
func (cp *Instance) ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	var resp listProcessesResponse
	if err := cp.doJSON(ctx, "GET", "/api/processes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Processes, nil
}

// GetProcess returns one process's current record.
func (cp *Instance) GetProcess(ctx context.Context, processID string) (*ProcessInfo, error) {
	var info ProcessInfo
	if err := cp.doJSON(ctx, "GET", "/api/process/"+url.PathEscape(processID), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// KillProcess terminates processID; idempotent once it has already
// reached a terminal state.
func (cp *Instance) KillProcess(ctx context.Context, processID string) error {
	return cp.doJSON(ctx, "DELETE", "/api/process/"+url.PathEscape(processID), nil, nil)
}

type processLogsResponse struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// GetProcessLogs returns processID's current stdout/stderr buffers.
func (cp *Instance) GetProcessLogs(ctx context.Context, processID string) (stdout, stderr string, err error) {
	var resp processLogsResponse
	if err := cp.doJSON(ctx, "GET", "/api/process/"+url.PathEscape(processID)+"/logs", nil, &resp); err != nil {
		return "", "", err
	}
	return resp.Stdout, resp.Stderr, nil
}

// StreamProcessLogs replays historical buffer contents and then live
// output for processID, delivering each LogEvent to fn until a single
// terminal "exit" event ends the sequence or ctx is canceled.
func (cp *Instance) StreamProcessLogs(ctx context.Context, processID string, fn func(LogEvent) error) error {
	w, err := cp.doStream(ctx, "GET", fmt.Sprintf("/api/process/%s/logs/stream", url.PathEscape(processID)), nil)
	if err != nil {
		return err
	}
	defer w.close()

	for {
		var ev LogEvent
		if err := w.next(&ev); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Type == "exit" {
			return nil
		}
	}
}
