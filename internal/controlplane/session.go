package controlplane

import (
	"context"
	"fmt"
	"math/rand"
)

// ExecutionSession is a caller-side handle that rebinds subsequent
// operations to a specific in-container session id without mutating the
// instance's default session.
type ExecutionSession struct {
	cp *Instance
	id string
}

// ID returns the session id this handle is bound to.
func (s *ExecutionSession) ID() string { return s.id }

// CreateSessionOptions mirrors the client method set's createSession
// input.
type CreateSessionOptions struct {
	ID  string
	Env map[string]string
	Cwd string
}

type createSessionRequest struct {
	ID  string            `json:"id,omitempty"`
	Env map[string]string `json:"env,omitempty"`
	Cwd string            `json:"cwd,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// CreateSession allocates an explicit in-container session and returns a
// handle bound to it, independent of the instance's default session.
func (cp *Instance) CreateSession(ctx context.Context, opts CreateSessionOptions) (*ExecutionSession, error) {
	var resp createSessionResponse
	err := cp.doJSON(ctx, "POST", "/api/sessions", createSessionRequest{ID: opts.ID, Env: opts.Env, Cwd: opts.Cwd}, &resp)
	if err != nil {
		return nil, err
	}
	return &ExecutionSession{cp: cp, id: resp.SessionID}, nil
}

// defaultSession lazily bootstraps the instance's default session,
// named "sandbox-<name>", where name is the one given to SetSandboxName
// or, when none was set, the sandbox id, and returns its id. Bootstrapping is not pre-created at
// construction because container start is itself lazy.
func (cp *Instance) defaultSession(ctx context.Context) (string, error) {
	cp.mu.Lock()
	if cp.defaultSessionID != "" {
		id := cp.defaultSessionID
		cp.mu.Unlock()
		return id, nil
	}
	name := cp.defaultSandboxName()
	if name == "" {
		name = fmt.Sprintf("rand%d", rand.Int63())
	}
	wantID := "sandbox-" + name
	cp.mu.Unlock()

	var resp createSessionResponse
	if err := cp.doJSON(ctx, "POST", "/api/sessions", createSessionRequest{ID: wantID}, &resp); err != nil {
		return "", err
	}

	cp.mu.Lock()
	if cp.defaultSessionID == "" {
		cp.defaultSessionID = resp.SessionID
	}
	id := cp.defaultSessionID
	hostname := cp.hostname
	cp.mu.Unlock()

	if cp.store != nil {
		if err := cp.store.SaveDefaultSession(cp.id, id, hostname); err != nil && cp.log != nil {
			cp.log.Warnw("controlplane: persisting default session failed", "sandbox", cp.id, "error", err)
		}
	}
	return id, nil
}

// SetEnvVars merges env into the default session's environment, as the
// client method set's setEnvVars. The control plane keeps its own copy
// of the default session's accumulated env because the in-container
// registry's Create is a re-create, not a merge.
func (cp *Instance) SetEnvVars(ctx context.Context, env map[string]string) error {
	id, err := cp.defaultSession(ctx)
	if err != nil {
		return err
	}

	cp.mu.Lock()
	if cp.defaultEnv == nil {
		cp.defaultEnv = make(map[string]string, len(env))
	}
	for k, v := range env {
		cp.defaultEnv[k] = v
	}
	merged := make(map[string]string, len(cp.defaultEnv))
	for k, v := range cp.defaultEnv {
		merged[k] = v
	}
	cp.mu.Unlock()

	var resp createSessionResponse
	return cp.doJSON(ctx, "POST", "/api/sessions", createSessionRequest{ID: id, Env: merged}, &resp)
}
