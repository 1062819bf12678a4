// Package session implements the in-container session registry: a
// process-local map from session id to its working directory and
// inherited environment, used by every other in-container operation to
// resolve relative paths and environment variables.
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DefaultCwd is the root every session starts in when none is given.
const DefaultCwd = "/workspace"

// NotFoundError reports that a session id is not registered.
type NotFoundError struct{ ID string }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("SESSION_NOT_FOUND: session %q not found", e.ID)
}

// Session is an immutable snapshot of a registered session's state.
type Session struct {
	ID  string
	Cwd string
	Env map[string]string
}

// Options configures session creation. A zero value creates a session
// rooted at DefaultCwd with no extra environment.
type Options struct {
	ID  string
	Cwd string
	Env map[string]string
}

// Registry is the in-container, in-memory session map. The zero value is
// not usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New returns an empty session registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create allocates a session, returning its canonical id. If opts.ID is
// empty a random id is minted. Creating with an id that already exists
// overwrites that session's cwd/env (re-create semantics, matching "created
// explicitly or implicitly on first use").
func (r *Registry) Create(opts Options) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = DefaultCwd
	}
	env := make(map[string]string, len(opts.Env))
	for k, v := range opts.Env {
		env[k] = v
	}

	s := &Session{ID: id, Cwd: cwd, Env: env}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	return s
}

// Get returns a snapshot of the session registered under id, or
// *NotFoundError if none exists.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	cpy := *s
	cpy.Env = make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		cpy.Env[k] = v
	}
	return &cpy, nil
}

// GetOrDefault returns the session for id, creating it with default
// options if it does not yet exist. Used by handlers that accept an
// implicit session.
func (r *Registry) GetOrDefault(id string) *Session {
	if s, err := r.Get(id); err == nil {
		return s
	}
	return r.Create(Options{ID: id})
}

// Delete removes a session from the registry. It does not affect any
// processes that session spawned; those remain sandbox-scoped per the
// "killing a session detaches but does not kill processes" invariant.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// ResolvePath joins a possibly-relative path against the session's cwd.
// Callers must still run the result through security.ValidatePath.
func (s *Session) ResolvePath(p string) string {
	if p == "" {
		return s.Cwd
	}
	if p[0] == '/' {
		return p
	}
	return s.Cwd + "/" + p
}

// MergeEnv composes the session's environment with caller-supplied
// overrides, caller values winning ties, per "env = session.env ⊕
// caller.env".
func (s *Session) MergeEnv(caller map[string]string) map[string]string {
	merged := make(map[string]string, len(s.Env)+len(caller))
	for k, v := range s.Env {
		merged[k] = v
	}
	for k, v := range caller {
		merged[k] = v
	}
	return merged
}
