// Package client implements the caller-facing API workers use to drive
// one sandbox: domain clients for commands, files, processes, ports,
// and git, process handles with wait helpers, and serve() composing
// process start, readiness, and port exposure into one call. Failures
// the in-container service reports, and container startup failures,
// come back as a *clienterr.Error (or a *clienterr.RetryableError for a
// 503 startup condition); other failures, such as a broken tunnel
// handshake or a failed hijack in Connect, are returned as plain wrapped
// errors. No operation retries silently.
package client

import (
	"context"
	"net/http"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/controlplane"
	"github.com/sandboxkit/sandboxkit/internal/security"
)

// Hooks are optional callbacks a caller may set to observe command
// activity without altering control flow.
type Hooks struct {
	OnCommandStart    func(command string)
	OnCommandComplete func(command string, exitCode int)
	OnOutput          func(stream, data string)
	OnError           func(err error)
}

// Client is the caller-facing handle for one sandbox, wrapping a
// *controlplane.Instance with domain sub-clients.
type Client struct {
	cp *controlplane.Instance

	allowedGitHosts []string

	Hooks Hooks

	Commands  *CommandsClient
	Files     *FilesClient
	Processes *ProcessesClient
	Ports     *PortsClient
	Git       *GitClient
}

// New wraps cp in a Client. allowedGitHosts mirrors the container's own
// allowlist so gitCheckout fails fast, locally, before an RPC.
func New(cp *controlplane.Instance, allowedGitHosts []string) *Client {
	c := &Client{cp: cp, allowedGitHosts: allowedGitHosts}
	c.Commands = &CommandsClient{c: c}
	c.Files = &FilesClient{c: c}
	c.Processes = &ProcessesClient{c: c}
	c.Ports = &PortsClient{c: c}
	c.Git = &GitClient{c: c}
	return c
}

// Ping starts the container if needed and verifies it answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.cp.Ping(ctx)
}

// SetSandboxName rebinds the name used to derive the default session id
// on next bootstrap.
func (c *Client) SetSandboxName(name string) {
	c.cp.SetSandboxName(name)
}

// SetBaseURL overrides the outward hostname used for preview URLs.
func (c *Client) SetBaseURL(rawURL string) {
	c.cp.SetBaseURL(rawURL)
}

// SetSleepAfter changes the idle timeout before the container is put to
// sleep.
func (c *Client) SetSleepAfter(d time.Duration) {
	c.cp.SetSleepAfter(d)
}

// SetKeepAlive suppresses (or re-enables) the idle-sleep timer.
func (c *Client) SetKeepAlive(keep bool) {
	c.cp.SetKeepAlive(keep)
}

// SetEnvVars merges env into the default session's environment.
func (c *Client) SetEnvVars(ctx context.Context, env map[string]string) error {
	return c.cp.SetEnvVars(ctx, env)
}

// CreateSession allocates an explicit in-container session, independent
// of the default session subsequent calls fall back to.
func (c *Client) CreateSession(ctx context.Context, opts controlplane.CreateSessionOptions) (*controlplane.ExecutionSession, error) {
	return c.cp.CreateSession(ctx, opts)
}

// Connect validates portOrPath and tunnels w/r's hijacked connection
// through to that port inside the container, preserving path and query.
func (c *Client) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request, portOrPath string, opts controlplane.ConnectOptions) error {
	return c.cp.Connect(ctx, w, r, portOrPath, opts)
}

// ValidateGitURLLocally runs the same allowlist check the container
// re-runs server-side, letting callers fail fast without an RPC.
func (c *Client) ValidateGitURLLocally(repoURL string) security.GitURLValidation {
	return security.ValidateGitURL(repoURL, c.allowedGitHosts)
}
