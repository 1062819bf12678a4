package client

import (
	"context"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/controlplane"
)

// ServeOptions configures Client.Serve.
type ServeOptions struct {
	Port         int
	Name         string
	Ready        string // log pattern; when set, waited for before exposing the port
	ReadyTimeout time.Duration
	Env          map[string]string
	Cwd          string
}

// ServeResult is the outcome of Client.Serve.
type ServeResult struct {
	Process *Process
	URL     string
}

// Serve starts command as a background process, waits for it to become
// ready (a log pattern match when opts.Ready is set, and always for
// opts.Port to accept connections), then exposes opts.Port and returns
// the process handle alongside its preview URL.
func (c *Client) Serve(ctx context.Context, command string, opts ServeOptions) (*ServeResult, error) {
	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	proc, err := c.Processes.Start(ctx, command, controlplane.StartProcessOptions{Env: opts.Env, Cwd: opts.Cwd})
	if err != nil {
		return nil, err
	}

	if opts.Ready != "" {
		if _, err := proc.WaitForLog(ctx, opts.Ready, timeout); err != nil {
			return nil, err
		}
	}
	if err := proc.WaitForPort(ctx, opts.Port, timeout, WaitForPortOptions{}); err != nil {
		return nil, err
	}

	exposed, err := c.Ports.Expose(ctx, opts.Port, opts.Name)
	if err != nil {
		return nil, err
	}

	return &ServeResult{Process: proc, URL: exposed.URL}, nil
}
