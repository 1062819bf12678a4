package client

import (
	"context"

	"github.com/sandboxkit/sandboxkit/internal/controlplane"
)

// ProcessesClient starts and supervises background processes.
type ProcessesClient struct{ c *Client }

// Start launches command as a background process and returns a handle
// to it, without waiting for completion.
func (pc *ProcessesClient) Start(ctx context.Context, command string, opts controlplane.StartProcessOptions) (*Process, error) {
	info, err := pc.c.cp.StartProcess(ctx, command, opts)
	if err != nil {
		return nil, err
	}
	return &Process{c: pc.c, id: info.ID}, nil
}

// Get returns a handle to an already-running processID.
func (pc *ProcessesClient) Get(processID string) *Process {
	return &Process{c: pc.c, id: processID}
}

// List returns a snapshot of every process in the sandbox.
func (pc *ProcessesClient) List(ctx context.Context) ([]controlplane.ProcessInfo, error) {
	return pc.c.cp.ListProcesses(ctx)
}
