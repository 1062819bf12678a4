package client

import (
	"context"

	"github.com/sandboxkit/sandboxkit/internal/controlplane"
)

// CommandsClient runs commands to completion or as a live stream.
type CommandsClient struct{ c *Client }

// Exec runs command to completion in the default (or given) session.
func (cc *CommandsClient) Exec(ctx context.Context, command string, opts controlplane.ExecOptions) (*controlplane.ExecResult, error) {
	hooks := cc.c.Hooks
	if hooks.OnCommandStart != nil {
		hooks.OnCommandStart(command)
	}
	result, err := cc.c.cp.Exec(ctx, command, opts)
	if err != nil {
		if hooks.OnError != nil {
			hooks.OnError(err)
		}
		return nil, err
	}
	if hooks.OnCommandComplete != nil {
		hooks.OnCommandComplete(command, result.ExitCode)
	}
	return result, nil
}

// ExecStream runs command, delivering ExecEvents to fn until completion
// and invoking the client's OnOutput/OnCommandComplete hooks alongside.
func (cc *CommandsClient) ExecStream(ctx context.Context, command string, opts controlplane.ExecOptions, fn func(controlplane.ExecEvent) error) error {
	hooks := cc.c.Hooks
	if hooks.OnCommandStart != nil {
		hooks.OnCommandStart(command)
	}
	err := cc.c.cp.ExecStream(ctx, command, opts, func(ev controlplane.ExecEvent) error {
		switch ev.Type {
		case "stdout", "stderr":
			if hooks.OnOutput != nil {
				hooks.OnOutput(ev.Type, ev.Data)
			}
		case "complete":
			if hooks.OnCommandComplete != nil {
				hooks.OnCommandComplete(command, ev.ExitCode)
			}
		case "error":
			if hooks.OnError != nil {
				hooks.OnError(&streamError{command: command, message: ev.Error})
			}
		}
		return fn(ev)
	})
	if err != nil && hooks.OnError != nil {
		hooks.OnError(err)
	}
	return err
}

type streamError struct {
	command string
	message string
}

func (e *streamError) Error() string {
	return "command " + e.command + ": " + e.message
}
