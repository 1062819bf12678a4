package client

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/clienterr"
	"github.com/sandboxkit/sandboxkit/internal/controlplane"
)

// Process is a caller-side handle to one background process, offering
// client-side readiness waiters layered over the log/process RPCs.
type Process struct {
	c  *Client
	id string
}

// ID returns the process id this handle is bound to.
func (p *Process) ID() string { return p.id }

// Info returns the process's current record.
func (p *Process) Info(ctx context.Context) (*controlplane.ProcessInfo, error) {
	return p.c.cp.GetProcess(ctx, p.id)
}

// Kill terminates the process; idempotent once it has already reached a
// terminal state.
func (p *Process) Kill(ctx context.Context) error {
	return p.c.cp.KillProcess(ctx, p.id)
}

// Logs returns the process's current stdout/stderr buffers.
func (p *Process) Logs(ctx context.Context) (stdout, stderr string, err error) {
	return p.c.cp.GetProcessLogs(ctx, p.id)
}

func matcher(pattern string) func(string) bool {
	if re, err := regexp.Compile(pattern); err == nil {
		return re.MatchString
	}
	return func(s string) bool { return strings.Contains(s, pattern) }
}

// WaitForLog reads historical logs, then subscribes to the live log
// stream, returning the first line matching pattern (a regex, or a
// plain substring if pattern does not compile as one). If the process
// exits before a match is found, fails with PROCESS_EXITED_BEFORE_READY
// carrying the exit code and logs captured so far; on timeout, fails
// with PROCESS_READY_TIMEOUT.
func (p *Process) WaitForLog(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	match := matcher(pattern)

	stdout, stderr, err := p.c.cp.GetProcessLogs(ctx, p.id)
	if err != nil {
		return "", err
	}
	captured := stdout + stderr
	for _, line := range strings.Split(captured, "\n") {
		if match(line) {
			return line, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		line string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		err := p.c.cp.StreamProcessLogs(ctx, p.id, func(ev controlplane.LogEvent) error {
			if ev.Type == "exit" {
				done <- outcome{err: &clienterr.Error{
					Code: clienterr.ProcessExitedBeforeReady, ProcessID: p.id,
					ExitCode: &ev.ExitCode, Logs: captured,
				}}
				return errStopStream
			}
			captured += ev.Data
			if match(ev.Data) {
				done <- outcome{line: ev.Data}
				return errStopStream
			}
			return nil
		})
		if err != nil && err != errStopStream {
			select {
			case done <- outcome{err: err}:
			default:
			}
		}
	}()

	select {
	case o := <-done:
		return o.line, o.err
	case <-ctx.Done():
		return "", &clienterr.Error{Code: clienterr.ProcessReadyTimeout, ProcessID: p.id, Condition: "log pattern " + pattern}
	}
}

// errStopStream is returned by a StreamProcessLogs callback to end
// iteration early without surfacing as a caller-visible error.
var errStopStream = &stopStreamError{}

type stopStreamError struct{}

func (e *stopStreamError) Error() string { return "client: stream stopped by waiter" }

// WaitForPortOptions configures WaitForPort.
type WaitForPortOptions struct {
	Mode      string
	Path      string
	StatusMin int
	StatusMax int
	Interval  time.Duration
}

// WaitForPort polls checkReady for port until it reports ready, the
// process exits (PROCESS_EXITED_BEFORE_READY), or timeout elapses
// (PROCESS_READY_TIMEOUT).
func (p *Process) WaitForPort(ctx context.Context, port int, timeout time.Duration, opts WaitForPortOptions) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := p.c.cp.CheckPortReady(ctx, port, controlplane.CheckReadyOptions{
			Mode: opts.Mode, Path: opts.Path, StatusMin: opts.StatusMin, StatusMax: opts.StatusMax,
		})
		if err == nil && result.Ready {
			return nil
		}

		info, infoErr := p.c.cp.GetProcess(ctx, p.id)
		if infoErr == nil && processTerminal(info.Status) {
			stdout, stderr, _ := p.c.cp.GetProcessLogs(ctx, p.id)
			return &clienterr.Error{
				Code: clienterr.ProcessExitedBeforeReady, ProcessID: p.id,
				ExitCode: info.ExitCode, Logs: stdout + stderr,
			}
		}

		select {
		case <-ctx.Done():
			return &clienterr.Error{Code: clienterr.ProcessReadyTimeout, ProcessID: p.id, Port: port}
		case <-ticker.C:
		}
	}
}

// WaitForExit blocks until the process reaches a terminal state,
// returning its final record, or fails with PROCESS_READY_TIMEOUT if
// timeout elapses first.
func (p *Process) WaitForExit(ctx context.Context, timeout time.Duration) (*controlplane.ProcessInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{}, 1)
	go func() {
		_ = p.c.cp.StreamProcessLogs(ctx, p.id, func(ev controlplane.LogEvent) error {
			if ev.Type == "exit" {
				select {
				case done <- struct{}{}:
				default:
				}
				return errStopStream
			}
			return nil
		})
	}()

	select {
	case <-done:
		return p.c.cp.GetProcess(ctx, p.id)
	case <-ctx.Done():
		return nil, &clienterr.Error{Code: clienterr.ProcessReadyTimeout, ProcessID: p.id, Condition: "exit"}
	}
}

func processTerminal(status string) bool {
	switch status {
	case "completed", "failed", "killed":
		return true
	}
	return false
}
