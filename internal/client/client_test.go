package client

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/api"
	"github.com/sandboxkit/sandboxkit/internal/controlplane"
	"github.com/sandboxkit/sandboxkit/internal/sandbox"
	"github.com/sandboxkit/sandboxkit/internal/sandbox/mock"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	provider := mock.NewProvider()
	ctx := context.Background()
	sb, err := provider.Create(ctx, "sbx1", sandbox.CreateOptions{ControlPlanePort: 3000})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	root := t.TempDir()
	srv := api.New(api.Config{WorkspaceRoot: root, ControlPlanePort: 3000, AllowedGitHosts: []string{"github.com"}}, zap.NewNop().Sugar())
	if err := provider.SetHandler(sb.ID, srv.Router()); err != nil {
		t.Fatalf("SetHandler: %v", err)
	}
	t.Cleanup(provider.CloseServers)

	cp, err := controlplane.New("sbx1", provider, controlplane.Config{
		Hostname:   "sandboxkit.test",
		SleepAfter: time.Hour,
	}, zap.NewNop().Sugar(), nil)
	if err != nil {
		t.Fatalf("controlplane.New: %v", err)
	}
	return New(cp, []string{"github.com"})
}

func TestExecHooksFire(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	var started, completed []string
	c.Hooks.OnCommandStart = func(command string) { started = append(started, command) }
	c.Hooks.OnCommandComplete = func(command string, exitCode int) { completed = append(completed, command) }

	result, err := c.Commands.Exec(ctx, "echo hi", controlplane.ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if len(started) != 1 || started[0] != "echo hi" {
		t.Errorf("OnCommandStart calls = %v", started)
	}
	if len(completed) != 1 {
		t.Errorf("OnCommandComplete calls = %v", completed)
	}
}

func TestFilesRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	n, err := c.Files.Write(ctx, "/workspace/x.txt", "data")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 4 {
		t.Errorf("n = %d, want 4", n)
	}
	content, err := c.Files.Read(ctx, "/workspace/x.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if content != "data" {
		t.Errorf("content = %q", content)
	}
}

func TestGitCheckoutRejectedLocallyBeforeRPC(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Git.Checkout(ctx, "https://evil.example.com/repo.git", controlplane.GitCheckoutOptions{})
	if err == nil {
		t.Fatal("expected a local allowlist rejection")
	}
}

func TestProcessWaitForLogMatchesLiveOutput(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	proc, err := c.Processes.Start(ctx, "sh -c 'sleep 0.1; echo ready-marker'", controlplane.StartProcessOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	line, err := proc.WaitForLog(ctx, "ready-marker", 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForLog: %v", err)
	}
	if line == "" {
		t.Error("expected a matched line")
	}
}

func TestProcessWaitForLogFailsWhenProcessExitsFirst(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	proc, err := c.Processes.Start(ctx, "echo done", controlplane.StartProcessOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Give the process time to finish before we start waiting, so the
	// historical-log check also misses the never-printed pattern and the
	// live subscription observes the already-recorded exit event.
	time.Sleep(100 * time.Millisecond)

	_, err = proc.WaitForLog(ctx, "never printed", 2*time.Second)
	if err == nil {
		t.Fatal("expected PROCESS_EXITED_BEFORE_READY")
	}
}

func TestProcessWaitForExit(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	proc, err := c.Processes.Start(ctx, "echo hi", controlplane.StartProcessOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	info, err := proc.WaitForExit(ctx, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForExit: %v", err)
	}
	if info.ExitCode == nil {
		t.Fatal("expected a populated exit code")
	}
}

func TestServeComposesStartWaitAndExpose(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	result, err := c.Serve(ctx, "sh -c 'sleep 0.1; echo listening-now; sleep 5'", ServeOptions{
		Port:  port,
		Name:  "web",
		Ready: "listening-now",
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if result.URL == "" {
		t.Error("expected a non-empty preview URL")
	}
	if result.Process == nil {
		t.Error("expected a process handle")
	}
}
