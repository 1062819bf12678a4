package mock

import (
	"context"
	"testing"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/sandbox"
)

func TestCreateStartStopRemove(t *testing.T) {
	p := NewProvider()
	ctx := context.Background()

	s, err := p.Create(ctx, "sbx-1", sandbox.CreateOptions{SharedSecret: "s3cr3t", ControlPlanePort: 3000})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Status != sandbox.StatusCreated {
		t.Fatalf("status = %q", s.Status)
	}

	if _, err := p.Create(ctx, "sbx-1", sandbox.CreateOptions{}); err != sandbox.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if err := p.Start(ctx, "sbx-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, _ := p.Get(ctx, "sbx-1")
	if got.Status != sandbox.StatusRunning {
		t.Fatalf("status = %q, want running", got.Status)
	}

	if err := p.Stop(ctx, "sbx-1", time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Remove(ctx, "sbx-1", sandbox.RemoveOptions{}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := p.Get(ctx, "sbx-1"); err != sandbox.ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestGetSecret(t *testing.T) {
	p := NewProvider()
	ctx := context.Background()
	p.Create(ctx, "sbx-1", sandbox.CreateOptions{SharedSecret: "topsecret"})

	secret, err := p.GetSecret(ctx, "sbx-1")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if secret != "topsecret" {
		t.Errorf("secret = %q", secret)
	}
}

func TestRemoveRunningRequiresForce(t *testing.T) {
	p := NewProvider()
	ctx := context.Background()
	p.Create(ctx, "sbx-1", sandbox.CreateOptions{})
	p.Start(ctx, "sbx-1")

	if err := p.Remove(ctx, "sbx-1", sandbox.RemoveOptions{}); err != sandbox.ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := p.Remove(ctx, "sbx-1", sandbox.RemoveOptions{Force: true}); err != nil {
		t.Fatalf("force remove: %v", err)
	}
}

func TestWatchReceivesStateTransitions(t *testing.T) {
	p := NewProvider()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Create(ctx, "sbx-1", sandbox.CreateOptions{})

	events, err := p.Watch(ctx, "sbx-1")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := p.Start(ctx, "sbx-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Status != sandbox.StatusRunning {
			t.Errorf("status = %q, want running", ev.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state event")
	}
}

func TestAttachRequiresRunning(t *testing.T) {
	p := NewProvider()
	ctx := context.Background()
	p.Create(ctx, "sbx-1", sandbox.CreateOptions{})

	if _, err := p.Attach(ctx, "sbx-1", sandbox.AttachOptions{}); err != sandbox.ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	p.Start(ctx, "sbx-1")
	pty, err := p.Attach(ctx, "sbx-1", sandbox.AttachOptions{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer pty.Close()

	if _, err := pty.Write([]byte("echo hi\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
}
