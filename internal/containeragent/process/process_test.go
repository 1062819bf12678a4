package process

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/session"
)

func newSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	return New(session.New())
}

func TestStartRunsToCompletion(t *testing.T) {
	s := newSupervisor(t)
	ctx := context.Background()

	rec, err := s.Start(ctx, StartOptions{Command: "echo hello", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.State != StateRunning && rec.State != StateCompleted {
		t.Fatalf("unexpected initial state %q", rec.State)
	}
	if rec.Pid == 0 {
		t.Error("expected a pid once running")
	}

	waitTerminal(t, s, rec.ProcessID)

	final, err := s.Get(rec.ProcessID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.State != StateCompleted {
		t.Fatalf("state = %q, want completed", final.State)
	}
	if final.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", final.ExitCode)
	}

	stdout, _, err := s.Logs(rec.ProcessID)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if !strings.Contains(string(stdout), "hello") {
		t.Errorf("stdout = %q, want it to contain hello", stdout)
	}
}

func TestStartNonZeroExitIsFailed(t *testing.T) {
	s := newSupervisor(t)
	rec, err := s.Start(context.Background(), StartOptions{Command: "exit 3", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitTerminal(t, s, rec.ProcessID)

	final, _ := s.Get(rec.ProcessID)
	if final.State != StateFailed {
		t.Fatalf("state = %q, want failed", final.State)
	}
	if final.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", final.ExitCode)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newSupervisor(t)
	if _, err := s.Get("missing"); err == nil {
		t.Fatal("expected error")
	} else if _, ok := err.(*NotFoundError); !ok {
		t.Errorf("got %T, want *NotFoundError", err)
	}
}

func TestKillTerminatesLongRunningProcess(t *testing.T) {
	s := newSupervisor(t)
	rec, err := s.Start(context.Background(), StartOptions{Command: "sleep 30", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Kill(rec.ProcessID, 200*time.Millisecond); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	final, _ := s.Get(rec.ProcessID)
	if final.State != StateKilled {
		t.Fatalf("state = %q, want killed", final.State)
	}
}

func TestKillIsIdempotentAfterTerminal(t *testing.T) {
	s := newSupervisor(t)
	rec, _ := s.Start(context.Background(), StartOptions{Command: "true", SessionID: "s1"})
	waitTerminal(t, s, rec.ProcessID)

	if err := s.Kill(rec.ProcessID, time.Second); err != nil {
		t.Fatalf("Kill on terminal process: %v", err)
	}
	final, _ := s.Get(rec.ProcessID)
	if final.State != StateCompleted {
		t.Errorf("Kill on a completed process changed its state to %q", final.State)
	}
}

func TestListReturnsAllSessions(t *testing.T) {
	s := newSupervisor(t)
	r1, _ := s.Start(context.Background(), StartOptions{Command: "true", SessionID: "s1"})
	r2, _ := s.Start(context.Background(), StartOptions{Command: "true", SessionID: "s2"})
	waitTerminal(t, s, r1.ProcessID)
	waitTerminal(t, s, r2.ProcessID)

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(list))
	}
}

func TestStreamReplaysHistoryThenExitForFinishedProcess(t *testing.T) {
	s := newSupervisor(t)
	rec, _ := s.Start(context.Background(), StartOptions{Command: "echo late", SessionID: "s1"})
	waitTerminal(t, s, rec.ProcessID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := s.Stream(ctx, rec.ProcessID)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var sawStdout, sawExit bool
	for ev := range events {
		switch ev.Stream {
		case "stdout":
			sawStdout = strings.Contains(string(ev.Data), "late")
		case "exit":
			sawExit = true
		}
	}
	if !sawStdout {
		t.Error("expected replayed stdout event")
	}
	if !sawExit {
		t.Error("expected a terminal exit event even for an already-finished process")
	}
}

func TestStreamDeliversLiveOutputThenExit(t *testing.T) {
	s := newSupervisor(t)
	rec, _ := s.Start(context.Background(), StartOptions{Command: "echo one; sleep 0.05; echo two", SessionID: "s1"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events, err := s.Stream(ctx, rec.ProcessID)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var lines []string
	var sawExit bool
	for ev := range events {
		if ev.Stream == "exit" {
			sawExit = true
			continue
		}
		lines = append(lines, string(ev.Data))
	}

	if !sawExit {
		t.Fatal("expected exit event")
	}
	joined := strings.Join(lines, "")
	if !strings.Contains(joined, "one") || !strings.Contains(joined, "two") {
		t.Errorf("stream output = %q, want both lines", joined)
	}
}

func waitTerminal(t *testing.T, s *Supervisor, processID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := s.Get(processID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.State == StateCompleted || rec.State == StateFailed || rec.State == StateKilled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process %s did not reach a terminal state in time", processID)
}
