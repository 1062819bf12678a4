package controlplane

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/api"
	"github.com/sandboxkit/sandboxkit/internal/sandbox"
	"github.com/sandboxkit/sandboxkit/internal/sandbox/mock"
	"github.com/sandboxkit/sandboxkit/internal/store"
)

// newTestInstance wires an Instance to a mock.Provider whose sandbox is
// backed by a real in-process containeragent/api.Server, so exercising
// the Instance drives actual HTTP+SSE handling rather than canned mock
// responses.
func newTestInstance(t *testing.T) (*Instance, *mock.Provider) {
	t.Helper()

	provider := mock.NewProvider()
	ctx := context.Background()
	sb, err := provider.Create(ctx, "sbx1", sandbox.CreateOptions{ControlPlanePort: 3000})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	root := t.TempDir()
	srv := api.New(api.Config{WorkspaceRoot: root, ControlPlanePort: 3000}, zap.NewNop().Sugar())
	if err := provider.SetHandler(sb.ID, srv.Router()); err != nil {
		t.Fatalf("SetHandler: %v", err)
	}
	t.Cleanup(provider.CloseServers)

	cp, err := New("sbx1", provider, Config{
		Hostname:   "sandboxkit.test",
		SleepAfter: time.Hour,
	}, zap.NewNop().Sugar(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cp, provider
}

func TestPingStartsContainerLazily(t *testing.T) {
	cp, provider := newTestInstance(t)
	ctx := context.Background()

	if err := cp.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	sb, err := provider.Get(ctx, cp.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sb.Status != sandbox.StatusRunning {
		t.Errorf("status = %q, want running", sb.Status)
	}
}

func TestEnsureHealthyIsIdempotent(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	if err := cp.Ping(ctx); err != nil {
		t.Fatalf("first Ping: %v", err)
	}
	if err := cp.Ping(ctx); err != nil {
		t.Fatalf("second Ping: %v", err)
	}
}

func TestExecRunsInDefaultSession(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	result, err := cp.Exec(ctx, "echo hello", ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !result.Success {
		t.Errorf("success = false, stderr = %q", result.Stderr)
	}
}

func TestExecStreamDeliversCompleteEvent(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	var types []string
	err := cp.ExecStream(ctx, "echo hi", ExecOptions{}, func(ev ExecEvent) error {
		types = append(types, ev.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("ExecStream: %v", err)
	}
	if len(types) == 0 || types[len(types)-1] != "complete" {
		t.Fatalf("event sequence = %v, want it to end in complete", types)
	}
}

func TestDefaultSessionIsReusedAcrossCalls(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	id1, err := cp.defaultSession(ctx)
	if err != nil {
		t.Fatalf("defaultSession: %v", err)
	}
	id2, err := cp.defaultSession(ctx)
	if err != nil {
		t.Fatalf("defaultSession: %v", err)
	}
	if id1 != id2 {
		t.Errorf("session id changed between calls: %q != %q", id1, id2)
	}
}

func TestSetEnvVarsMergesAcrossCalls(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	if err := cp.SetEnvVars(ctx, map[string]string{"A": "1"}); err != nil {
		t.Fatalf("SetEnvVars: %v", err)
	}
	if err := cp.SetEnvVars(ctx, map[string]string{"B": "2"}); err != nil {
		t.Fatalf("SetEnvVars: %v", err)
	}

	cp.mu.Lock()
	merged := cp.defaultEnv
	cp.mu.Unlock()
	if merged["A"] != "1" || merged["B"] != "2" {
		t.Errorf("defaultEnv = %v, want both A and B retained", merged)
	}
}

func TestCreateSessionIsIndependentOfDefault(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	defaultID, err := cp.defaultSession(ctx)
	if err != nil {
		t.Fatalf("defaultSession: %v", err)
	}
	sess, err := cp.CreateSession(ctx, CreateSessionOptions{ID: "explicit"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID() == defaultID {
		t.Errorf("explicit session collided with default session id %q", defaultID)
	}

	result, err := cp.Exec(ctx, "echo hi", ExecOptions{SessionID: sess.ID()})
	if err != nil {
		t.Fatalf("Exec with explicit session: %v", err)
	}
	if !result.Success {
		t.Errorf("success = false")
	}
}

func TestFileWriteReadRoundTrip(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	n, err := cp.WriteFile(ctx, "/workspace/greeting.txt", "hello sandbox")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if n != len("hello sandbox") {
		t.Errorf("bytesWritten = %d, want %d", n, len("hello sandbox"))
	}

	content, err := cp.ReadFile(ctx, "/workspace/greeting.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if content != "hello sandbox" {
		t.Errorf("content = %q", content)
	}
}

func TestFileRenameAndDelete(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	if _, err := cp.WriteFile(ctx, "/workspace/a.txt", "x"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := cp.RenameFile(ctx, "/workspace/a.txt", "/workspace/b.txt"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}
	if _, err := cp.ReadFile(ctx, "/workspace/b.txt"); err != nil {
		t.Fatalf("ReadFile after rename: %v", err)
	}
	if err := cp.DeleteFile(ctx, "/workspace/b.txt"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := cp.ReadFile(ctx, "/workspace/b.txt"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMkdir(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	if err := cp.Mkdir(ctx, "/workspace/nested/dir", true); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := cp.WriteFile(ctx, "/workspace/nested/dir/f.txt", "ok"); err != nil {
		t.Fatalf("WriteFile into mkdir'd dir: %v", err)
	}
}

func TestStartProcessAndGetLogs(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	proc, err := cp.StartProcess(ctx, "echo background", StartProcessOptions{})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	if proc.ID == "" {
		t.Fatal("expected a process id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := cp.GetProcess(ctx, proc.ID)
		if err != nil {
			t.Fatalf("GetProcess: %v", err)
		}
		if info.Status == "exited" || info.Status == "completed" || info.ExitCode != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("process never reached a terminal state: %+v", info)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stdout, _, err := cp.GetProcessLogs(ctx, proc.ID)
	if err != nil {
		t.Fatalf("GetProcessLogs: %v", err)
	}
	if stdout == "" {
		t.Error("expected non-empty stdout")
	}
}

func TestListAndKillProcess(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	proc, err := cp.StartProcess(ctx, "sleep 5", StartProcessOptions{})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}

	procs, err := cp.ListProcesses(ctx)
	if err != nil {
		t.Fatalf("ListProcesses: %v", err)
	}
	found := false
	for _, p := range procs {
		if p.ID == proc.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("ListProcesses did not include %q", proc.ID)
	}

	if err := cp.KillProcess(ctx, proc.ID); err != nil {
		t.Fatalf("KillProcess: %v", err)
	}
	// Idempotent: killing an already-terminated process must not error.
	if err := cp.KillProcess(ctx, proc.ID); err != nil {
		t.Fatalf("second KillProcess: %v", err)
	}
}

func TestExposePortBuildsSubdomainPreviewURL(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	exposed, err := cp.ExposePort(ctx, 8080, "web")
	if err != nil {
		t.Fatalf("ExposePort: %v", err)
	}
	want := "https://8080-sbx1.sandboxkit.test"
	if exposed.URL != want {
		t.Errorf("URL = %q, want %q", exposed.URL, want)
	}
	if exposed.Token == "" {
		t.Error("expected a non-empty token")
	}

	if !cp.ValidatePortToken(8080, exposed.Token) {
		t.Error("ValidatePortToken rejected the token ExposePort just issued")
	}
	if cp.ValidatePortToken(8080, "wrong-token") {
		t.Error("ValidatePortToken accepted a wrong token")
	}
}

func TestExposePortLocalhostUsesPathForm(t *testing.T) {
	cp, _ := newTestInstance(t)
	cp.SetBaseURL("localhost:8000")
	ctx := context.Background()

	exposed, err := cp.ExposePort(ctx, 8080, "")
	if err != nil {
		t.Fatalf("ExposePort: %v", err)
	}
	want := "http://localhost:8000/preview/8080/sbx1"
	if exposed.URL != want {
		t.Errorf("URL = %q, want %q", exposed.URL, want)
	}
}

func TestExposePortRejectsDevWildcardHostname(t *testing.T) {
	cp, provider := newTestInstance(t)
	cp.mu.Lock()
	cp.cfg.DevWildcardSuffixes = []string{"workers.dev"}
	cp.mu.Unlock()
	cp.SetBaseURL("myapp.workers.dev")
	ctx := context.Background()

	_, err := cp.ExposePort(ctx, 8080, "web")
	if err == nil {
		t.Fatal("expected CUSTOM_DOMAIN_REQUIRED error")
	}
	ports, listErr := cp.GetExposedPorts(ctx)
	if listErr != nil {
		t.Fatalf("GetExposedPorts: %v", listErr)
	}
	if len(ports) != 0 {
		t.Errorf("port should not have been exposed on the container: %v", ports)
	}
	_ = provider
}

func TestUnexposePortInvalidatesToken(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	exposed, err := cp.ExposePort(ctx, 8080, "web")
	if err != nil {
		t.Fatalf("ExposePort: %v", err)
	}
	if err := cp.UnexposePort(ctx, 8080); err != nil {
		t.Fatalf("UnexposePort: %v", err)
	}
	if cp.ValidatePortToken(8080, exposed.Token) {
		t.Error("token still validates after UnexposePort")
	}
}

func TestCheckPortReadyReportsUnreachablePort(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	result, err := cp.CheckPortReady(ctx, 59999, CheckReadyOptions{})
	if err != nil {
		t.Fatalf("CheckPortReady: %v", err)
	}
	if result.Ready {
		t.Error("expected an unbound port to report not ready")
	}
}

func TestGitCheckoutRejectsDisallowedScheme(t *testing.T) {
	cp, _ := newTestInstance(t)
	ctx := context.Background()

	_, err := cp.GitCheckout(ctx, "ftp://example.com/repo.git", GitCheckoutOptions{})
	if err == nil {
		t.Fatal("expected an error for a disallowed git URL scheme")
	}
}

// TestDefaultSessionSurvivesManagerRestart exercises the durable store:
// a second Instance built against the same store and sandbox id, as a
// restarted control plane would build, must resume the session id
// bootstrapped by the first one rather than minting a new one.
func TestDefaultSessionSurvivesManagerRestart(t *testing.T) {
	st, err := store.Open("", t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	provider := mock.NewProvider()
	ctx := context.Background()
	sb, err := provider.Create(ctx, "sbx1", sandbox.CreateOptions{ControlPlanePort: 3000})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	root := t.TempDir()
	srv := api.New(api.Config{WorkspaceRoot: root, ControlPlanePort: 3000}, zap.NewNop().Sugar())
	if err := provider.SetHandler(sb.ID, srv.Router()); err != nil {
		t.Fatalf("SetHandler: %v", err)
	}
	t.Cleanup(provider.CloseServers)

	cfg := Config{Hostname: "sandboxkit.test", SleepAfter: time.Hour}

	first, err := New("sbx1", provider, cfg, zap.NewNop().Sugar(), st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := first.Exec(ctx, "echo hi", ExecOptions{}); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	second, err := New("sbx1", provider, cfg, zap.NewNop().Sugar(), st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if second.defaultSessionID == "" {
		t.Fatal("expected the restarted instance to resume the persisted default session")
	}
	if second.defaultSessionID != first.defaultSessionID {
		t.Errorf("defaultSessionID = %q, want %q", second.defaultSessionID, first.defaultSessionID)
	}
}
