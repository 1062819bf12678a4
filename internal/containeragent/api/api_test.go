package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	root := t.TempDir()
	s := New(Config{WorkspaceRoot: root, ControlPlanePort: 3000}, zap.NewNop().Sugar())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var v map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestPing(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/ping")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeBody(t, resp)
	if body["message"] != "pong" {
		t.Errorf("got %v", body)
	}
}

func TestCreateAndDeleteSession(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/sessions", map[string]any{"id": "s1"})
	body := decodeBody(t, resp)
	if body["success"] != true || body["sessionId"] != "s1" {
		t.Fatalf("got %v", body)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/s1", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", delResp.StatusCode)
	}
}

func TestExecuteEcho(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts, "/api/execute", map[string]any{"command": "echo hello", "sessionId": "s1"})
	body := decodeBody(t, resp)

	if body["success"] != true {
		t.Fatalf("got %v", body)
	}
	if stdout, _ := body["stdout"].(string); !strings.Contains(stdout, "hello") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestFilesWriteReadRoundtrip(t *testing.T) {
	_, ts := newTestServer(t)

	writeResp := postJSON(t, ts, "/api/files/write", map[string]any{
		"path": "/workspace/a.txt", "content": "hi", "sessionId": "s1",
	})
	writeBody := decodeBody(t, writeResp)
	if writeBody["success"] != true {
		t.Fatalf("write: %v", writeBody)
	}

	readResp := postJSON(t, ts, "/api/files/read", map[string]any{
		"path": "/workspace/a.txt", "sessionId": "s1",
	})
	readBody := decodeBody(t, readResp)
	if readBody["content"] != "hi" {
		t.Fatalf("read: %v", readBody)
	}
}

func TestFilesReadMissingIsNotFound(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts, "/api/files/read", map[string]any{
		"path": "/workspace/missing.txt", "sessionId": "s1",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "FILE_NOT_FOUND" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestFilesReadOutsideWorkspaceIsRejected(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts, "/api/files/read", map[string]any{
		"path": "/etc/passwd", "sessionId": "s1",
	})
	body := decodeBody(t, resp)
	if body["code"] != "PATH_VALIDATION_FAILED" {
		t.Errorf("code = %v, body = %v", body["code"], body)
	}
}

func TestPortsExposeListUnexpose(t *testing.T) {
	_, ts := newTestServer(t)

	exposeResp := postJSON(t, ts, "/api/ports/expose", map[string]any{"port": 8080, "name": "web", "sessionId": "s1"})
	exposeBody := decodeBody(t, exposeResp)
	if exposeBody["success"] != true || exposeBody["token"] == "" {
		t.Fatalf("expose: %v", exposeBody)
	}

	listResp, err := http.Get(ts.URL + "/api/ports")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	listBody := decodeBody(t, listResp)
	ports, _ := listBody["ports"].([]any)
	if len(ports) != 1 {
		t.Fatalf("ports = %v", ports)
	}

	dupResp := postJSON(t, ts, "/api/ports/expose", map[string]any{"port": 8080, "sessionId": "s1"})
	if dupResp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", dupResp.StatusCode)
	}

	unexposeResp := postJSON(t, ts, "/api/ports/unexpose", map[string]any{"port": 8080})
	unexposeBody := decodeBody(t, unexposeResp)
	if unexposeBody["success"] != true {
		t.Fatalf("unexpose: %v", unexposeBody)
	}
}

func TestGitCheckoutRejectsInvalidURL(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts, "/api/git/checkout", map[string]any{
		"repoUrl": "ftp://evil/repo.git", "sessionId": "s1",
	})
	body := decodeBody(t, resp)
	if body["code"] != "INVALID_GIT_URL" {
		t.Errorf("code = %v, body = %v", body["code"], body)
	}
}
