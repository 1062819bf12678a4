package portreg

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestExposeAndList(t *testing.T) {
	r := New(3000)

	entry, err := r.Expose(8080, "web")
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}
	if entry.Token == "" {
		t.Error("expected a non-empty token")
	}

	list := r.List()
	if len(list) != 1 || list[0].Port != 8080 {
		t.Fatalf("List() = %+v", list)
	}
}

func TestExposeRejectsInvalidPort(t *testing.T) {
	r := New(3000)
	if _, err := r.Expose(22, ""); err == nil {
		t.Fatal("expected INVALID_PORT error for privileged port")
	}
	if _, err := r.Expose(3000, ""); err == nil {
		t.Fatal("expected INVALID_PORT error for control plane's own port")
	}
}

func TestExposeRejectsDuplicate(t *testing.T) {
	r := New(3000)
	if _, err := r.Expose(8080, ""); err != nil {
		t.Fatalf("Expose: %v", err)
	}
	_, err := r.Expose(8080, "")
	if err == nil {
		t.Fatal("expected PORT_ALREADY_EXPOSED")
	}
	if _, ok := err.(*AlreadyExposedError); !ok {
		t.Errorf("got %T, want *AlreadyExposedError", err)
	}
}

func TestUnexposeInvalidatesToken(t *testing.T) {
	r := New(3000)
	entry, _ := r.Expose(8080, "")

	if err := r.Unexpose(8080); err != nil {
		t.Fatalf("Unexpose: %v", err)
	}
	if r.ValidateToken(8080, entry.Token) {
		t.Error("expected token to be invalid after unexpose")
	}
	if err := r.Unexpose(8080); err == nil {
		t.Fatal("expected PORT_NOT_EXPOSED on second unexpose")
	}
}

func TestListDoesNotLeakTokens(t *testing.T) {
	r := New(3000)
	r.Expose(8080, "")

	for _, p := range r.List() {
		_ = p // Public has no Token field; compile-time guarantee.
	}
}

func TestRotateToken(t *testing.T) {
	r := New(3000)
	entry, _ := r.Expose(8080, "")

	newToken, err := r.RotateToken(8080)
	if err != nil {
		t.Fatalf("RotateToken: %v", err)
	}
	if newToken == entry.Token {
		t.Error("expected rotated token to differ")
	}
	if r.ValidateToken(8080, entry.Token) {
		t.Error("old token should no longer validate")
	}
	if !r.ValidateToken(8080, newToken) {
		t.Error("new token should validate")
	}
}

func TestCheckReadyTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	r := New(3000)

	result := r.CheckReady(context.Background(), ReadyCheck{Port: port, Mode: ModeTCP})
	if !result.Ready {
		t.Errorf("expected ready=true, got %+v", result)
	}
}

func TestCheckReadyTCPRefused(t *testing.T) {
	r := New(3000)
	result := r.CheckReady(context.Background(), ReadyCheck{Port: 1, Mode: ModeTCP})
	if result.Ready {
		t.Error("expected ready=false for a port nothing listens on")
	}
	if result.Error == "" {
		t.Error("expected an error message")
	}
}

func TestCheckReadyHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	r := New(3000)
	result := r.CheckReady(context.Background(), ReadyCheck{Port: port, Mode: ModeHTTP, Path: "/"})
	if !result.Ready || result.StatusCode != 200 {
		t.Errorf("got %+v", result)
	}
}

func TestCheckReadyHTTPStatusRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	r := New(3000)
	result := r.CheckReady(context.Background(), ReadyCheck{
		Port: port, Mode: ModeHTTP, Path: "/", StatusMin: 200, StatusMax: 299,
	})
	if result.Ready {
		t.Errorf("expected ready=false for a 404 outside [200,299], got %+v", result)
	}
	if result.StatusCode != 404 {
		t.Errorf("status = %d, want 404", result.StatusCode)
	}
}
