// Package mock provides a mock implementation of sandbox.Provider for
// tests that exercise the control plane without a real container
// runtime.
package mock

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/sandbox"
)

// Provider is a mock sandbox provider for testing.
type Provider struct {
	mu        sync.RWMutex
	sandboxes map[string]*sandbox.Sandbox
	secrets   map[string]string
	watchers  map[string][]chan sandbox.StateEvent
	servers   map[string]*httptest.Server

	image string

	// Configurable behaviors for testing.
	CreateFunc func(ctx context.Context, sandboxID string, opts sandbox.CreateOptions) (*sandbox.Sandbox, error)
	StartFunc  func(ctx context.Context, sandboxID string) error
	ExecFunc   func(ctx context.Context, sandboxID string, cmd []string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error)
}

// NewProvider creates a mock provider with default behavior.
func NewProvider() *Provider {
	return &Provider{
		sandboxes: make(map[string]*sandbox.Sandbox),
		secrets:   make(map[string]string),
		watchers:  make(map[string][]chan sandbox.StateEvent),
		servers:   make(map[string]*httptest.Server),
		image:     "sandboxkit/mock:latest",
	}
}

// SetHandler points sandboxID's control-plane traffic at an in-process
// httptest.Server backed by handler, so HTTPClient and ControlPlaneAddr
// reach real HTTP+SSE and tunnel handling instead of the canned
// responses the rest of this mock returns. sandboxID must already exist
// (via Create). Callers should Close the Provider's servers via
// CloseServers when done.
func (p *Provider) SetHandler(sandboxID string, handler http.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, exists := p.sandboxes[sandboxID]
	if !exists {
		return sandbox.ErrNotFound
	}

	srv := httptest.NewServer(handler)
	u, err := url.Parse(srv.URL)
	if err != nil {
		srv.Close()
		return fmt.Errorf("mock: parse httptest server url: %w", err)
	}
	host, portStr, err := splitHostPort(u)
	if err != nil {
		srv.Close()
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		srv.Close()
		return fmt.Errorf("mock: parse httptest server port: %w", err)
	}

	if old, ok := p.servers[sandboxID]; ok {
		old.Close()
	}
	p.servers[sandboxID] = srv
	s.ControlPlanePort.HostIP = host
	s.ControlPlanePort.HostPort = port
	return nil
}

// CloseServers shuts down every httptest.Server registered via
// SetHandler.
func (p *Provider) CloseServers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, srv := range p.servers {
		srv.Close()
	}
	p.servers = make(map[string]*httptest.Server)
}

func splitHostPort(u *url.URL) (string, string, error) {
	host := u.Hostname()
	port := u.Port()
	if host == "" || port == "" {
		return "", "", fmt.Errorf("mock: httptest server url %q missing host or port", u.String())
	}
	return host, port, nil
}

func (p *Provider) ImageExists(ctx context.Context) bool { return true }

func (p *Provider) Image() string { return p.image }

func (p *Provider) Create(ctx context.Context, sandboxID string, opts sandbox.CreateOptions) (*sandbox.Sandbox, error) {
	if p.CreateFunc != nil {
		return p.CreateFunc(ctx, sandboxID, opts)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.sandboxes[sandboxID]; exists {
		return nil, sandbox.ErrAlreadyExists
	}

	s := &sandbox.Sandbox{
		ID:        sandboxID,
		Status:    sandbox.StatusCreated,
		Image:     p.image,
		CreatedAt: time.Now(),
		Metadata:  map[string]string{"mock": "true"},
		ControlPlanePort: sandbox.AssignedPort{
			ContainerPort: opts.ControlPlanePort,
			HostPort:      32768,
			HostIP:        "127.0.0.1",
			Protocol:      "tcp",
		},
		Env: map[string]string{},
	}
	p.sandboxes[sandboxID] = s
	p.secrets[sandboxID] = opts.SharedSecret
	return s, nil
}

func (p *Provider) Start(ctx context.Context, sandboxID string) error {
	if p.StartFunc != nil {
		return p.StartFunc(ctx, sandboxID)
	}

	p.mu.Lock()
	s, exists := p.sandboxes[sandboxID]
	if !exists {
		p.mu.Unlock()
		return sandbox.ErrNotFound
	}
	if s.Status == sandbox.StatusRunning {
		p.mu.Unlock()
		return sandbox.ErrAlreadyRunning
	}
	s.Status = sandbox.StatusRunning
	now := time.Now()
	s.StartedAt = &now
	p.mu.Unlock()

	p.emit(sandboxID, sandbox.StatusRunning, "")
	return nil
}

func (p *Provider) Stop(ctx context.Context, sandboxID string, timeout time.Duration) error {
	p.mu.Lock()
	s, exists := p.sandboxes[sandboxID]
	if !exists {
		p.mu.Unlock()
		return sandbox.ErrNotFound
	}
	if s.Status != sandbox.StatusRunning {
		p.mu.Unlock()
		return sandbox.ErrNotRunning
	}
	s.Status = sandbox.StatusStopped
	now := time.Now()
	s.StoppedAt = &now
	p.mu.Unlock()

	p.emit(sandboxID, sandbox.StatusStopped, "")
	return nil
}

func (p *Provider) Remove(ctx context.Context, sandboxID string, opts sandbox.RemoveOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, exists := p.sandboxes[sandboxID]
	if !exists {
		return nil
	}
	if s.Status == sandbox.StatusRunning && !opts.Force {
		return sandbox.ErrAlreadyRunning
	}
	delete(p.sandboxes, sandboxID)
	delete(p.secrets, sandboxID)
	return nil
}

func (p *Provider) Get(ctx context.Context, sandboxID string) (*sandbox.Sandbox, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, exists := p.sandboxes[sandboxID]
	if !exists {
		return nil, sandbox.ErrNotFound
	}
	cpy := *s
	return &cpy, nil
}

func (p *Provider) GetSecret(ctx context.Context, sandboxID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	secret, exists := p.secrets[sandboxID]
	if !exists {
		return "", sandbox.ErrNotFound
	}
	return secret, nil
}

func (p *Provider) List(ctx context.Context) ([]*sandbox.Sandbox, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*sandbox.Sandbox, 0, len(p.sandboxes))
	for _, v := range p.sandboxes {
		cpy := *v
		result = append(result, &cpy)
	}
	return result, nil
}

func (p *Provider) Exec(ctx context.Context, sandboxID string, cmd []string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	if p.ExecFunc != nil {
		return p.ExecFunc(ctx, sandboxID, cmd, opts)
	}

	p.mu.RLock()
	_, exists := p.sandboxes[sandboxID]
	p.mu.RUnlock()
	if !exists {
		return nil, sandbox.ErrNotFound
	}

	return &sandbox.ExecResult{ExitCode: 0, Stdout: []byte("mock output\n")}, nil
}

func (p *Provider) Attach(ctx context.Context, sandboxID string, opts sandbox.AttachOptions) (sandbox.PTY, error) {
	p.mu.RLock()
	s, exists := p.sandboxes[sandboxID]
	p.mu.RUnlock()
	if !exists {
		return nil, sandbox.ErrNotFound
	}
	if s.Status != sandbox.StatusRunning {
		return nil, sandbox.ErrNotRunning
	}
	return &PTY{}, nil
}

// HTTPClient returns an http.Client pointed at an in-process httptest
// server backed by handler, if one was registered with SetHandler;
// otherwise the default client (tests that don't exercise real HTTP
// calls don't need one).
func (p *Provider) HTTPClient(ctx context.Context, sandboxID string) (*http.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.sandboxes[sandboxID]
	if !exists {
		return nil, sandbox.ErrNotFound
	}
	if srv, ok := p.servers[sandboxID]; ok {
		return srv.Client(), nil
	}
	return http.DefaultClient, nil
}

func (p *Provider) ControlPlaneAddr(ctx context.Context, sandboxID string) (string, error) {
	p.mu.RLock()
	s, exists := p.sandboxes[sandboxID]
	p.mu.RUnlock()
	if !exists {
		return "", sandbox.ErrNotFound
	}
	return fmt.Sprintf("%s:%d", s.ControlPlanePort.HostIP, s.ControlPlanePort.HostPort), nil
}

func (p *Provider) Watch(ctx context.Context, sandboxID string) (<-chan sandbox.StateEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.sandboxes[sandboxID]; !exists {
		return nil, sandbox.ErrNotFound
	}

	ch := make(chan sandbox.StateEvent, 8)
	p.watchers[sandboxID] = append(p.watchers[sandboxID], ch)

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		watchers := p.watchers[sandboxID]
		for i, w := range watchers {
			if w == ch {
				p.watchers[sandboxID] = append(watchers[:i], watchers[i+1:]...)
				close(ch)
				return
			}
		}
	}()

	return ch, nil
}

func (p *Provider) emit(sandboxID string, status sandbox.SandboxStatus, errMsg string) {
	p.mu.RLock()
	watchers := append([]chan sandbox.StateEvent(nil), p.watchers[sandboxID]...)
	p.mu.RUnlock()

	ev := sandbox.StateEvent{SandboxID: sandboxID, Status: status, Error: errMsg, At: time.Now()}
	for _, w := range watchers {
		select {
		case w <- ev:
		default:
		}
	}
}

// PTY is a mock PTY for testing.
type PTY struct {
	mu           sync.Mutex
	outputBuffer []byte
	closed       bool
	resizeCalls  []struct{ Rows, Cols int }
}

func (t *PTY) Read(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}
	if len(t.outputBuffer) == 0 {
		t.outputBuffer = []byte("$ ")
	}
	n := copy(b, t.outputBuffer)
	t.outputBuffer = t.outputBuffer[n:]
	return n, nil
}

func (t *PTY) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	t.outputBuffer = append(t.outputBuffer, b...)
	return len(b), nil
}

func (t *PTY) Resize(ctx context.Context, rows, cols int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resizeCalls = append(t.resizeCalls, struct{ Rows, Cols int }{rows, cols})
	return nil
}

func (t *PTY) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *PTY) Wait(ctx context.Context) (int, error) { return 0, nil }
