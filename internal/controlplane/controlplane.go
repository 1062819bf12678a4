// Package controlplane implements the per-sandbox coordinator: it lazily
// starts the backing container, proxies every client call as an HTTP
// request to the container's in-container service, classifies startup
// failures as transient/no-instance/permanent, wraps outbound streams
// with activity renewal and health supervision, and owns port-exposure
// lifecycle (preview URLs, token issuance/validation) and the default
// session.
//
// One Instance serves exactly one sandbox id. Callers obtain an Instance
// through a Manager, which holds one per id for the process lifetime.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandboxkit/sandboxkit/internal/clienterr"
	"github.com/sandboxkit/sandboxkit/internal/sandbox"
	"github.com/sandboxkit/sandboxkit/internal/security"
	"github.com/sandboxkit/sandboxkit/internal/store"
)

// state is the control plane's own cold/starting/healthy/sleeping
// lifecycle.
type state int

const (
	stateCold state = iota
	stateStarting
	stateHealthy
	stateSleeping
)

// Config configures one Instance.
type Config struct {
	// SandboxName seeds the default session id (sandbox-<name>) and
	// CreateOptions.Labels; falls back to the sandbox id itself.
	SandboxName string

	// ControlPlanePort is the in-container port the container's HTTP
	// service listens on; never a valid Connect/expose target itself.
	ControlPlanePort int

	SleepAfter time.Duration
	KeepAlive  bool

	// Hostname is the outward host used to build preview URLs. It may
	// be overridden later via SetBaseURL, mirroring the client method
	// set's setBaseUrl.
	Hostname string
	// DevWildcardSuffixes are hostname suffixes for which subdomain
	// preview routing is unavailable (e.g. "workers.dev").
	DevWildcardSuffixes []string

	// StartupTimeout bounds how long Instance waits for the container
	// to become healthy before failing an operation.
	StartupTimeout time.Duration
	// PingInterval is the poll interval while waiting for startup.
	PingInterval time.Duration
	// KillGrace bounds the graceful-stop window used when the idle
	// timer puts the sandbox to sleep.
	KillGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.ControlPlanePort == 0 {
		c.ControlPlanePort = 3000
	}
	if c.SleepAfter == 0 {
		c.SleepAfter = 3 * time.Minute
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = 60 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 200 * time.Millisecond
	}
	if c.KillGrace == 0 {
		c.KillGrace = 10 * time.Second
	}
	return c
}

// Instance is the per-sandbox control-plane coordinator.
type Instance struct {
	id       string
	provider sandbox.Provider
	log      *zap.SugaredLogger
	store    *store.Store

	mu    sync.Mutex
	cfg   Config
	state state

	defaultSessionID string
	defaultEnv       map[string]string
	hostname         string

	idleTimer *time.Timer
	lastRenew time.Time

	ports *portTable
}

// New constructs an Instance for sandboxID. The container is not started
// until the first operation runs. st may be nil, in which case the
// default session id is kept in memory only and port-grant generations
// are not recorded; neither survives a control-plane restart.
func New(sandboxID string, provider sandbox.Provider, cfg Config, log *zap.SugaredLogger, st *store.Store) (*Instance, error) {
	id, err := security.SanitizeSandboxID(sandboxID)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	inst := &Instance{
		id:       id,
		provider: provider,
		log:      log,
		store:    st,
		cfg:      cfg,
		hostname: cfg.Hostname,
		ports:    newPortTable(),
	}
	if st != nil {
		if sessionID, err := st.GetDefaultSession(id); err == nil && sessionID != "" {
			inst.defaultSessionID = sessionID
		}
	}
	return inst, nil
}

// ID returns the sandbox id this instance serves.
func (cp *Instance) ID() string { return cp.id }

// SetSandboxName rebinds the name used to derive the default session id
// on next bootstrap. Has no effect once the default session already
// exists.
func (cp *Instance) SetSandboxName(name string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.cfg.SandboxName = name
}

// SetBaseURL overrides the outward hostname used for preview URLs.
func (cp *Instance) SetBaseURL(rawURL string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.hostname = rawURL
}

// SetSleepAfter changes the idle timeout; takes effect on the next
// renewal.
func (cp *Instance) SetSleepAfter(d time.Duration) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.cfg.SleepAfter = d
}

// SetKeepAlive suppresses (or re-enables) the idle-sleep timer.
func (cp *Instance) SetKeepAlive(keep bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.cfg.KeepAlive = keep
	if keep && cp.idleTimer != nil {
		cp.idleTimer.Stop()
	}
}

// defaultSandboxName returns the name used to derive ids/labels when the
// caller never called SetSandboxName.
func (cp *Instance) defaultSandboxName() string {
	if cp.cfg.SandboxName != "" {
		return cp.cfg.SandboxName
	}
	return cp.id
}

// ensureHealthy starts the container if needed and blocks until it
// reports healthy, or returns a classified startup error.
func (cp *Instance) ensureHealthy(ctx context.Context) error {
	cp.mu.Lock()
	if cp.state == stateHealthy {
		cp.mu.Unlock()
		return nil
	}
	cp.state = stateStarting
	cp.mu.Unlock()

	if err := cp.startup(ctx); err != nil {
		cp.mu.Lock()
		cp.state = stateCold
		cp.mu.Unlock()
		return err
	}

	cp.mu.Lock()
	cp.state = stateHealthy
	cp.mu.Unlock()
	cp.renewActivity()
	return nil
}

// startup creates (if needed) and starts the sandbox, then polls until
// the container is running and answering /api/ping.
func (cp *Instance) startup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, cp.cfg.StartupTimeout)
	defer cancel()

	sb, err := cp.provider.Get(ctx, cp.id)
	if err != nil {
		sb, err = cp.provider.Create(ctx, cp.id, sandbox.CreateOptions{
			Labels: map[string]string{"sandboxkit.name": cp.defaultSandboxName()},
		})
		if err != nil {
			return classifyStartupError(err)
		}
	}

	if sb.Status != sandbox.StatusRunning {
		if err := cp.provider.Start(ctx, cp.id); err != nil {
			return classifyStartupError(err)
		}
	}

	for {
		sb, err := cp.provider.Get(ctx, cp.id)
		if err != nil {
			return classifyStartupError(err)
		}
		if sb.Status == sandbox.StatusFailed {
			msg := sb.Error
			if msg == "" {
				msg = "container did not start"
			}
			return classifyStartupError(fmt.Errorf("%s", msg))
		}
		if sb.Status == sandbox.StatusRunning {
			if err := cp.pingOnce(ctx); err == nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return classifyStartupError(fmt.Errorf("timed out waiting for container to start: %w", ctx.Err()))
		case <-time.After(cp.cfg.PingInterval):
		}
	}
}

func (cp *Instance) pingOnce(ctx context.Context) error {
	resp, err := cp.rawDo(ctx, http.MethodGet, "/api/ping", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("the container is not listening: ping returned %d", resp.StatusCode)
	}
	return nil
}

// Ping issues /api/ping, starting the container first if needed.
func (cp *Instance) Ping(ctx context.Context) error {
	if err := cp.ensureHealthy(ctx); err != nil {
		return err
	}
	return cp.pingOnce(ctx)
}

// rawDo issues an HTTP request to the container without ensuring health
// first (used by startup's own ping probe to avoid recursion).
func (cp *Instance) rawDo(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	client, err := cp.provider.HTTPClient(ctx, cp.id)
	if err != nil {
		return nil, classifyStartupError(err)
	}
	addr, err := cp.provider.ControlPlaneAddr(ctx, cp.id)
	if err != nil {
		return nil, classifyStartupError(err)
	}

	url := "http://" + addr + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("controlplane: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret, err := cp.provider.GetSecret(ctx, cp.id); err == nil && secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyStartupError(fmt.Errorf("connection refused: container port: %w", err))
	}
	return resp, nil
}

// do ensures the container is healthy, issues the request, renews the
// idle timer, and returns the raw response for the caller to decode.
func (cp *Instance) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if err := cp.ensureHealthy(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("controlplane: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	resp, err := cp.rawDo(ctx, method, path, reader)
	if err != nil {
		return nil, err
	}
	cp.renewActivity()
	return resp, nil
}

// envelope is the shared response shape every non-streaming endpoint
// returns.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// doJSON performs do and decodes the JSON body into out, translating a
// {success:false} envelope into a *clienterr.Error.
func (cp *Instance) doJSON(ctx context.Context, method, path string, reqBody any, out any) error {
	resp, err := cp.do(ctx, method, path, reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("controlplane: read response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		retryAfter := 3 * time.Second
		if h := resp.Header.Get("Retry-After"); h != "" {
			if secs := parseRetryAfter(h); secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &clienterr.RetryableError{Err: fmt.Errorf("container unavailable: %s", strings.TrimSpace(string(raw))), RetryAfter: retryAfter}
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)
	if !env.Success && env.Code != "" {
		return decodeTypedError(env.Code, env.Error)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("controlplane: decode response: %w", err)
		}
	}
	return nil
}

// doStream ensures the container is healthy, issues a streaming
// request, and returns a streamWrapper decoding its SSE body. The
// caller must call wrapper.close() when done.
func (cp *Instance) doStream(ctx context.Context, method, path string, body any) (*streamWrapper, error) {
	resp, err := cp.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		var env envelope
		_ = json.Unmarshal(raw, &env)
		if env.Code != "" {
			return nil, decodeTypedError(env.Code, env.Error)
		}
		return nil, fmt.Errorf("controlplane: stream request failed: %s", strings.TrimSpace(string(raw)))
	}
	return cp.wrapStream(ctx, resp.Body), nil
}

func parseRetryAfter(h string) int {
	var n int
	_, err := fmt.Sscanf(h, "%d", &n)
	if err != nil {
		return 0
	}
	return n
}

// renewActivity resets the idle-sleep timer. Only the first renewal in
// a streaming window and subsequent ones throttled to 5s apart matter
// for streams (see stream.go); plain RPCs always renew.
func (cp *Instance) renewActivity() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.lastRenew = time.Now()
	if cp.cfg.KeepAlive {
		return
	}
	if cp.idleTimer == nil {
		cp.idleTimer = time.AfterFunc(cp.cfg.SleepAfter, cp.onIdle)
		return
	}
	cp.idleTimer.Reset(cp.cfg.SleepAfter)
}

// onIdle fires when no operation has renewed activity for SleepAfter; it
// stops the container and returns the instance to cold.
func (cp *Instance) onIdle() {
	cp.mu.Lock()
	if cp.cfg.KeepAlive || cp.state != stateHealthy {
		cp.mu.Unlock()
		return
	}
	cp.state = stateSleeping
	cp.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cp.cfg.KillGrace+5*time.Second)
	defer cancel()
	if err := cp.provider.Stop(ctx, cp.id, cp.cfg.KillGrace); err != nil && cp.log != nil {
		cp.log.Warnw("controlplane: sleep stop failed", "sandbox", cp.id, "error", err)
	}

	cp.mu.Lock()
	cp.state = stateCold
	cp.mu.Unlock()
}
