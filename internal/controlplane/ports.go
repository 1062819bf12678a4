package controlplane

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"

	"github.com/sandboxkit/sandboxkit/internal/clienterr"
)

func fromCodeCustomDomainRequired(hostname string) error {
	return clienterr.FromCode(clienterr.CustomDomainRequired,
		fmt.Sprintf("hostname %q does not support subdomain-based preview routing; configure a custom domain", hostname))
}

// portTable is the control plane's own cache of issued preview tokens,
// kept only in memory so validatePortToken (used by the front-end
// router to authenticate preview requests) does not need a round trip
// to the container on every request. Tokens are persisted durably only
// inside the in-container port registry; this table is filled when a
// port is exposed and cleared when it is unexposed, never fetched from
// the container, and never logged.
type portTable struct {
	mu     sync.RWMutex
	tokens map[int]string
}

func newPortTable() *portTable {
	return &portTable{tokens: make(map[int]string)}
}

func (t *portTable) set(port int, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[port] = token
}

func (t *portTable) remove(port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, port)
}

func (t *portTable) check(port int, token string) bool {
	t.mu.RLock()
	want, ok := t.tokens[port]
	t.mu.RUnlock()
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

type exposePortRequest struct {
	Port      int    `json:"port"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"sessionId"`
}

type exposePortResponse struct {
	Port      int    `json:"port"`
	Name      string `json:"name,omitempty"`
	Token     string `json:"token"`
	ExposedAt string `json:"exposedAt"`
}

// ExposePort calls the container's /api/ports/expose and constructs the
// preview URL from the captured hostname, port, and sandbox id.
// Hostnames matching a configured development wildcard (e.g.
// "*.workers.dev") reject with CUSTOM_DOMAIN_REQUIRED because
// subdomain-based preview routing is unavailable there.
func (cp *Instance) ExposePort(ctx context.Context, port int, name string) (*ExposedPort, error) {
	previewURL, err := cp.previewURL(port)
	if err != nil {
		return nil, err
	}

	sessionID, err := cp.defaultSession(ctx)
	if err != nil {
		return nil, err
	}

	var resp exposePortResponse
	err = cp.doJSON(ctx, "POST", "/api/ports/expose", exposePortRequest{Port: port, Name: name, SessionID: sessionID}, &resp)
	if err != nil {
		return nil, err
	}
	cp.ports.set(port, resp.Token)

	if cp.store != nil {
		if _, err := cp.store.RecordPortGrant(cp.id, port, name); err != nil && cp.log != nil {
			cp.log.Warnw("controlplane: persisting port grant failed", "sandbox", cp.id, "port", port, "error", err)
		}
	}

	return &ExposedPort{
		Port: resp.Port, Name: resp.Name, Token: resp.Token, URL: previewURL,
	}, nil
}

type unexposePortRequest struct {
	Port int `json:"port"`
}

// UnexposePort removes port from the exposed set, invalidating its
// token.
func (cp *Instance) UnexposePort(ctx context.Context, port int) error {
	if err := cp.doJSON(ctx, "POST", "/api/ports/unexpose", unexposePortRequest{Port: port}, nil); err != nil {
		return err
	}
	cp.ports.remove(port)
	if cp.store != nil {
		if err := cp.store.DeletePortGrant(cp.id, port); err != nil && cp.log != nil {
			cp.log.Warnw("controlplane: clearing port grant failed", "sandbox", cp.id, "port", port, "error", err)
		}
	}
	return nil
}

type listPortsResponse struct {
	Ports []PortInfo `json:"ports"`
}

// GetExposedPorts lists every currently exposed port, without tokens.
func (cp *Instance) GetExposedPorts(ctx context.Context) ([]PortInfo, error) {
	var resp listPortsResponse
	if err := cp.doJSON(ctx, "GET", "/api/ports", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Ports, nil
}

// CheckReadyOptions configures CheckPortReady.
type CheckReadyOptions struct {
	// Mode is "tcp" (default) or "http".
	Mode      string
	Path      string
	StatusMin int
	StatusMax int
}

type checkReadyRequest struct {
	Port      int    `json:"port"`
	Mode      string `json:"mode,omitempty"`
	Path      string `json:"path,omitempty"`
	StatusMin int    `json:"statusMin,omitempty"`
	StatusMax int    `json:"statusMax,omitempty"`
}

// ReadyResult is the outcome of CheckPortReady.
type ReadyResult struct {
	Ready      bool   `json:"ready"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CheckPortReady probes port inside the container via the configured
// mode, backing the client façade's waitForPort polling loop.
func (cp *Instance) CheckPortReady(ctx context.Context, port int, opts CheckReadyOptions) (*ReadyResult, error) {
	var result ReadyResult
	err := cp.doJSON(ctx, "POST", "/api/ports/check-ready", checkReadyRequest{
		Port: port, Mode: opts.Mode, Path: opts.Path, StatusMin: opts.StatusMin, StatusMax: opts.StatusMax,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidatePortToken reports whether token authenticates a preview
// request for port, using the control plane's own cache of issued
// tokens (never the container, and never logged).
func (cp *Instance) ValidatePortToken(port int, token string) bool {
	return cp.ports.check(port, token)
}

// previewURL builds the externally reachable URL for port:
// "<scheme>://<port>-<sandboxId>.<hostname>" for custom domains,
// "<scheme>://<hostname>/preview/<port>/<sandboxId>" for localhost.
func (cp *Instance) previewURL(port int) (string, error) {
	cp.mu.Lock()
	hostname := cp.hostname
	wildcards := append([]string(nil), cp.cfg.DevWildcardSuffixes...)
	cp.mu.Unlock()

	if hostname == "" {
		return "", fmt.Errorf("controlplane: no hostname captured yet; call an operation or SetBaseURL first")
	}

	for _, suffix := range wildcards {
		if strings.HasSuffix(hostname, suffix) {
			return "", fromCodeCustomDomainRequired(hostname)
		}
	}

	if isLocalHostname(hostname) {
		return fmt.Sprintf("http://%s/preview/%d/%s", hostname, port, cp.id), nil
	}
	return fmt.Sprintf("https://%d-%s.%s", port, cp.id, hostname), nil
}

func isLocalHostname(hostname string) bool {
	host := hostname
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
