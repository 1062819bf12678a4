package controlplane

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/clienterr"
	"github.com/sandboxkit/sandboxkit/internal/security"
)

// ConnectOptions configures Connect. Headers overrides the synthetic
// Upgrade/Connection headers Connect would otherwise set, and any other
// header the caller wants forwarded to the target port.
type ConnectOptions struct {
	Headers http.Header
	Method  string
}

// Connect validates portOrPath (a port number, or a path that routes to
// the control-plane port itself), then tunnels w/r's hijacked connection
// through to that port inside the container. The control plane never
// parses the WebSocket frames it relays; it is a transparent
// bidirectional byte tunnel.
//
// connect('/path') defaults to the control plane port; connect(port)
// requires port to pass security.ValidatePort against the configured
// control-plane port (the control-plane port itself is never a valid
// connect target other than via a path).
func (cp *Instance) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request, portOrPath string, opts ConnectOptions) error {
	if err := cp.ensureHealthy(ctx); err != nil {
		return err
	}

	cp.mu.Lock()
	cpPort := cp.cfg.ControlPlanePort
	cp.mu.Unlock()

	port := cpPort
	path := "/"
	if r != nil {
		path = r.URL.Path
	}

	if strings.HasPrefix(portOrPath, "/") {
		path = portOrPath
	} else {
		n, err := strconv.Atoi(portOrPath)
		if err != nil {
			return &clienterr.Error{Code: clienterr.InvalidPort, Message: fmt.Sprintf("connect: %q is neither a port number nor a path", portOrPath)}
		}
		if !security.ValidatePort(n, cpPort) {
			return &clienterr.Error{Code: clienterr.InvalidPort, Port: n}
		}
		port = n
	}
	if r != nil && r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	addr, err := cp.provider.ControlPlaneAddr(ctx, cp.id)
	if err != nil {
		return classifyStartupError(err)
	}

	tunnelConn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return classifyStartupError(fmt.Errorf("connection refused: container port: %w", err))
	}

	if _, err := fmt.Fprintf(tunnelConn, "GET /api/tunnel/%d HTTP/1.1\r\nHost: %s\r\nConnection: Upgrade\r\nUpgrade: tcp-tunnel\r\n\r\n", port, addr); err != nil {
		tunnelConn.Close()
		return fmt.Errorf("controlplane: connect: tunnel handshake: %w", err)
	}
	tunnelResp, err := http.ReadResponse(bufio.NewReader(tunnelConn), nil)
	if err != nil || tunnelResp.StatusCode != http.StatusSwitchingProtocols {
		tunnelConn.Close()
		return classifyStartupError(fmt.Errorf("failed to verify port: container did not accept the tunnel for port %d", port))
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		tunnelConn.Close()
		return fmt.Errorf("controlplane: connect requires a hijackable http.ResponseWriter")
	}
	callerConn, buffered, err := hj.Hijack()
	if err != nil {
		tunnelConn.Close()
		return fmt.Errorf("controlplane: connect: hijack: %w", err)
	}

	method := opts.Method
	if method == "" && r != nil {
		method = r.Method
	}
	if method == "" {
		method = http.MethodGet
	}

	headers := http.Header{}
	if r != nil {
		headers = r.Header.Clone()
	}
	if headers.Get("Upgrade") == "" {
		headers.Set("Upgrade", "websocket")
	}
	if headers.Get("Connection") == "" {
		headers.Set("Connection", "Upgrade")
	}
	for k, vs := range opts.Headers {
		headers[k] = vs
	}

	var req strings.Builder
	fmt.Fprintf(&req, "%s %s HTTP/1.1\r\n", method, path)
	for k, vs := range headers {
		for _, v := range vs {
			fmt.Fprintf(&req, "%s: %s\r\n", k, v)
		}
	}
	req.WriteString("\r\n")
	if _, err := tunnelConn.Write([]byte(req.String())); err != nil {
		callerConn.Close()
		tunnelConn.Close()
		return fmt.Errorf("controlplane: connect: forwarding request: %w", err)
	}
	if buffered != nil && buffered.Reader != nil && buffered.Reader.Buffered() > 0 {
		_, _ = io.CopyN(tunnelConn, buffered.Reader, int64(buffered.Reader.Buffered()))
	}

	cp.renewActivity()
	splice(callerConn, tunnelConn)
	return nil
}

// splice pumps bytes bidirectionally between a and b until either side
// closes or errors, then closes both.
func splice(a, b net.Conn) {
	defer a.Close()
	defer b.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(a, b); done <- struct{}{} }()
	go func() { io.Copy(b, a); done <- struct{}{} }()
	<-done
}
