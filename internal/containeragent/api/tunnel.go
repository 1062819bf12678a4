package api

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/portreg"
	"github.com/sandboxkit/sandboxkit/internal/security"
)

// handleTunnel backs the control plane's connect(port) WebSocket
// routing. It hijacks the incoming connection and splices it, byte for
// byte, to a local dial of the requested port; the container never
// parses what flows through the tunnel. The control-plane port itself is
// accepted, since that is where connect('/path') is routed.
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil || (port != s.cfg.ControlPlanePort && !security.ValidatePort(port, s.cfg.ControlPlanePort)) {
		writeError(w, &portreg.InvalidPortError{Port: port})
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "hijacking unsupported", "timestamp": nowISO()})
		return
	}
	clientConn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()

	target, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), 5*time.Second)
	if err != nil {
		fmt.Fprintf(clientConn, "HTTP/1.1 502 Bad Gateway\r\nConnection: close\r\n\r\n")
		return
	}
	defer target.Close()

	fmt.Fprintf(clientConn, "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: tcp-tunnel\r\n\r\n")

	done := make(chan struct{}, 2)
	go func() { io.Copy(target, clientConn); done <- struct{}{} }()
	go func() { io.Copy(clientConn, target); done <- struct{}{} }()
	<-done
}
