// Package api implements the in-container HTTP+SSE service: the
// contract the control plane speaks to drive sessions, command
// execution, process supervision, the file tree, port exposure, and git
// checkout inside one sandbox container.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sandboxkit/sandboxkit/internal/containeragent/portreg"
	"github.com/sandboxkit/sandboxkit/internal/containeragent/process"
	"github.com/sandboxkit/sandboxkit/internal/containeragent/session"
)

// Config configures a Server.
type Config struct {
	// WorkspaceRoot is the filesystem root every session's cwd and every
	// path validation is relative to.
	WorkspaceRoot string
	// ControlPlanePort is excluded from the set of exposable ports.
	ControlPlanePort int
	// AllowedGitHosts restricts git checkout to an allowlist; empty
	// disables host enforcement.
	AllowedGitHosts []string
	// ExecTimeout bounds /api/execute when the caller does not supply
	// timeoutMs.
	ExecTimeout time.Duration
}

// Server holds the in-container registries and serves the HTTP+SSE
// contract over them.
type Server struct {
	cfg      Config
	sessions *session.Registry
	procs    *process.Supervisor
	ports    *portreg.Registry
	log      *zap.SugaredLogger
	started  time.Time
}

// New constructs a Server with fresh registries.
func New(cfg Config, log *zap.SugaredLogger) *Server {
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = 5 * time.Minute
	}
	sessions := session.New()
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		procs:    process.New(sessions),
		ports:    portreg.New(cfg.ControlPlanePort),
		log:      log,
		started:  time.Now(),
	}
}

// Router builds the chi.Router serving every endpoint in the contract.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/ping", s.handlePing)
	r.Get("/api/commands", s.handleCommands)

	r.Post("/api/sessions", s.handleCreateSession)
	r.Delete("/api/sessions/{id}", s.handleDeleteSession)

	r.Post("/api/execute", s.handleExecute)
	r.Post("/api/execute/stream", s.handleExecuteStream)

	r.Post("/api/processes/start", s.handleStartProcess)
	r.Get("/api/processes", s.handleListProcesses)
	r.Get("/api/process/{id}", s.handleGetProcess)
	r.Delete("/api/process/{id}", s.handleKillProcess)
	r.Get("/api/process/{id}/logs", s.handleProcessLogs)
	r.Get("/api/process/{id}/logs/stream", s.handleProcessLogsStream)

	r.Post("/api/files/write", s.handleFilesWrite)
	r.Post("/api/files/read", s.handleFilesRead)
	r.Post("/api/files/delete", s.handleFilesDelete)
	r.Post("/api/files/mkdir", s.handleFilesMkdir)
	r.Post("/api/files/rename", s.handleFilesRename)
	r.Post("/api/files/move", s.handleFilesMove)

	r.Post("/api/ports/expose", s.handlePortsExpose)
	r.Post("/api/ports/unexpose", s.handlePortsUnexpose)
	r.Get("/api/ports", s.handlePortsList)
	r.Post("/api/ports/check-ready", s.handlePortsCheckReady)

	r.Post("/api/git/checkout", s.handleGitCheckout)

	r.Get("/api/tunnel/{port}", s.handleTunnel)

	return r
}

func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debugw("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "pong",
		"timestamp": nowISO(),
		"requestId": middleware.GetReqID(r.Context()),
	})
}

var availableCommands = []string{"sh", "bash", "git", "node", "npm", "python3"}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"availableCommands": availableCommands,
		"timestamp":         nowISO(),
	})
}
