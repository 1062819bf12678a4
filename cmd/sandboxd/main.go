// Command sandboxd is the in-container agent: it serves the HTTP+SSE
// contract the control plane speaks to drive sessions, command
// execution, process supervision, the file tree, port exposure, and
// git checkout inside one sandbox container.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sandboxkit/sandboxkit/internal/config"
	"github.com/sandboxkit/sandboxkit/internal/containeragent/api"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	sugar := log.Sugar()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalw("sandboxd: loading config", "error", err)
	}

	workspaceRoot := os.Getenv("SANDBOX_WORKSPACE_ROOT")
	if workspaceRoot == "" {
		workspaceRoot = "/workspace"
	}

	srv := api.New(api.Config{
		WorkspaceRoot:    workspaceRoot,
		ControlPlanePort: cfg.ControlPlanePort,
		AllowedGitHosts:  cfg.AllowedGitHosts,
	}, sugar)

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ControlPlanePort),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("sandboxd: listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("sandboxd: serve", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("sandboxd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("sandboxd: shutdown", "error", err)
	}
}

