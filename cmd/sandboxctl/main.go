// Command sandboxctl is the host-side operator CLI: it owns the Docker
// provider, the control-plane manager, and the bookkeeping store, and
// exposes sandbox lifecycle and port-exposure operations as
// subcommands. It is the process a fronting worker would embed or
// shell out to; this module itself stops at the library boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sandboxkit/sandboxkit/internal/config"
	"github.com/sandboxkit/sandboxkit/internal/controlplane"
	"github.com/sandboxkit/sandboxkit/internal/sandbox"
	"github.com/sandboxkit/sandboxkit/internal/sandbox/docker"
	"github.com/sandboxkit/sandboxkit/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sandboxctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: sandboxctl <ping|list|expose|unexpose|stop|rm> <sandbox-id> [args...]")
	}
	cmd, sandboxID := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()
	sugar := log.Sugar()

	provider, err := docker.NewProvider(docker.ConfigFromSettings(cfg), sugar)
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	defer provider.Close()

	st, err := store.Open(cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	manager := controlplane.NewManager(provider, controlplane.Config{
		ControlPlanePort:    cfg.ControlPlanePort,
		SleepAfter:          cfg.SleepAfter,
		KeepAlive:           cfg.KeepAlive,
		Hostname:            cfg.Hostname,
		DevWildcardSuffixes: cfg.DevWildcardSuffixes,
	}, sugar, st)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch cmd {
	case "ping":
		return doPing(ctx, manager, sandboxID)
	case "list":
		return doList(ctx, provider)
	case "expose":
		fs := flag.NewFlagSet("expose", flag.ExitOnError)
		name := fs.String("name", "", "human-readable port name")
		if len(args) < 3 {
			return fmt.Errorf("usage: sandboxctl expose <sandbox-id> <port> [-name NAME]")
		}
		port, rest := args[2], args[3:]
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return doExpose(ctx, manager, sandboxID, port, *name)
	case "unexpose":
		if len(args) < 3 {
			return fmt.Errorf("usage: sandboxctl unexpose <sandbox-id> <port>")
		}
		return doUnexpose(ctx, manager, sandboxID, args[2])
	case "stop":
		return provider.Stop(ctx, sandboxID, 10*time.Second)
	case "rm":
		return provider.Remove(ctx, sandboxID, sandbox.RemoveOptions{Force: true})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func doPing(ctx context.Context, manager *controlplane.Manager, sandboxID string) error {
	inst, err := manager.Get(sandboxID)
	if err != nil {
		return fmt.Errorf("get instance: %w", err)
	}
	if err := inst.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Printf("sandbox %s is healthy\n", sandboxID)
	return nil
}

func doList(ctx context.Context, provider sandbox.Provider) error {
	sandboxes, err := provider.List(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	for _, sb := range sandboxes {
		fmt.Printf("%s\t%s\t%s\n", sb.ID, sb.Status, sb.Image)
	}
	return nil
}

func doExpose(ctx context.Context, manager *controlplane.Manager, sandboxID, portArg, name string) error {
	port, err := parsePort(portArg)
	if err != nil {
		return err
	}
	inst, err := manager.Get(sandboxID)
	if err != nil {
		return fmt.Errorf("get instance: %w", err)
	}
	exposed, err := inst.ExposePort(ctx, port, name)
	if err != nil {
		return fmt.Errorf("expose port: %w", err)
	}
	fmt.Println(exposed.URL)
	return nil
}

func doUnexpose(ctx context.Context, manager *controlplane.Manager, sandboxID, portArg string) error {
	port, err := parsePort(portArg)
	if err != nil {
		return err
	}
	inst, err := manager.Get(sandboxID)
	if err != nil {
		return fmt.Errorf("get instance: %w", err)
	}
	return inst.UnexposePort(ctx, port)
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", raw, err)
	}
	return port, nil
}
