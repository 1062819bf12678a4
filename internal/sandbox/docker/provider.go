// Package docker implements sandbox.Provider on top of the Docker
// Engine API: one container per sandbox id, a persistent data volume,
// a shared-secret handshake, and event-driven lifecycle notification.
package docker

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	imageTypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	volumeTypes "github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/sandboxkit/sandboxkit/internal/config"
	"github.com/sandboxkit/sandboxkit/internal/egressproxy"
	"github.com/sandboxkit/sandboxkit/internal/sandbox"
)

const (
	labelSecret    = "sandboxkit.secret"
	labelManaged   = "sandboxkit.managed"
	labelSandboxID = "sandboxkit.sandbox.id"

	workspacePath    = "/workspace"
	dataVolumePath   = "/.data"
	dataVolumePrefix = "sandboxkit-data-"
)

// Config configures a Provider.
type Config struct {
	// Image is the sandbox image run for every sandbox.
	Image string
	// DockerHost overrides the Docker daemon endpoint (empty uses
	// client.FromEnv).
	DockerHost string
	// Network places every sandbox container on a named Docker network.
	Network string

	// EgressProxy, when non-nil, starts a host-side forward proxy (see
	// internal/egressproxy) and points every sandbox container's
	// HTTP_PROXY/HTTPS_PROXY at it, so outbound git/package traffic is
	// host-allowlisted and immutable blobs are cached across sandboxes.
	EgressProxy *egressproxy.Config
}

// ConfigFromSettings builds a Provider Config from the process-wide
// settings loaded by internal/config, wiring the egress proxy in only
// when the operator turned it on.
func ConfigFromSettings(cfg config.Config) Config {
	dc := Config{
		Image:      cfg.SandboxImage,
		DockerHost: cfg.DockerHost,
		Network:    cfg.DockerNetwork,
	}
	if cfg.EgressProxyEnabled {
		dc.EgressProxy = &egressproxy.Config{
			AllowedHosts:  cfg.EgressAllowedHosts,
			CacheDir:      cfg.EgressCacheDir,
			CacheMaxBytes: cfg.EgressCacheMaxBytes,
		}
	}
	return dc
}

// Provider implements sandbox.Provider using Docker.
type Provider struct {
	client *client.Client
	cfg    Config
	log    *zap.SugaredLogger

	containerIDsMu sync.RWMutex
	containerIDs   map[string]string

	egressProxy  *egressproxy.Proxy
	egressServer *http.Server
	egressPort   int
}

// NewProvider connects to the Docker daemon and returns a Provider.
func NewProvider(cfg Config, log *zap.SugaredLogger) (*Provider, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: new client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker: connect: %w", err)
	}

	p := &Provider{
		client:       cli,
		cfg:          cfg,
		log:          log,
		containerIDs: make(map[string]string),
	}

	if cfg.EgressProxy != nil {
		if err := p.startEgressProxy(*cfg.EgressProxy); err != nil {
			_ = cli.Close()
			return nil, err
		}
	}

	return p, nil
}

// startEgressProxy brings up a host-side forward proxy listening on a
// loopback port and keeps it running for the Provider's lifetime. Create
// points each new container's HTTP_PROXY/HTTPS_PROXY at it.
func (p *Provider) startEgressProxy(cfg egressproxy.Config) error {
	proxy, err := egressproxy.New(cfg, p.log)
	if err != nil {
		return fmt.Errorf("docker: build egress proxy: %w", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("docker: listen for egress proxy: %w", err)
	}
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		_ = ln.Close()
		return fmt.Errorf("docker: unexpected egress proxy listener address %v", ln.Addr())
	}

	srv := &http.Server{Handler: proxy.Handler()}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.log.Warnw("docker: egress proxy server stopped", "error", err)
		}
	}()

	p.egressProxy = proxy
	p.egressServer = srv
	p.egressPort = addr.Port
	return nil
}

func containerName(sandboxID string) string { return "sandboxkit-" + sandboxID }
func volumeName(sandboxID string) string     { return dataVolumePrefix + sandboxID }

func (p *Provider) ImageExists(ctx context.Context) bool {
	_, err := p.client.ImageInspect(ctx, p.cfg.Image)
	return err == nil
}

func (p *Provider) Image() string { return p.cfg.Image }

func (p *Provider) ensureImage(ctx context.Context, image string) error {
	if _, err := p.client.ImageInspect(ctx, image); err == nil {
		return nil
	}
	reader, err := p.client.ImagePull(ctx, image, imageTypes.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	defer func() { _ = reader.Close() }()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("complete pull for %s: %w", image, err)
	}
	return nil
}

// Create creates (but does not start) a container for sandboxID.
func (p *Provider) Create(ctx context.Context, sandboxID string, opts sandbox.CreateOptions) (*sandbox.Sandbox, error) {
	p.containerIDsMu.RLock()
	cachedID, inCache := p.containerIDs[sandboxID]
	p.containerIDsMu.RUnlock()

	name := containerName(sandboxID)

	if existing, err := p.client.ContainerInspect(ctx, name); err == nil {
		if inCache && cachedID == existing.ID {
			return nil, sandbox.ErrAlreadyExists
		}
		p.log.Warnw("removing stale container before create", "container", existing.ID[:12], "sandboxId", sandboxID)
		if err := p.client.ContainerRemove(ctx, existing.ID, containerTypes.RemoveOptions{Force: true}); err != nil {
			return nil, fmt.Errorf("docker: remove stale container: %w", err)
		}
		p.clearContainerID(sandboxID)
	} else if inCache {
		p.clearContainerID(sandboxID)
	}

	image := p.cfg.Image
	if err := p.ensureImage(ctx, image); err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrInvalidImage, err)
	}

	dataVolName := volumeName(sandboxID)
	if _, err := p.client.VolumeCreate(ctx, volumeTypes.CreateOptions{
		Name:   dataVolName,
		Labels: map[string]string{labelSandboxID: sandboxID, labelManaged: "true"},
	}); err != nil {
		return nil, fmt.Errorf("docker: create data volume: %w", err)
	}

	labels := map[string]string{labelSandboxID: sandboxID, labelManaged: "true"}
	if opts.SharedSecret != "" {
		labels[labelSecret] = opts.SharedSecret
	}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	controlPlanePort := opts.ControlPlanePort
	if controlPlanePort == 0 {
		controlPlanePort = 3000
	}

	var env []string
	env = append(env, fmt.Sprintf("SANDBOX_ID=%s", sandboxID))
	env = append(env, fmt.Sprintf("SANDBOX_CONTROL_PLANE_PORT=%d", controlPlanePort))
	if opts.SharedSecret != "" {
		env = append(env, fmt.Sprintf("SANDBOXKIT_SECRET=%s", hashSecret(opts.SharedSecret)))
	}
	if opts.WorkspacePath != "" {
		env = append(env, fmt.Sprintf("WORKSPACE_SOURCE=%s", opts.WorkspacePath))
	}
	if p.egressPort != 0 {
		proxyURL := fmt.Sprintf("http://host.docker.internal:%d", p.egressPort)
		env = append(env, fmt.Sprintf("HTTP_PROXY=%s", proxyURL), fmt.Sprintf("HTTPS_PROXY=%s", proxyURL))
	}

	containerConfig := &containerTypes.Config{
		Image:    image,
		Env:      env,
		Labels:   labels,
		Hostname: "sandbox",
	}

	hostConfig := &containerTypes.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeVolume, Source: dataVolName, Target: dataVolumePath},
		},
	}

	if opts.Resources.MemoryMB > 0 {
		hostConfig.Memory = int64(opts.Resources.MemoryMB) * 1024 * 1024
	}
	if opts.Resources.CPUCores > 0 {
		hostConfig.NanoCPUs = int64(opts.Resources.CPUCores * 1e9)
	}

	if opts.WorkspacePath != "" && isLocalPath(opts.WorkspacePath) {
		sourcePath := opts.WorkspacePath
		if !filepath.IsAbs(sourcePath) {
			abs, err := filepath.Abs(sourcePath)
			if err != nil {
				return nil, fmt.Errorf("%w: resolve workspace path: %v", sandbox.ErrStartFailed, err)
			}
			sourcePath = abs
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type: mount.TypeBind, Source: sourcePath, Target: workspacePath,
		})
	}

	if p.cfg.Network != "" {
		hostConfig.NetworkMode = containerTypes.NetworkMode(p.cfg.Network)
	}
	if p.egressPort != 0 {
		hostConfig.ExtraHosts = []string{"host.docker.internal:host-gateway"}
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", controlPlanePort))
	containerConfig.ExposedPorts = nat.PortSet{port: struct{}{}}
	hostConfig.PortBindings = nat.PortMap{
		port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}},
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrStartFailed, err)
	}

	p.containerIDsMu.Lock()
	p.containerIDs[sandboxID] = resp.ID
	p.containerIDsMu.Unlock()

	return &sandbox.Sandbox{
		ID:        resp.ID,
		Status:    sandbox.StatusCreated,
		Image:     image,
		CreatedAt: time.Now(),
		Metadata:  map[string]string{"name": name},
	}, nil
}

func isLocalPath(workspacePath string) bool {
	return !strings.Contains(workspacePath, "://")
}

// hashSecret produces a "salt:hash" SHA-256 digest of secret; the raw
// value is never written to the container's environment.
func hashSecret(secret string) string {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(secret))
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(h.Sum(nil))
}

// VerifySecret reports whether plaintext matches a "salt:hash" digest
// produced by hashSecret.
func VerifySecret(plaintext, hashedSecret string) bool {
	parts := strings.SplitN(hashedSecret, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil)) == parts[1]
}

func (p *Provider) Start(ctx context.Context, sandboxID string) error {
	containerID, err := p.getContainerID(ctx, sandboxID)
	if err != nil {
		return err
	}
	if err := p.client.ContainerStart(ctx, containerID, containerTypes.StartOptions{}); err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrStartFailed, err)
	}
	return nil
}

func (p *Provider) Stop(ctx context.Context, sandboxID string, timeout time.Duration) error {
	containerID, err := p.getContainerID(ctx, sandboxID)
	if err != nil {
		return err
	}
	seconds := int(timeout.Seconds())
	if err := p.client.ContainerStop(ctx, containerID, containerTypes.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("docker: stop: %w", err)
	}
	return nil
}

func (p *Provider) Remove(ctx context.Context, sandboxID string, opts sandbox.RemoveOptions) error {
	containerID, err := p.getContainerID(ctx, sandboxID)
	if err != nil {
		if err != sandbox.ErrNotFound {
			return err
		}
		containerID = ""
	}

	if containerID != "" {
		if !opts.Force {
			info, err := p.client.ContainerInspect(ctx, containerID)
			if err == nil && info.State != nil && info.State.Running {
				return sandbox.ErrAlreadyRunning
			}
		}
		if err := p.client.ContainerRemove(ctx, containerID, containerTypes.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			return fmt.Errorf("docker: remove container: %w", err)
		}
		p.clearContainerID(sandboxID)
	}

	dataVolName := volumeName(sandboxID)
	if err := p.client.VolumeRemove(ctx, dataVolName, true); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("docker: remove data volume %s: %w", dataVolName, err)
	}
	return nil
}

func (p *Provider) Get(ctx context.Context, sandboxID string) (*sandbox.Sandbox, error) {
	containerID, err := p.getContainerID(ctx, sandboxID)
	if err != nil {
		return nil, err
	}

	info, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			p.clearContainerID(sandboxID)
			return nil, sandbox.ErrNotFound
		}
		return nil, fmt.Errorf("docker: inspect: %w", err)
	}

	s := &sandbox.Sandbox{
		ID:       info.ID,
		Image:    info.Config.Image,
		Metadata: map[string]string{"name": info.Name},
	}
	if created, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
		s.CreatedAt = created
	}

	switch {
	case info.State.Running:
		s.Status = sandbox.StatusRunning
		if started, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			s.StartedAt = &started
		}
	case info.State.Dead || info.State.OOMKilled:
		s.Status = sandbox.StatusFailed
		s.Error = info.State.Error
	case info.State.ExitCode == 137 || info.State.ExitCode == 143:
		s.Status = sandbox.StatusStopped
		if stopped, err := time.Parse(time.RFC3339Nano, info.State.FinishedAt); err == nil {
			s.StoppedAt = &stopped
		}
	case info.State.ExitCode != 0:
		s.Status = sandbox.StatusFailed
		s.Error = fmt.Sprintf("exited with code %d", info.State.ExitCode)
	case info.State.FinishedAt != "" && info.State.FinishedAt != "0001-01-01T00:00:00Z":
		s.Status = sandbox.StatusStopped
	default:
		s.Status = sandbox.StatusCreated
	}

	s.ControlPlanePort = p.extractControlPlanePort(info.NetworkSettings)
	s.Env = extractEnv(info.Config.Env)
	return s, nil
}

func (p *Provider) extractControlPlanePort(settings *containerTypes.NetworkSettings) sandbox.AssignedPort {
	if settings == nil {
		return sandbox.AssignedPort{}
	}
	for containerPort, bindings := range settings.Ports {
		for _, binding := range bindings {
			hostPort, _ := strconv.Atoi(binding.HostPort)
			return sandbox.AssignedPort{
				ContainerPort: containerPort.Int(),
				HostPort:      hostPort,
				HostIP:        binding.HostIP,
				Protocol:      containerPort.Proto(),
			}
		}
	}
	return sandbox.AssignedPort{}
}

func extractEnv(envSlice []string) map[string]string {
	env := make(map[string]string)
	for _, e := range envSlice {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}
	return env
}

func (p *Provider) GetSecret(ctx context.Context, sandboxID string) (string, error) {
	containerID, err := p.getContainerID(ctx, sandboxID)
	if err != nil {
		return "", err
	}
	info, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			p.clearContainerID(sandboxID)
			return "", sandbox.ErrNotFound
		}
		return "", fmt.Errorf("docker: inspect: %w", err)
	}
	secret, ok := info.Config.Labels[labelSecret]
	if !ok || secret == "" {
		return "", fmt.Errorf("shared secret not found for sandbox %s", sandboxID)
	}
	return secret, nil
}

func (p *Provider) List(ctx context.Context) ([]*sandbox.Sandbox, error) {
	containers, err := p.client.ContainerList(ctx, containerTypes.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("docker: list: %w", err)
	}

	result := make([]*sandbox.Sandbox, 0, len(containers))
	for _, c := range containers {
		sandboxID := c.Labels[labelSandboxID]
		if sandboxID == "" {
			continue
		}
		s, err := p.Get(ctx, sandboxID)
		if err != nil {
			continue
		}
		result = append(result, s)
	}
	return result, nil
}

func (p *Provider) Exec(ctx context.Context, sandboxID string, cmd []string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	containerID, err := p.getContainerID(ctx, sandboxID)
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	execCreate, err := p.client.ContainerExecCreate(ctx, containerID, containerTypes.ExecOptions{
		Cmd: cmd, AttachStdout: true, AttachStderr: true, Env: env, WorkingDir: opts.WorkDir, User: opts.User,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrExecFailed, err)
	}

	resp, err := p.client.ContainerExecAttach(ctx, execCreate.ID, containerTypes.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrExecFailed, err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrExecFailed, err)
	}

	inspect, err := p.client.ContainerExecInspect(ctx, execCreate.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrExecFailed, err)
	}

	return &sandbox.ExecResult{ExitCode: inspect.ExitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// detectShell tries $SHELL, then /bin/bash, then /bin/sh.
func (p *Provider) detectShell(ctx context.Context, containerID string) []string {
	detectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	execCreate, err := p.client.ContainerExecCreate(detectCtx, containerID, containerTypes.ExecOptions{
		Cmd: []string{"sh", "-c", "echo $SHELL"}, AttachStdout: true, AttachStderr: true,
	})
	if err == nil {
		resp, err := p.client.ContainerExecAttach(detectCtx, execCreate.ID, containerTypes.ExecStartOptions{})
		if err == nil {
			var stdout, stderr bytes.Buffer
			_, _ = stdcopy.StdCopy(&stdout, &stderr, resp.Reader)
			resp.Close()
			if shell := strings.TrimSpace(stdout.String()); shell != "" && shell != "$SHELL" && p.shellExists(detectCtx, containerID, shell) {
				return []string{shell}
			}
		}
	}

	if p.shellExists(detectCtx, containerID, "/bin/bash") {
		return []string{"/bin/bash"}
	}
	return []string{"/bin/sh"}
}

func (p *Provider) shellExists(ctx context.Context, containerID, shell string) bool {
	execCreate, err := p.client.ContainerExecCreate(ctx, containerID, containerTypes.ExecOptions{
		Cmd: []string{"test", "-x", shell}, AttachStdout: true, AttachStderr: true,
	})
	if err != nil {
		return false
	}
	resp, err := p.client.ContainerExecAttach(ctx, execCreate.ID, containerTypes.ExecStartOptions{})
	if err != nil {
		return false
	}
	defer resp.Close()
	_, _ = io.Copy(io.Discard, resp.Reader)

	inspect, err := p.client.ContainerExecInspect(ctx, execCreate.ID)
	return err == nil && inspect.ExitCode == 0
}

func (p *Provider) Attach(ctx context.Context, sandboxID string, opts sandbox.AttachOptions) (sandbox.PTY, error) {
	containerID, err := p.getContainerID(ctx, sandboxID)
	if err != nil {
		return nil, err
	}

	cmd := opts.Cmd
	if len(cmd) == 0 {
		cmd = p.detectShell(ctx, containerID)
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	execCreate, err := p.client.ContainerExecCreate(ctx, containerID, containerTypes.ExecOptions{
		Cmd: cmd, AttachStdin: true, AttachStdout: true, AttachStderr: true, Tty: true, Env: env,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrAttachFailed, err)
	}

	resp, err := p.client.ContainerExecAttach(ctx, execCreate.ID, containerTypes.ExecStartOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrAttachFailed, err)
	}

	if opts.Rows > 0 && opts.Cols > 0 {
		_ = p.client.ContainerExecResize(ctx, execCreate.ID, containerTypes.ResizeOptions{
			Height: uint(opts.Rows), Width: uint(opts.Cols),
		})
	}

	return &pty{client: p.client, execID: execCreate.ID, conn: resp.Conn, reader: resp.Reader}, nil
}

func (p *Provider) getContainerID(ctx context.Context, sandboxID string) (string, error) {
	p.containerIDsMu.RLock()
	containerID, ok := p.containerIDs[sandboxID]
	p.containerIDsMu.RUnlock()
	if ok {
		return containerID, nil
	}

	info, err := p.client.ContainerInspect(ctx, containerName(sandboxID))
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", sandbox.ErrNotFound
		}
		return "", fmt.Errorf("docker: inspect: %w", err)
	}

	p.containerIDsMu.Lock()
	p.containerIDs[sandboxID] = info.ID
	p.containerIDsMu.Unlock()
	return info.ID, nil
}

func (p *Provider) clearContainerID(sandboxID string) {
	p.containerIDsMu.Lock()
	delete(p.containerIDs, sandboxID)
	p.containerIDsMu.Unlock()
}

// HTTPClient returns a client whose transport always dials the
// sandbox's mapped control-plane port, ignoring whatever host/port
// appears in the request URL.
func (p *Provider) HTTPClient(ctx context.Context, sandboxID string) (*http.Client, error) {
	addr, err := p.ControlPlaneAddr(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	return &http.Client{Transport: transport}, nil
}

func (p *Provider) ControlPlaneAddr(ctx context.Context, sandboxID string) (string, error) {
	s, err := p.Get(ctx, sandboxID)
	if err != nil {
		return "", err
	}
	if s.Status != sandbox.StatusRunning {
		return "", fmt.Errorf("sandbox is not running: %s", s.Status)
	}
	if s.ControlPlanePort.HostPort == 0 {
		return "", fmt.Errorf("sandbox does not expose a control-plane port")
	}
	hostIP := s.ControlPlanePort.HostIP
	if hostIP == "" || hostIP == "0.0.0.0" {
		hostIP = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", hostIP, s.ControlPlanePort.HostPort), nil
}

// Watch streams lifecycle events for sandboxID by filtering the
// Docker event stream to containers labelled with this sandbox id, with
// automatic reconnection.
func (p *Provider) Watch(ctx context.Context, sandboxID string) (<-chan sandbox.StateEvent, error) {
	eventCh := make(chan sandbox.StateEvent, 16)

	go func() {
		defer close(eventCh)

		if s, err := p.Get(ctx, sandboxID); err == nil {
			select {
			case <-ctx.Done():
				return
			case eventCh <- sandbox.StateEvent{SandboxID: sandboxID, Status: s.Status, Error: s.Error, At: time.Now()}:
			}
		}

		filterArgs := filters.NewArgs(
			filters.Arg("type", string(events.ContainerEventType)),
			filters.Arg("label", fmt.Sprintf("%s=%s", labelSandboxID, sandboxID)),
		)
		p.watchDockerEvents(ctx, sandboxID, eventCh, filterArgs)
	}()

	return eventCh, nil
}

func (p *Provider) watchDockerEvents(ctx context.Context, sandboxID string, eventCh chan<- sandbox.StateEvent, filterArgs filters.Args) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgCh, errCh := p.client.Events(ctx, events.ListOptions{Filters: filterArgs})
		if !p.processDockerEvents(ctx, sandboxID, eventCh, msgCh, errCh) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
			p.log.Warnw("reconnecting to docker events", "sandboxId", sandboxID)
		}
	}
}

func (p *Provider) processDockerEvents(ctx context.Context, sandboxID string, eventCh chan<- sandbox.StateEvent, msgCh <-chan events.Message, errCh <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-errCh:
			if err == nil {
				return true
			}
			if ctx.Err() != nil {
				return false
			}
			p.log.Warnw("docker event stream error", "error", err)
			return true
		case msg := <-msgCh:
			if event := translateDockerEvent(sandboxID, msg); event != nil {
				select {
				case <-ctx.Done():
					return false
				case eventCh <- *event:
				}
			}
		}
	}
}

func translateDockerEvent(sandboxID string, msg events.Message) *sandbox.StateEvent {
	var status sandbox.SandboxStatus
	var errMsg string

	switch msg.Action {
	case "create":
		status = sandbox.StatusCreated
	case "start":
		status = sandbox.StatusRunning
	case "stop", "kill":
		status = sandbox.StatusStopped
	case "die":
		exitCode := msg.Actor.Attributes["exitCode"]
		if exitCode == "137" || exitCode == "143" || exitCode == "0" {
			status = sandbox.StatusStopped
		} else {
			status = sandbox.StatusFailed
			errMsg = fmt.Sprintf("container died with exit code %s", exitCode)
		}
	case "oom":
		status = sandbox.StatusFailed
		errMsg = "out of memory"
	default:
		return nil
	}

	return &sandbox.StateEvent{SandboxID: sandboxID, Status: status, Error: errMsg, At: time.Unix(msg.Time, msg.TimeNano)}
}

// Close releases the underlying Docker client connection.
func (p *Provider) Close() error {
	if p.egressServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.egressServer.Shutdown(shutdownCtx); err != nil {
			p.log.Warnw("docker: egress proxy shutdown failed", "error", err)
		}
	}
	return p.client.Close()
}

// EgressProxyStats returns the egress cache's activity counters, or the
// zero value if no egress proxy is configured.
func (p *Provider) EgressProxyStats() egressproxy.CacheStats {
	if p.egressProxy == nil {
		return egressproxy.CacheStats{}
	}
	return p.egressProxy.Stats()
}
