// Package sandbox abstracts the container runtime that backs one
// control-plane instance. Every sandbox id maps to exactly one
// container, created lazily and addressed by the control plane purely
// through this interface; the container runtime itself (image supply,
// process isolation) is an external collaborator.
package sandbox

import (
	"context"
	"net/http"
	"time"
)

// Provider abstracts sandbox execution environments (Docker, and
// whatever else implements this interface). Each sandbox id gets one
// dedicated container.
type Provider interface {
	// ImageExists reports whether the configured sandbox image is
	// already available locally.
	ImageExists(ctx context.Context) bool

	// Image returns the configured sandbox image name.
	Image() string

	// Create creates a new sandbox for the given id. The sandbox is
	// created but not started. The in-container control-plane port is
	// always exposed and assigned a random host port. If the image
	// doesn't exist locally, it is pulled automatically.
	Create(ctx context.Context, sandboxID string, opts CreateOptions) (*Sandbox, error)

	// Start starts a previously created sandbox.
	Start(ctx context.Context, sandboxID string) error

	// Stop stops a running sandbox gracefully, force-killing after
	// timeout.
	Stop(ctx context.Context, sandboxID string, timeout time.Duration) error

	// Remove removes a sandbox and its resources. opts controls
	// whether a running sandbox is stopped first.
	Remove(ctx context.Context, sandboxID string, opts RemoveOptions) error

	// Get returns the current state of a sandbox.
	Get(ctx context.Context, sandboxID string) (*Sandbox, error)

	// GetSecret returns the shared secret used to authenticate requests
	// to the in-container service, as stored at creation.
	GetSecret(ctx context.Context, sandboxID string) (string, error)

	// List returns every sandbox this provider manages, in any status.
	List(ctx context.Context) ([]*Sandbox, error)

	// Exec runs a non-interactive command in the sandbox.
	Exec(ctx context.Context, sandboxID string, cmd []string, opts ExecOptions) (*ExecResult, error)

	// Attach creates an interactive PTY session to the sandbox.
	Attach(ctx context.Context, sandboxID string, opts AttachOptions) (PTY, error)

	// HTTPClient returns an http.Client wired to reach the sandbox's
	// control-plane port, however the runtime's transport works.
	HTTPClient(ctx context.Context, sandboxID string) (*http.Client, error)

	// ControlPlaneAddr returns the host:port the control plane should
	// dial to reach the container's control-plane port.
	ControlPlaneAddr(ctx context.Context, sandboxID string) (string, error)

	// Watch streams lifecycle state transitions for sandboxID until ctx
	// is canceled, letting callers react to container death without
	// polling Get on a timer.
	Watch(ctx context.Context, sandboxID string) (<-chan StateEvent, error)
}

// StateEvent is one lifecycle transition observed by Watch.
type StateEvent struct {
	SandboxID string
	Status    SandboxStatus
	Error     string
	At        time.Time
}

// Sandbox represents a running or stopped sandbox instance.
type Sandbox struct {
	ID               string
	Status           SandboxStatus
	Image            string
	CreatedAt        time.Time
	StartedAt        *time.Time
	StoppedAt        *time.Time
	Error            string
	Metadata         map[string]string
	ControlPlanePort AssignedPort
	Env              map[string]string
}

// AssignedPort is a host port mapping assigned after sandbox creation.
type AssignedPort struct {
	ContainerPort int
	HostPort      int
	HostIP        string
	Protocol      string
}

// SandboxStatus is the current lifecycle state of a sandbox.
type SandboxStatus string

const (
	StatusCreated SandboxStatus = "created"
	StatusRunning SandboxStatus = "running"
	StatusStopped SandboxStatus = "stopped"
	StatusFailed  SandboxStatus = "failed"
)

// CreateOptions configures sandbox creation. The sandbox image is
// configured globally on the provider, not per-sandbox.
type CreateOptions struct {
	Labels map[string]string

	// SharedSecret authenticates requests to the in-container service;
	// the provider makes a derived form available to the container via
	// environment, never the raw value.
	SharedSecret string

	// WorkspacePath is either a local directory (bind-mounted into the
	// container) or a git URL (left for the container's own git
	// checkout to resolve on first use).
	WorkspacePath string

	// ControlPlanePort is the in-container port the control plane
	// speaks HTTP+SSE to; always exposed as a random host port.
	ControlPlanePort int

	Resources ResourceConfig
}

// RemoveOptions controls sandbox teardown.
type RemoveOptions struct {
	// Force stops a running sandbox before removing it instead of
	// failing with ErrAlreadyRunning.
	Force bool
}

// ResourceConfig bounds a sandbox's resource usage.
type ResourceConfig struct {
	MemoryMB int
	CPUCores float64
	DiskMB   int
	Timeout  time.Duration
}

// ExecOptions configures non-interactive command execution.
type ExecOptions struct {
	WorkDir string
	Env     map[string]string
	User    string
}

// ExecResult contains the result of a non-interactive command execution.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// AttachOptions configures interactive PTY session creation.
type AttachOptions struct {
	Cmd  []string
	Rows int
	Cols int
	Env  map[string]string
}

// PTY represents an interactive terminal session to a sandbox.
type PTY interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Resize(ctx context.Context, rows, cols int) error
	Close() error
	Wait(ctx context.Context) (int, error)
}
