// Package vz would provide a macOS Virtualization.framework-based
// sandbox.Provider. This stub file is used on non-darwin platforms,
// where the vz library is unavailable, so the package still compiles
// everywhere in a build that conditionally wires a vz Provider by
// platform.
//go:build !darwin

package vz

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/sandbox"
)

// Config holds vz-specific configuration.
type Config struct {
	DataDir      string
	KernelPath   string
	InitrdPath   string
	BaseDiskPath string
}

// Provider is a stub that returns an error on non-darwin platforms.
type Provider struct{}

// NewProvider returns an error on non-darwin platforms.
func NewProvider(cfg Config) (*Provider, error) {
	return nil, fmt.Errorf("vz sandbox provider is only available on macOS (darwin), current platform: %s", runtime.GOOS)
}

func (p *Provider) ImageExists(ctx context.Context) bool { return false }
func (p *Provider) Image() string                        { return "" }

func (p *Provider) Create(ctx context.Context, sandboxID string, opts sandbox.CreateOptions) (*sandbox.Sandbox, error) {
	return nil, fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) Start(ctx context.Context, sandboxID string) error {
	return fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) Stop(ctx context.Context, sandboxID string, timeout time.Duration) error {
	return fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) Remove(ctx context.Context, sandboxID string, opts sandbox.RemoveOptions) error {
	return fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) Get(ctx context.Context, sandboxID string) (*sandbox.Sandbox, error) {
	return nil, fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) GetSecret(ctx context.Context, sandboxID string) (string, error) {
	return "", fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) List(ctx context.Context) ([]*sandbox.Sandbox, error) {
	return nil, fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) Exec(ctx context.Context, sandboxID string, cmd []string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	return nil, fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) Attach(ctx context.Context, sandboxID string, opts sandbox.AttachOptions) (sandbox.PTY, error) {
	return nil, fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) HTTPClient(ctx context.Context, sandboxID string) (*http.Client, error) {
	return nil, fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) ControlPlaneAddr(ctx context.Context, sandboxID string) (string, error) {
	return "", fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) Watch(ctx context.Context, sandboxID string) (<-chan sandbox.StateEvent, error) {
	return nil, fmt.Errorf("vz sandbox provider is only available on macOS")
}

func (p *Provider) Close() error { return nil }
