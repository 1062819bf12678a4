// Package config loads the environment-driven settings shared by the
// control-plane and container-agent binaries: image/runtime selection,
// the control-plane port, idle/sleep timing, and the on-disk data
// directory used by the control plane's own bookkeeping store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"

	"github.com/sandboxkit/sandboxkit/internal/security"
)

// DefaultControlPlanePort is used when SANDBOX_CONTROL_PLANE_PORT is unset.
const DefaultControlPlanePort = 3000

// DefaultSleepAfter is how long a sandbox may sit idle before the
// control plane stops its container.
const DefaultSleepAfter = 3 * time.Minute

// Config holds every environment-sourced setting this module reads.
// Zero value is not valid for direct use; construct with Load.
type Config struct {
	// SandboxImage is the container image used for new sandboxes.
	SandboxImage string
	// DockerHost overrides the Docker Engine API endpoint; empty uses
	// the client library's own default resolution (DOCKER_HOST, etc).
	DockerHost string
	// DockerNetwork attaches sandbox containers to a named network
	// instead of the Docker default bridge.
	DockerNetwork string
	// DataDir is where the control plane keeps its own bookkeeping
	// (internal/store), independent of any sandbox's container
	// filesystem.
	DataDir string

	// ControlPlanePort is the in-container port the control plane
	// dials to reach the container's HTTP+SSE service.
	ControlPlanePort int
	// SleepAfter bounds sandbox idle time before the container stops.
	SleepAfter time.Duration
	// KeepAlive disables the idle-sleep timer entirely when true.
	KeepAlive bool

	// Hostname is the outward hostname used to build preview URLs when
	// the control plane cannot infer one from the inbound request.
	Hostname string
	// DevWildcardSuffixes are hostname suffixes (e.g. "workers.dev")
	// for which preview subdomain routing is unavailable; exposePort
	// rejects these with CUSTOM_DOMAIN_REQUIRED.
	DevWildcardSuffixes []string

	// AllowedGitHosts restricts git checkout targets; empty disables
	// host allowlisting (scheme + metacharacter checks still apply).
	AllowedGitHosts []string

	// EgressProxyEnabled starts a host-side forward proxy every sandbox
	// container's outbound traffic is routed through.
	EgressProxyEnabled bool
	// EgressAllowedHosts restricts destinations reachable through the
	// egress proxy; empty allows any host once the proxy is enabled.
	EgressAllowedHosts []string
	// EgressCacheDir holds the egress proxy's on-disk blob cache; empty
	// disables caching even when the proxy itself is enabled.
	EgressCacheDir string
	// EgressCacheMaxBytes bounds the on-disk cache size.
	EgressCacheMaxBytes int64

	// SharedSecretEnv is the environment variable name the container
	// reads its shared-secret handshake value from.
	SharedSecretEnv string

	// DatabaseURL selects the control plane's bookkeeping store. A
	// "postgres://" DSN opens Postgres; anything else is treated as a
	// sqlite file path, defaulting to one under DataDir.
	DatabaseURL string
}

// Load reads configuration from the process environment, first loading
// a local .env file (if present) the way this module's cmd binaries do
// for local development. Missing optional variables fall back to their
// documented defaults; SANDBOX_CONTROL_PLANE_PORT, if set, must be a
// valid user port.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		SandboxImage:    getenv("SANDBOX_IMAGE", "sandboxkit/sandbox:latest"),
		DockerHost:      os.Getenv("DOCKER_HOST"),
		DockerNetwork:   os.Getenv("SANDBOX_DOCKER_NETWORK"),
		SleepAfter:      DefaultSleepAfter,
		Hostname:        os.Getenv("SANDBOX_HOSTNAME"),
		SharedSecretEnv: "SANDBOXKIT_SECRET",
		DevWildcardSuffixes: splitNonEmpty(getenv("SANDBOX_DEV_WILDCARD_SUFFIXES",
			"workers.dev")),
		AllowedGitHosts: splitNonEmpty(os.Getenv("SANDBOX_ALLOWED_GIT_HOSTS")),

		EgressAllowedHosts: splitNonEmpty(os.Getenv("SANDBOX_EGRESS_ALLOWED_HOSTS")),
		EgressCacheDir:     os.Getenv("SANDBOX_EGRESS_CACHE_DIR"),
	}
	cfg.EgressProxyEnabled, _ = strconv.ParseBool(getenv("SANDBOX_EGRESS_PROXY_ENABLED", "false"))

	dataDir, err := xdg.DataFile("sandboxkit/data")
	if err != nil {
		return Config{}, fmt.Errorf("config: resolving data dir: %w", err)
	}
	cfg.DataDir = getenv("SANDBOX_DATA_DIR", dataDir)
	cfg.DatabaseURL = getenv("SANDBOX_DATABASE_URL", "")

	port := DefaultControlPlanePort
	if raw := os.Getenv("SANDBOX_CONTROL_PLANE_PORT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: SANDBOX_CONTROL_PLANE_PORT: %w", err)
		}
		// The control plane's own port is exempt from the "must not
		// equal controlPlanePort" rule ValidatePort enforces on
		// caller-exposed ports; it only needs to be a plausible port
		// number on its own terms.
		if !security.ValidatePort(n, -1) {
			return Config{}, fmt.Errorf("config: SANDBOX_CONTROL_PLANE_PORT %d is out of the valid user-port range", n)
		}
		port = n
	}
	cfg.ControlPlanePort = port

	if raw := os.Getenv("SANDBOX_SLEEP_AFTER"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: SANDBOX_SLEEP_AFTER: %w", err)
		}
		cfg.SleepAfter = d
	}
	if raw := os.Getenv("SANDBOX_KEEP_ALIVE"); raw != "" {
		cfg.KeepAlive, _ = strconv.ParseBool(raw)
	}

	cfg.EgressCacheMaxBytes = 1 << 30 // 1GiB
	if raw := os.Getenv("SANDBOX_EGRESS_CACHE_MAX_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: SANDBOX_EGRESS_CACHE_MAX_BYTES: %w", err)
		}
		cfg.EgressCacheMaxBytes = n
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
