package client

import "time"

// PortInfo is an exposed port as returned to callers (no token). Its
// fields mirror controlplane.PortInfo so list results convert with a
// plain type conversion.
type PortInfo struct {
	Port      int       `json:"port"`
	Name      string    `json:"name,omitempty"`
	ExposedAt time.Time `json:"exposedAt"`
}

// ExposedPort is the result of PortsClient.Expose, including its
// preview URL. Its fields mirror controlplane.ExposedPort.
type ExposedPort struct {
	Port      int
	Name      string
	ExposedAt time.Time
	Token     string
	URL       string
}
