package client

import "context"

// PortsClient manages the sandbox's exposed ports and preview tokens.
type PortsClient struct{ c *Client }

// Expose calls the container's port-expose endpoint and returns the
// constructed preview URL alongside the issued token.
func (pc *PortsClient) Expose(ctx context.Context, port int, name string) (*ExposedPort, error) {
	exposed, err := pc.c.cp.ExposePort(ctx, port, name)
	if err != nil {
		return nil, err
	}
	return (*ExposedPort)(exposed), nil
}

// Unexpose removes port from the exposed set, invalidating its token.
func (pc *PortsClient) Unexpose(ctx context.Context, port int) error {
	return pc.c.cp.UnexposePort(ctx, port)
}

// List returns every currently exposed port, without tokens.
func (pc *PortsClient) List(ctx context.Context) ([]PortInfo, error) {
	infos, err := pc.c.cp.GetExposedPorts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PortInfo, len(infos))
	for i, info := range infos {
		out[i] = PortInfo(info)
	}
	return out, nil
}

// ValidateToken reports whether token authenticates a preview request
// for port, using the control plane's in-memory token cache.
func (pc *PortsClient) ValidateToken(port int, token string) bool {
	return pc.c.cp.ValidatePortToken(port, token)
}
