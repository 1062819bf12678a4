package client

import (
	"context"
	"strings"

	"github.com/sandboxkit/sandboxkit/internal/clienterr"
	"github.com/sandboxkit/sandboxkit/internal/controlplane"
)

// GitClient clones source repositories into the sandbox workspace.
type GitClient struct{ c *Client }

// Checkout validates repoURL against the façade's own allowlist before
// issuing the RPC, then clones it into opts.TargetDir (or a directory
// derived from the repo name). The container revalidates independently.
func (gc *GitClient) Checkout(ctx context.Context, repoURL string, opts controlplane.GitCheckoutOptions) (*controlplane.GitCheckoutResult, error) {
	if v := gc.c.ValidateGitURLLocally(repoURL); !v.OK {
		return nil, &clienterr.Error{Code: clienterr.InvalidGitURL, Message: strings.Join(v.Errors, "; ")}
	}
	return gc.c.cp.GitCheckout(ctx, repoURL, opts)
}
