package controlplane

import "context"

// GitCheckoutOptions configures GitCheckout.
type GitCheckoutOptions struct {
	Branch    string
	TargetDir string
	Depth     int
}

type gitCheckoutRequest struct {
	RepoURL   string `json:"repoUrl"`
	Branch    string `json:"branch,omitempty"`
	TargetDir string `json:"targetDir,omitempty"`
	Depth     int    `json:"depth,omitempty"`
	SessionID string `json:"sessionId"`
}

// GitCheckoutResult is the outcome of a successful GitCheckout.
type GitCheckoutResult struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exitCode"`
	TargetDir string `json:"targetDir"`
}

// GitCheckout clones repoURL into opts.TargetDir (or a directory derived
// from the repo name). The URL is revalidated in-container even though
// the client façade also validates it locally.
func (cp *Instance) GitCheckout(ctx context.Context, repoURL string, opts GitCheckoutOptions) (*GitCheckoutResult, error) {
	sessionID, err := cp.defaultSession(ctx)
	if err != nil {
		return nil, err
	}
	var result GitCheckoutResult
	err = cp.doJSON(ctx, "POST", "/api/git/checkout", gitCheckoutRequest{
		RepoURL: repoURL, Branch: opts.Branch, TargetDir: opts.TargetDir, Depth: opts.Depth, SessionID: sessionID,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
