package controlplane

import "context"

type fileWriteRequest struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	SessionID string `json:"sessionId"`
}

type fileWriteResponse struct {
	BytesWritten int `json:"bytesWritten"`
}

// WriteFile writes content (as plain UTF-8 text) to path inside the
// sandbox workspace, creating parent directories as needed.
func (cp *Instance) WriteFile(ctx context.Context, path, content string) (int, error) {
	sessionID, err := cp.defaultSession(ctx)
	if err != nil {
		return 0, err
	}
	var resp fileWriteResponse
	if err := cp.doJSON(ctx, "POST", "/api/files/write", fileWriteRequest{Path: path, Content: content, SessionID: sessionID}, &resp); err != nil {
		return 0, err
	}
	return resp.BytesWritten, nil
}

type fileReadRequest struct {
	Path      string `json:"path"`
	SessionID string `json:"sessionId"`
}

type fileReadResponse struct {
	Content string `json:"content"`
	Size    int    `json:"size"`
}

// ReadFile returns the UTF-8 contents of path.
func (cp *Instance) ReadFile(ctx context.Context, path string) (string, error) {
	sessionID, err := cp.defaultSession(ctx)
	if err != nil {
		return "", err
	}
	var resp fileReadResponse
	if err := cp.doJSON(ctx, "POST", "/api/files/read", fileReadRequest{Path: path, SessionID: sessionID}, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

type filePathRequest struct {
	Path      string `json:"path"`
	SessionID string `json:"sessionId"`
}

// DeleteFile removes path (recursively, if it is a directory).
func (cp *Instance) DeleteFile(ctx context.Context, path string) error {
	sessionID, err := cp.defaultSession(ctx)
	if err != nil {
		return err
	}
	return cp.doJSON(ctx, "POST", "/api/files/delete", filePathRequest{Path: path, SessionID: sessionID}, nil)
}

type mkdirRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
	SessionID string `json:"sessionId"`
}

// Mkdir creates path, optionally creating parent directories too.
func (cp *Instance) Mkdir(ctx context.Context, path string, recursive bool) error {
	sessionID, err := cp.defaultSession(ctx)
	if err != nil {
		return err
	}
	return cp.doJSON(ctx, "POST", "/api/files/mkdir", mkdirRequest{Path: path, Recursive: recursive, SessionID: sessionID}, nil)
}

type moveRequest struct {
	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`
	SessionID  string `json:"sessionId"`
}

// RenameFile moves oldPath to newPath within the sandbox workspace.
func (cp *Instance) RenameFile(ctx context.Context, oldPath, newPath string) error {
	return cp.moveFile(ctx, "/api/files/rename", oldPath, newPath)
}

// MoveFile moves sourcePath to targetPath within the sandbox workspace.
func (cp *Instance) MoveFile(ctx context.Context, sourcePath, targetPath string) error {
	return cp.moveFile(ctx, "/api/files/move", sourcePath, targetPath)
}

func (cp *Instance) moveFile(ctx context.Context, path, source, target string) error {
	sessionID, err := cp.defaultSession(ctx)
	if err != nil {
		return err
	}
	return cp.doJSON(ctx, "POST", path, moveRequest{SourcePath: source, TargetPath: target, SessionID: sessionID}, nil)
}
