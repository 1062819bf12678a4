package client

import "context"

// FilesClient manipulates the sandbox's restricted file tree.
type FilesClient struct{ c *Client }

// Write writes content (UTF-8 text) to path, creating parent
// directories as needed, and returns the number of bytes written.
func (fc *FilesClient) Write(ctx context.Context, path, content string) (int, error) {
	return fc.c.cp.WriteFile(ctx, path, content)
}

// Read returns the UTF-8 contents of path.
func (fc *FilesClient) Read(ctx context.Context, path string) (string, error) {
	return fc.c.cp.ReadFile(ctx, path)
}

// Delete removes path (recursively, if it is a directory).
func (fc *FilesClient) Delete(ctx context.Context, path string) error {
	return fc.c.cp.DeleteFile(ctx, path)
}

// Mkdir creates path, optionally creating parent directories too.
func (fc *FilesClient) Mkdir(ctx context.Context, path string, recursive bool) error {
	return fc.c.cp.Mkdir(ctx, path, recursive)
}

// Rename moves oldPath to newPath within the sandbox workspace.
func (fc *FilesClient) Rename(ctx context.Context, oldPath, newPath string) error {
	return fc.c.cp.RenameFile(ctx, oldPath, newPath)
}

// Move moves sourcePath to targetPath within the sandbox workspace.
func (fc *FilesClient) Move(ctx context.Context, sourcePath, targetPath string) error {
	return fc.c.cp.MoveFile(ctx, sourcePath, targetPath)
}
