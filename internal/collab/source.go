// ABOUTME: Seed content sources for newly created sessions
// ABOUTME: DirSource reads <root>/<container>/<path> with traversal protection

package collab

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ContentSource supplies the initial content of a session. It is called
// without any lock held.
type ContentSource interface {
	Load(ctx context.Context, containerID, filePath string) (string, error)
}

// ContentSourceFunc adapts a function to ContentSource.
type ContentSourceFunc func(ctx context.Context, containerID, filePath string) (string, error)

// Load calls f.
func (f ContentSourceFunc) Load(ctx context.Context, containerID, filePath string) (string, error) {
	return f(ctx, containerID, filePath)
}

// errOutsideRoot is returned when a container or file path escapes the root.
var errOutsideRoot = errors.New("path escapes workspace root")

// DirSource seeds sessions from a directory laid out as <Root>/<containerID>/<filePath>.
// A missing file seeds an empty session.
type DirSource struct {
	Root     string
	MaxBytes int64
}

// Load reads the file if it exists.
func (d *DirSource) Load(ctx context.Context, containerID, filePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := d.resolve(containerID, filePath)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat seed file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("seed path %q is a directory", filePath)
	}
	if d.MaxBytes > 0 && info.Size() > d.MaxBytes {
		return "", fmt.Errorf("seed file %q is %d bytes, limit %d", filePath, info.Size(), d.MaxBytes)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("reading seed file: %w", err)
	}
	return string(data), nil
}

func (d *DirSource) resolve(containerID, filePath string) (string, error) {
	if containerID == "" || strings.ContainsAny(containerID, `/\`) || containerID == "." || containerID == ".." {
		return "", errOutsideRoot
	}
	root := filepath.Join(d.Root, containerID)
	full := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(filePath, "/")))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", errOutsideRoot
	}
	return full, nil
}
