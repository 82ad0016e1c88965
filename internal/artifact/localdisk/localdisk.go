// Package localdisk implements the artifact durability floor: a plain
// directory on the local filesystem.
package localdisk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftline/driftline/internal/artifact"
	"github.com/driftline/driftline/internal/errclass"
)

// BackendName identifies this backend in configuration and results.
const BackendName = "localdisk"

// Backend stores artifacts under a root directory.
type Backend struct {
	root string
}

// New creates a local-disk backend rooted at dir.
func New(dir string) (*Backend, error) {
	if dir == "" {
		return nil, fmt.Errorf("local artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errclass.LocalIO(fmt.Errorf("creating artifact directory: %w", err))
	}
	return &Backend{root: dir}, nil
}

func (b *Backend) Name() string { return BackendName }

// Upload writes the artifact with a write-rename so a crash never leaves
// a truncated file behind.
func (b *Backend) Upload(ctx context.Context, key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.root, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errclass.LocalIO(fmt.Errorf("creating temp artifact: %w", err))
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errclass.LocalIO(fmt.Errorf("writing artifact: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errclass.LocalIO(fmt.Errorf("closing artifact: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errclass.LocalIO(fmt.Errorf("renaming artifact: %w", err))
	}
	return nil
}

func (b *Backend) Fetch(ctx context.Context, key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - path is sanitized against the root
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
	}
	if err != nil {
		return nil, errclass.LocalIO(fmt.Errorf("reading artifact: %w", err))
	}
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
	}
	if err != nil {
		return errclass.LocalIO(fmt.Errorf("removing artifact: %w", err))
	}
	return nil
}

// path maps a key onto the root, rejecting traversal outside it.
func (b *Backend) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("artifact key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errclass.Backend(errclass.Permanent, fmt.Errorf("invalid artifact key %q", key))
	}
	full := filepath.Join(b.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errclass.LocalIO(fmt.Errorf("creating artifact subdirectory: %w", err))
	}
	return full, nil
}
