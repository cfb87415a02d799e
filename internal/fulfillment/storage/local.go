package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/smallbiznis/paysettle/internal/config"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
)

// Local serves files from a directory on disk. Paths are always resolved
// inside root; ".." segments cannot escape it.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	return &Local{root: root}
}

func Provide(cfg config.Config) fulfillmentdomain.FileStore {
	return NewLocal(cfg.Fulfillment.StorageRoot)
}

func (l *Local) Stat(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	full, err := l.resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, notFound(path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s: %w", path, fulfillmentdomain.ErrFileNotFound)
	}
	return info.Size(), nil
}

func (l *Local) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, notFound(path, err)
	}
	return data, nil
}

func (l *Local) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("empty path: %w", fulfillmentdomain.ErrFileNotFound)
	}
	clean := filepath.Clean(string(filepath.Separator) + filepath.FromSlash(path))
	return filepath.Join(l.root, clean), nil
}

func notFound(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, fulfillmentdomain.ErrFileNotFound)
	}
	return err
}
