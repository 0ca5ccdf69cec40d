package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalAdapter implements Adapter on the local filesystem. Object keys map
// directly to paths under a base directory.
type LocalAdapter struct {
	basePath string
}

// NewLocalAdapter creates a new local filesystem adapter rooted at basePath.
func NewLocalAdapter(basePath string) (*LocalAdapter, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	return &LocalAdapter{basePath: basePath}, nil
}

// Put stores data at the given key
func (l *LocalAdapter) Put(ctx context.Context, key string, data io.Reader) error {
	fullPath := l.fullPath(key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// Get retrieves the object at the given key
func (l *LocalAdapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists checks whether an object exists at the given key
func (l *LocalAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

// List returns all object keys under the given prefix
func (l *LocalAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return keys, nil
}

// Close cleans up any resources
func (l *LocalAdapter) Close() error {
	return nil
}

func (l *LocalAdapter) fullPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}
