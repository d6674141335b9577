package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// LocalStorage implements Storage on local disk. It keeps per-run scratch
// directories below a configurable root and does not publish anywhere unless
// wrapped with S3Storage.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If tempDir is empty, a directory below os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "audiobook-builder")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the scratch root.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// ScratchDir creates a unique directory for runID below the scratch root.
func (s *LocalStorage) ScratchDir(ctx context.Context, runID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	prefix := unsafeName.ReplaceAllString(runID, "_")
	if prefix == "" {
		prefix = "run"
	}
	dir, err := os.MkdirTemp(s.tempDir, prefix+"_*")
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, nil
}

// SaveTemp saves data to a new file in dir and returns the file path.
// An empty dir means the scratch root.
func (s *LocalStorage) SaveTemp(ctx context.Context, dir, name string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}
	if dir == "" {
		dir = s.tempDir
	}

	f, err := os.CreateTemp(dir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// Cleanup removes files and directories recursively. Cleanup runs even after
// the run's context is cancelled, so ctx is not consulted. All failures are
// joined into the returned error.
func (s *LocalStorage) Cleanup(_ context.Context, paths []string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Publish is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) Publish(_ context.Context, _, _ string) (string, error) {
	return "", ErrS3NotConfigured
}
