// Package storage manages the scratch space of audiobook runs and the
// publication of finished audiobooks. Local disk is always used for scratch
// files; S3 is an optional destination for the final file.
package storage

import (
	"context"
	"io"
)

// Storage defines scratch and publication operations used by a run.
type Storage interface {
	// ScratchDir creates a private working directory for one run and
	// returns its path. The run removes it with Cleanup when it ends.
	ScratchDir(ctx context.Context, runID string) (dir string, err error)

	// SaveTemp writes data to a new file inside dir and returns its path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, dir, name string, data io.Reader) (path string, err error)

	// Cleanup removes the given files or directories. It continues even if
	// some paths fail to delete.
	Cleanup(ctx context.Context, paths []string) error

	// Publish uploads the finished audiobook at path under key and returns
	// its URL. Returns ErrS3NotConfigured if no remote store is configured.
	Publish(ctx context.Context, key, path string) (url string, err error)
}
