package job

import (
	"context"
	"errors"
	"slices"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository defines the interface for persisting audiobook jobs.
// It acts as a port in the hexagonal architecture pattern.
type Repository interface {
	// Save persists a job to the storage.
	// If the job already exists, it should be updated.
	Save(ctx context.Context, job *Job) error

	// FindByID retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns jobs oldest first. When statuses are given, only jobs
	// in one of them are returned.
	List(ctx context.Context, statuses ...Status) ([]*Job, error)

	// Delete forgets a job. Its audiobook file is not touched.
	// Returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}

// matchStatus reports whether s passes a List status filter.
func matchStatus(s Status, statuses []Status) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}
