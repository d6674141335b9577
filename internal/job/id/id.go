// Package id provides unique identifier generation for jobs.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique job ID. IDs are UUIDv7, so they sort by
// creation time.
// Example: 01932c07-a7b4-7c3e-9f7a-2b1d4e5f6a7b
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random UUID if the clock source fails
		return uuid.NewString()
	}
	return u.String()
}

// Valid reports whether s is a well-formed job ID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
