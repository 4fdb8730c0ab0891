package storage

import (
	"time"
)

// Store hands out and reclaims temporary artifact paths. Every path returned
// by NewPath is unique and owned by the caller until Remove.
type Store interface {
	// NewPath returns a fresh, unused path with the given extension.
	NewPath(ext string) string
	// Remove deletes the file at path and forgets it. Missing files are not
	// an error.
	Remove(path string) error
	// Sweep deletes untracked files older than maxAge and returns their paths.
	Sweep(maxAge time.Duration) ([]string, error)
	// Dir is the directory holding the artifacts.
	Dir() string
}

// Options contains configuration options for storage
type Options struct {
	Type string // "dir" (only directory storage is supported)
	Dir  string // directory for temporary artifacts
}
