package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// dirStore implements Store on a single directory
type dirStore struct {
	mu sync.Mutex

	dir string

	// paths handed out and not yet removed
	live map[string]struct{}
}

// NewDirStore creates the directory if needed and returns a store on it
func NewDirStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &dirStore{
		dir:  abs,
		live: make(map[string]struct{}),
	}, nil
}

func (d *dirStore) Dir() string {
	return d.dir
}

// NewPath returns <dir>/<uuid><ext>
func (d *dirStore) NewPath(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	path := filepath.Join(d.dir, uuid.NewString()+ext)

	d.mu.Lock()
	d.live[path] = struct{}{}
	d.mu.Unlock()

	return path
}

// Remove deletes a file and stops tracking it
func (d *dirStore) Remove(path string) error {
	d.mu.Lock()
	delete(d.live, path)
	d.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep removes stale files left behind by crashed workflows. Paths still
// owned by a running workflow are skipped regardless of age.
func (d *dirStore) Sweep(maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed []string

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(d.dir, entry.Name())
		if _, owned := d.live[path]; owned {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}

	return removed, nil
}
