package storage

import (
	"fmt"
)

// NewStore creates a new store based on options
func NewStore(opts Options) (Store, error) {
	storageType := opts.Type
	if storageType == "" || storageType == "dir" {
		if opts.Dir == "" {
			return nil, fmt.Errorf("directory is required for dir storage")
		}
		return NewDirStore(opts.Dir)
	}
	return nil, fmt.Errorf("unsupported storage type: %s, only 'dir' storage is supported", storageType)
}
