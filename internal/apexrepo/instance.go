package apexrepo

import (
	"fmt"
	"sync"
)

var (
	instanceMu sync.Mutex
	instance   *Repository
)

// InitInstance creates the process-wide repository. It fails if one already
// exists.
func InitInstance(opts Options) (*Repository, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return nil, fmt.Errorf("apex repository already initialized")
	}
	instance = New(opts)
	return instance, nil
}

// Instance returns the process-wide repository, or nil before InitInstance.
func Instance() *Repository {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// ResetInstance drops the process-wide repository.
func ResetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}
