package pipeline

import (
	"fmt"

	"github.com/gofrs/flock"

	"textmill/internal/config"
)

// RunLock is the exclusive lock held by a run over one data directory.
// Maintenance commands that rewrite claims take it too.
type RunLock struct {
	lock *flock.Flock
}

// AcquireRunLock takes the run lock without blocking. It returns
// ErrAlreadyRunning when another process holds it.
func AcquireRunLock(cfg *config.Config) (*RunLock, error) {
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	return &RunLock{lock: lock}, nil
}

// Release unlocks the run lock.
func (l *RunLock) Release() error {
	return l.lock.Unlock()
}
