package dolt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edgefleet/c2d/internal/lockfile"
)

// AccessLock is an advisory flock on <parent of dolt dir>/dolt-access.lock.
// Shared locks allow concurrent readers; an exclusive lock means one writer.
type AccessLock struct {
	file *os.File
	path string
}

const (
	accessLockFile   = "dolt-access.lock"
	lockPollInterval = 50 * time.Millisecond
)

// AcquireAccessLock polls for the lock until timeout and then fails with an
// error wrapping lockfile.ErrLockBusy.
func AcquireAccessLock(doltDir string, exclusive bool, timeout time.Duration) (*AccessLock, error) {
	dir := filepath.Dir(doltDir)
	lockPath := filepath.Join(dir, accessLockFile)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	// #nosec G304 - path derived from the configured database path
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open access lock: %w", err)
	}

	lockFn := lockfile.FlockSharedNonBlock
	kind := "shared"
	if exclusive {
		lockFn = lockfile.FlockExclusiveNonBlock
		kind = "exclusive"
	}

	deadline := time.Now().Add(timeout)
	for {
		err := lockFn(f)
		if err == nil {
			return &AccessLock{file: f, path: lockPath}, nil
		}
		if !errors.Is(err, lockfile.ErrLockBusy) {
			_ = f.Close()
			return nil, fmt.Errorf("access lock: %w", err)
		}
		if !time.Now().Before(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("dolt access lock timeout (%s, %v): another c2d process is using the database: %w",
				kind, timeout, err)
		}
		time.Sleep(lockPollInterval)
	}
}

// Release drops the lock and closes the file. Safe on nil and when repeated.
func (l *AccessLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = lockfile.FlockUnlock(l.file)
	_ = l.file.Close()
	l.file = nil
}
