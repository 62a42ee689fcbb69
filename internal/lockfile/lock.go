// Package lockfile provides advisory file locks used to coordinate c2d
// processes that share one data directory.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLockBusy is returned when a non-blocking lock is held elsewhere.
var ErrLockBusy = errors.New("lock is held by another process")

// ServerLockFile is the name of the lock file `c2d serve` holds while running.
const ServerLockFile = "server.lock"

// LockInfo is written into the server lock file by its holder.
type LockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid,omitempty"`
	Database  string    `json:"database,omitempty"`
	Listen    string    `json:"listen,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// ServerLock is an exclusive lock on <dir>/server.lock.
type ServerLock struct {
	file *os.File
	path string
}

// AcquireServerLock takes the server lock in dir without blocking and records
// info in the lock file. When another process holds it the returned error
// wraps ErrLockBusy and names the holder's pid when known.
func AcquireServerLock(dir string, info LockInfo) (*ServerLock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, ServerLockFile)
	// #nosec G304 - path derived from the configured data directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open server lock: %w", err)
	}
	if err := FlockExclusiveNonBlock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			if held, rerr := ReadLockInfo(dir); rerr == nil && held.PID > 0 {
				return nil, fmt.Errorf("server already running (pid %d): %w", held.PID, err)
			}
		}
		return nil, fmt.Errorf("server lock: %w", err)
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.ParentPID == 0 {
		info.ParentPID = os.Getppid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(info)
	if err == nil {
		if err = f.Truncate(0); err == nil {
			if _, err = f.WriteAt(data, 0); err == nil {
				err = f.Sync()
			}
		}
	}
	if err != nil {
		_ = FlockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write server lock: %w", err)
	}
	return &ServerLock{file: f, path: path}, nil
}

// Path returns the lock file location.
func (l *ServerLock) Path() string {
	return l.path
}

// Release removes the lock file and drops the lock. Safe to call twice.
func (l *ServerLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = os.Remove(l.path)
	_ = FlockUnlock(l.file)
	_ = l.file.Close()
	l.file = nil
}

// ReadLockInfo parses <dir>/server.lock. A bare pid is accepted as well as JSON.
func ReadLockInfo(dir string) (*LockInfo, error) {
	// #nosec G304 - path derived from the configured data directory
	data, err := os.ReadFile(filepath.Join(dir, ServerLockFile))
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil {
		return &info, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid server lock format: %w", err)
	}
	return &LockInfo{PID: pid}, nil
}

// TryServerLock reports whether a server currently holds the lock in dir,
// and its pid when the lock file records one.
func TryServerLock(dir string) (running bool, pid int) {
	path := filepath.Join(dir, ServerLockFile)
	// #nosec G304 - path derived from the configured data directory
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false, 0
	}
	defer f.Close()

	if err := FlockSharedNonBlock(f); err == nil {
		_ = FlockUnlock(f)
		return false, 0
	}
	if info, err := ReadLockInfo(dir); err == nil {
		return true, info.PID
	}
	return true, 0
}
