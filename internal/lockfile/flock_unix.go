//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

func flock(f *os.File, how int) error {
	err := unix.Flock(int(f.Fd()), how)
	if err == unix.EWOULDBLOCK {
		return ErrLockBusy
	}
	return err
}

// FlockSharedNonBlock acquires a shared non-blocking lock on the file.
// Returns ErrLockBusy if an exclusive lock is already held.
func FlockSharedNonBlock(f *os.File) error {
	return flock(f, unix.LOCK_SH|unix.LOCK_NB)
}

// FlockExclusiveNonBlock acquires an exclusive non-blocking lock on the file.
// Returns ErrLockBusy if any lock (shared or exclusive) is already held.
func FlockExclusiveNonBlock(f *os.File) error {
	return flock(f, unix.LOCK_EX|unix.LOCK_NB)
}

// FlockExclusiveBlocking waits until an exclusive lock on the file is available.
func FlockExclusiveBlocking(f *os.File) error {
	return flock(f, unix.LOCK_EX)
}

// FlockUnlock releases a lock on the file.
func FlockUnlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
