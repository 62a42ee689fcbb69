//go:build windows

package lockfile

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// lockWholeFile locks the maximum byte range, which covers the whole file.
func lockWholeFile(f *os.File, flags uint32) error {
	ol := &windows.Overlapped{}
	err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 0xFFFFFFFF, 0xFFFFFFFF, ol)
	if err == windows.ERROR_LOCK_VIOLATION || err == syscall.EWOULDBLOCK {
		return ErrLockBusy
	}
	return err
}

// FlockSharedNonBlock acquires a shared non-blocking lock on the file.
func FlockSharedNonBlock(f *os.File) error {
	return lockWholeFile(f, windows.LOCKFILE_FAIL_IMMEDIATELY)
}

// FlockExclusiveNonBlock acquires an exclusive non-blocking lock on the file.
func FlockExclusiveNonBlock(f *os.File) error {
	return lockWholeFile(f, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY)
}

// FlockExclusiveBlocking waits until an exclusive lock on the file is available.
func FlockExclusiveBlocking(f *os.File) error {
	return lockWholeFile(f, windows.LOCKFILE_EXCLUSIVE_LOCK)
}

// FlockUnlock releases a lock on the file.
func FlockUnlock(f *os.File) error {
	ol := &windows.Overlapped{}
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 0xFFFFFFFF, 0xFFFFFFFF, ol)
}
