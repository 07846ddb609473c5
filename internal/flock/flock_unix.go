//go:build !windows

package flock

import (
	"os"

	"golang.org/x/sys/unix"
)

// TryLock takes an exclusive flock(2) lock on f without blocking. It returns
// (false, nil) when another open file description currently holds the lock.
//
// BSD-style flock locks belong to the open file description, not the process,
// so two opens of the same path contend even within one process. The kernel
// drops the lock when the last descriptor for the description closes, which
// is what makes crashed holders safe.
func TryLock(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if errno, ok := err.(unix.Errno); ok && (errno == unix.EWOULDBLOCK || errno == unix.EINTR) {
		return false, nil
	}
	return false, err
}

// Unlock releases a lock previously taken with TryLock.
func Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
