//go:build !windows

package snapshot

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive acquires a non-blocking exclusive lock, matching the
// "one writer" half of the snapshot port's concurrency contract.
// Returns ErrStoreLocked if another process already holds it.
func lockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrStoreLocked
		}
		return err
	}
	return nil
}

// lockShared acquires a blocking shared lock, matching the "concurrent
// readers" half: any number of loaders may hold it together, but it
// waits out an in-progress Save rather than failing immediately.
func lockShared(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_SH)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
