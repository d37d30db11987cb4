//go:build !windows
// +build !windows

package fileutil

import (
	"errors"
	"os"
	"syscall"
)

// flock applies flock(2) to the whole file. A contended non-blocking
// request reports ErrLocked.
func flock(f *os.File, exclusive, nonBlocking bool) error {
	flags := syscall.LOCK_SH
	if exclusive {
		flags = syscall.LOCK_EX
	}
	if nonBlocking {
		flags |= syscall.LOCK_NB
	}
	if err := syscall.Flock(int(f.Fd()), flags); err != nil {
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrLocked
		}
		return err
	}
	return nil
}

func funlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
