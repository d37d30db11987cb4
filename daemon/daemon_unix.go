//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsProcessRunning reports whether pid exists. A process owned by another
// user (EPERM) counts as running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// detachedAttr starts the daemon in its own session, away from the
// terminal that ran "codetags init".
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// startWatched starts cmd with the write end of a pipe as an extra file.
// The kernel closes it when the child exits, even if the child is never
// reaped, which unblocks the read on our end.
func startWatched(cmd *exec.Cmd) (<-chan struct{}, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create exit pipe: %w", err)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, w)

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	w.Close()

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer r.Close()
		var b [1]byte
		_, _ = r.Read(b[:])
	}()
	return exited, nil
}

// StopProcess asks the daemon to shut down with SIGTERM. It does not wait;
// Terminate polls IsProcessRunning and escalates to KillProcess.
func StopProcess(_ string, pid int) error {
	return signalProcess(pid, unix.SIGTERM)
}

func KillProcess(pid int) error {
	return signalProcess(pid, unix.SIGKILL)
}

func signalProcess(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("failed to send %v to %d: %w", sig, pid, err)
	}
	return nil
}

// StopChannel returns nil on Unix: stop requests arrive as signals, and a
// nil channel never fires in a select.
func StopChannel(_ string) <-chan struct{} {
	return nil
}
