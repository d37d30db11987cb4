//go:build windows

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

const (
	stopFileName     = "daemon.stop"
	stopPollInterval = 250 * time.Millisecond

	// GetExitCodeProcess reports this while the process runs.
	stillActive = 259
)

// IsProcessRunning reports whether pid refers to a process that has not
// exited yet.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

// detachedAttr starts the daemon without a console, in its own process
// group so Ctrl+C in the parent console does not reach it.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
		HideWindow:    true,
	}
}

// startWatched starts cmd and waits on its process handle in the
// background.
func startWatched(cmd *exec.Cmd) (<-chan struct{}, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	exited := make(chan struct{})
	h, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(cmd.Process.Pid))
	if err != nil {
		// Already gone.
		close(exited)
		return exited, nil
	}
	go func() {
		defer close(exited)
		defer windows.CloseHandle(h)
		_, _ = windows.WaitForSingleObject(h, windows.INFINITE)
	}()
	return exited, nil
}

func stopFilePath(home string) string {
	return filepath.Join(home, stopFileName)
}

// StopProcess writes a stop request naming pid. Detached processes cannot
// receive console signals, so the daemon polls for it (see StopChannel).
func StopProcess(home string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	if !IsProcessRunning(pid) {
		return fmt.Errorf("process %d is not running", pid)
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	if err := os.WriteFile(stopFilePath(home), []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write stop file: %w", err)
	}
	return nil
}

func KillProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}

// StopChannel fires when a stop request naming the current process shows
// up in home. Requests for other PIDs are left alone; a request already
// present for this PID is a leftover and is removed.
func StopChannel(home string) <-chan struct{} {
	path := stopFilePath(home)
	if stopRequested(path) {
		_ = os.Remove(path)
	}

	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(stopPollInterval)
		defer ticker.Stop()
		for range ticker.C {
			if stopRequested(path) {
				_ = os.Remove(path)
				close(ch)
				return
			}
		}
	}()
	return ch
}

func stopRequested(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	return err == nil && pid == os.Getpid()
}
