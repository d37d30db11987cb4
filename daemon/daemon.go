// Package daemon provides lifecycle management for the codetags daemon.
//
// This package handles PID file management, process spawning, and process
// lifecycle operations for running "codetags daemon" in the background. All
// files live in the codetags home directory (see config.HomeDir).
//
// # Basic Usage
//
// Start a background process:
//
//	pid, exitCh, err := daemon.SpawnBackground(home, []string{"daemon"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// exitCh receives when child exits (detects early failures)
//
// Check if the process is running:
//
//	pid, err := daemon.GetRunningPID(home)
//	if pid > 0 {
//	    fmt.Printf("Daemon is running (PID %d)\n", pid)
//	}
//
// Stop it, escalating to a kill after a grace period:
//
//	daemon.Terminate(home, 100*time.Millisecond)
//
// # PID File Format
//
// The PID file contains a single line with the process ID as a decimal integer.
//
// # Platform Support
//
// Platform-specific behavior is implemented in daemon_unix.go and daemon_windows.go.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yoanbernabeu/codetags/internal/fileutil"
)

const (
	pidFileName    = "daemon.pid"
	readyFileName  = "daemon.ready"
	outputFileName = "daemon.out"

	// BackgroundEnv is set in the environment of spawned daemons.
	BackgroundEnv = "CODETAGS_BACKGROUND"
)

func PIDPath(home string) string {
	return filepath.Join(home, pidFileName)
}

func ReadyPath(home string) string {
	return filepath.Join(home, readyFileName)
}

// WritePIDFile records the current process ID. The returned lock guards
// against a second daemon starting concurrently and must be held for the
// lifetime of the process; the OS releases it on exit.
func WritePIDFile(home string) (*fileutil.Lock, error) {
	pidPath := PIDPath(home)

	lock, err := fileutil.TryLock(pidPath + ".lock")
	if err != nil {
		if err == fileutil.ErrLocked {
			return nil, fmt.Errorf("another codetags daemon is running (lock held)")
		}
		return nil, err
	}

	content := fmt.Sprintf("%d\n", os.Getpid())
	if err := fileutil.WriteFileAtomically(pidPath, []byte(content), 0600); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	return lock, nil
}

// ReadPIDFile reads the process ID from the PID file.
//
// Return values:
//   - (0, nil):     No PID file exists
//   - (pid, nil):   PID file exists and contains a valid process ID
//   - (0, error):   PID file exists but is corrupt or unreadable
//
// It does not check whether the process is alive; see GetRunningPID.
func ReadPIDFile(home string) (int, error) {
	data, err := os.ReadFile(PIDPath(home))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// RemovePIDFile removes the PID file and its associated lock file.
func RemovePIDFile(home string) error {
	pidPath := PIDPath(home)

	// Remove lock file first (best effort, ignore errors)
	_ = os.Remove(pidPath + ".lock")

	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetRunningPID returns the PID of the running daemon, or 0 if none.
// Stale PID files (process gone) are cleaned up.
func GetRunningPID(home string) (int, error) {
	pid, err := ReadPIDFile(home)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, nil
	}

	if !IsProcessRunning(pid) {
		// Stale PID file - clean it up (best effort, ignore errors)
		_ = RemovePIDFile(home)
		_ = RemoveReadyFile(home)
		return 0, nil
	}

	return pid, nil
}

// WriteReadyFile marks the daemon as initialized: every registered
// repository has completed its first scan.
func WriteReadyFile(home string) error {
	content := fmt.Sprintf("ready\n%d\n", os.Getpid())
	if err := os.WriteFile(ReadyPath(home), []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write ready file: %w", err)
	}
	return nil
}

func RemoveReadyFile(home string) error {
	if err := os.Remove(ReadyPath(home)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove ready file: %w", err)
	}
	return nil
}

func IsReady(home string) bool {
	_, err := os.Stat(ReadyPath(home))
	return err == nil
}

// WaitReady polls for the ready marker until timeout. It returns early with
// an error when exitCh fires, i.e. the spawned child died during startup.
func WaitReady(home string, exitCh <-chan struct{}, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if IsReady(home) {
			return nil
		}
		select {
		case <-exitCh:
			return fmt.Errorf("daemon exited during startup (see %s)", filepath.Join(home, outputFileName))
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for daemon to become ready")
		case <-ticker.C:
		}
	}
}

// Terminate stops the daemon recorded in the PID file, if any: a stop
// request first, then a kill if it is still alive after grace. The PID and
// ready files are removed. It returns the PID that was stopped, or 0.
func Terminate(home string, grace time.Duration) (int, error) {
	pid, err := GetRunningPID(home)
	if err != nil || pid == 0 {
		// Corrupt PID file: nothing we can signal
		_ = RemovePIDFile(home)
		return 0, err
	}

	if err := StopProcess(home, pid); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !IsProcessRunning(pid) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if IsProcessRunning(pid) {
		if err := KillProcess(pid); err != nil && IsProcessRunning(pid) {
			return 0, err
		}
	}

	_ = RemovePIDFile(home)
	_ = RemoveReadyFile(home)
	return pid, nil
}

// SpawnBackground re-executes the current binary as a detached background
// process with args. The child's stdout and stderr go to daemon.out in home
// (the daemon's own log is written separately), stdin is nil and
// CODETAGS_BACKGROUND=1 is set.
//
// Returns the child PID and a channel closed when the child exits, enabling
// callers to detect early failures.
func SpawnBackground(home string, args []string) (int, <-chan struct{}, error) {
	if err := os.MkdirAll(home, 0755); err != nil {
		return 0, nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return spawnBackgroundWithLog(filepath.Join(home, outputFileName), args)
}

// spawnBackgroundWithLog spawns a background process writing to logPath.
// The returned channel is closed when the child exits (an inherited pipe on
// Unix, a process handle wait on Windows).
func spawnBackgroundWithLog(logPath string, args []string) (int, <-chan struct{}, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), BackgroundEnv+"=1")
	cmd.SysProcAttr = detachedAttr()

	exited, err := startWatched(cmd)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to start background process: %w", err)
	}
	return cmd.Process.Pid, exited, nil
}
