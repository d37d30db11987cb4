package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codetags/daemon"
)

const stopGrace = 10 * time.Second

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the codetags daemon",
	Long: `Ask the running daemon to shut down, and kill it if it has not exited
after a grace period.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	home, _, err := loadSettings()
	if err != nil {
		return err
	}

	pid, err := daemon.Terminate(home, stopGrace)
	if err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	if pid == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No daemon is running")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Daemon stopped (PID %d)\n", pid)
	return nil
}
