package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codetags/config"
	"github.com/yoanbernabeu/codetags/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and registered repositories",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	home, cfg, err := loadSettings()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	// Get running PID (automatically cleans up stale PIDs)
	pid, err := daemon.GetRunningPID(home)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintln(out, titleStyle.Render("codetags "+version))
	if pid == 0 {
		fmt.Fprintln(out, "Daemon: not running")
	} else {
		fmt.Fprintf(out, "Daemon: running (PID %d)\n", pid)
		fmt.Fprintf(out, "Log file: %s\n", cfg.GetLogPath(home))
	}
	fmt.Fprintf(out, "State directory: %s\n", home)

	repos, warnings, err := config.LoadRegistry(config.GetRegistryPath(home))
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(out, errorStyle.Render("Warning: "+w.Error()))
	}

	fmt.Fprintln(out, sectionStyle.Render(fmt.Sprintf("Repositories (%d)", len(repos))))
	for _, r := range repos {
		line := fmt.Sprintf("  %s %s", r.Name, mutedStyle.Render(r.Root))
		if _, err := os.Stat(r.Root); err != nil {
			line += " " + errorStyle.Render("(missing)")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
