package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codetags/config"
	"github.com/yoanbernabeu/codetags/daemon"
	"github.com/yoanbernabeu/codetags/summary"
)

const (
	killGrace      = 100 * time.Millisecond
	startupTimeout = 30 * time.Second
)

var initNoDaemon bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Track the current repository",
	Long: `Register the current repository with codetags.

This command will:
- Stop a running codetags daemon
- Write an empty codetags.md at the repository root
- Add the repository to ~/.ctags/registered_repos.txt (once per name)
- Start the daemon in the background and wait until it is ready

The repository root is the enclosing git work tree, or the current
directory outside git.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initNoDaemon, "no-daemon", false, "Register only, do not start the daemon")
}

func runInit(cmd *cobra.Command, args []string) error {
	home, cfg, err := loadSettings()
	if err != nil {
		return err
	}

	repo, err := currentRepository()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	// Stop the previous daemon; a fresh one picks up the new registration.
	if pid, err := daemon.Terminate(home, killGrace); err != nil {
		fmt.Fprintf(out, "Warning: failed to stop running daemon: %v\n", err)
	} else if pid > 0 {
		fmt.Fprintf(out, "Stopped running daemon (PID %d)\n", pid)
	}

	if err := summary.WriteEmpty(filepath.Join(repo.Root, cfg.SummaryFile)); err != nil {
		return err
	}

	added, err := config.Register(config.GetRegistryPath(home), repo)
	if err != nil {
		return err
	}
	if added {
		fmt.Fprintf(out, "Codetags initialized in %s (%s)\n", repo.Root, repo.Name)
	} else {
		fmt.Fprintf(out, "%s is already registered\n", repo.Name)
	}

	if initNoDaemon {
		return nil
	}
	return startDaemon(out, home, cfg)
}

// startDaemon spawns "codetags daemon" in the background and waits for its
// ready marker.
func startDaemon(out io.Writer, home string, cfg *config.Config) error {
	// A ready marker left by a crashed daemon would satisfy the wait.
	_ = daemon.RemoveReadyFile(home)

	pid, exitCh, err := daemon.SpawnBackground(home, []string{"daemon"})
	if err != nil {
		return fmt.Errorf("failed to start background process: %w", err)
	}
	if err := daemon.WaitReady(home, exitCh, startupTimeout); err != nil {
		return err
	}

	fmt.Fprintf(out, "Daemon started (PID %d)\n", pid)
	fmt.Fprintf(out, "Logs: %s\n", cfg.GetLogPath(home))
	return nil
}
