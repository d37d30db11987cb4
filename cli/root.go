// Package cli implements the codetags command line.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var version = "dev"

var errMissingCommand = errors.New("missing command")

var rootCmd = &cobra.Command{
	Use:   "codetags",
	Short: "Track TODO, FIXME and friends across repositories",
	Long: `codetags stamps every codetag comment (TODO, FIXME, BUG, NOTE, WARN, ...)
with a stable identifier and keeps a codetags.md summary up to date in each
registered repository.

  codetags init      Register the current repository and start the daemon
  codetags remove    Stop tracking the current repository
  codetags scan      Scan the current directory once
  codetags daemon    Run the daemon in the foreground
  codetags status    Show daemon status and registered repositories
  codetags stop      Stop the daemon

State lives in ~/.ctags (override with $CODETAGS_HOME).`,
	Version:      version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = cmd.Help()
		return errMissingCommand
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
