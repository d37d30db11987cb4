package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codetags/config"
)

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Stop tracking the current repository",
	Long: `Remove the current repository from the registration list and delete its
codetags.md. A running daemon stops watching it. Stamped identifiers stay in
the source files.`,
	Args: cobra.NoArgs,
	RunE: runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	home, cfg, err := loadSettings()
	if err != nil {
		return err
	}

	repo, err := currentRepository()
	if err != nil {
		return err
	}

	removed, err := config.Unregister(config.GetRegistryPath(home), repo.Name)
	if err != nil {
		if errors.Is(err, config.ErrRepoNotRegistered) {
			return fmt.Errorf("%s is not registered (run 'codetags init' first)", repo.Name)
		}
		return err
	}

	out := cmd.OutOrStdout()
	summaryPath := filepath.Join(removed.Root, cfg.SummaryFile)
	if err := os.Remove(summaryPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(out, "Warning: failed to remove %s: %v\n", summaryPath, err)
	}

	fmt.Fprintf(out, "Repository %s removed from monitoring\n", removed.Name)
	return nil
}
