package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/yoanbernabeu/codetags/config"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

// loadSettings resolves and creates the state directory and loads the
// configuration, writing the defaults on first use.
func loadSettings() (string, *config.Config, error) {
	home, err := config.EnsureHomeDir()
	if err != nil {
		return "", nil, err
	}

	cfg, err := config.Load(home)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if !config.Exists(home) {
		if err := cfg.Save(home); err != nil {
			return "", nil, err
		}
	}
	return home, cfg, nil
}

func currentRepository() (config.Repository, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.Repository{}, fmt.Errorf("failed to get current directory: %w", err)
	}
	return config.RepositoryFor(cwd)
}
