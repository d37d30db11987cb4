package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// HomeEnv overrides the state directory.
	HomeEnv            = "CODETAGS_HOME"
	DefaultHomeDirName = ".ctags"
	ConfigFileName     = "config.yaml"
	RegistryFileName   = "registered_repos.txt"
	LogFileName        = "daemon.log"
)

type Config struct {
	Version          int         `yaml:"version"`
	Extensions       []string    `yaml:"extensions"`
	IgnoreFile       string      `yaml:"ignore_file"`
	SummaryFile      string      `yaml:"summary_file"`
	RespectGitignore bool        `yaml:"respect_gitignore"`
	SkipDirs         []string    `yaml:"skip_dirs"`
	Watch            WatchConfig `yaml:"watch"`
	Log              LogConfig   `yaml:"log"`
}

type WatchConfig struct {
	SettleDelayMs       int `yaml:"settle_delay_ms"`
	ReconcileIntervalMs int `yaml:"reconcile_interval_ms"`
	MaxParallelStarts   int `yaml:"max_parallel_starts"`
}

// LogConfig controls the rotating daemon log.
type LogConfig struct {
	File       string `yaml:"file"` // relative to the home directory unless absolute
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Extensions: []string{
			".cpp", ".h", ".hpp", ".c",
			".java", ".js", ".ts", ".py",
			".rb", ".go", ".rs", ".php",
		},
		IgnoreFile:  ".ctagsignore",
		SummaryFile: "codetags.md",
		SkipDirs:    []string{".git"},
		Watch: WatchConfig{
			SettleDelayMs:       10,
			ReconcileIntervalMs: 30000,
			MaxParallelStarts:   4,
		},
		Log: LogConfig{
			File:       LogFileName,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// HomeDir returns the state directory: $CODETAGS_HOME, or ~/.ctags.
func HomeDir() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return filepath.Abs(home)
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(userHome, DefaultHomeDirName), nil
}

// EnsureHomeDir resolves and creates the state directory.
func EnsureHomeDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", home, err)
	}
	return home, nil
}

func GetConfigPath(home string) string {
	return filepath.Join(home, ConfigFileName)
}

func GetRegistryPath(home string) string {
	return filepath.Join(home, RegistryFileName)
}

// GetLogPath resolves the configured log file against home.
func (c *Config) GetLogPath(home string) string {
	if filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(home, c.Log.File)
}

// Load reads <home>/config.yaml. A missing file yields DefaultConfig.
func Load(home string) (*Config, error) {
	data, err := os.ReadFile(GetConfigPath(home))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for missing values (backward compatibility)
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in missing configuration values with defaults, so that
// a partial config file only overrides what it names.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Version == 0 {
		c.Version = defaults.Version
	}
	if len(c.Extensions) == 0 {
		c.Extensions = defaults.Extensions
	}
	if c.IgnoreFile == "" {
		c.IgnoreFile = defaults.IgnoreFile
	}
	if c.SummaryFile == "" {
		c.SummaryFile = defaults.SummaryFile
	}
	// An explicit empty list disables skipping.
	if c.SkipDirs == nil {
		c.SkipDirs = defaults.SkipDirs
	}

	// Watch defaults
	if c.Watch.SettleDelayMs <= 0 {
		c.Watch.SettleDelayMs = defaults.Watch.SettleDelayMs
	}
	if c.Watch.ReconcileIntervalMs <= 0 {
		c.Watch.ReconcileIntervalMs = defaults.Watch.ReconcileIntervalMs
	}
	if c.Watch.MaxParallelStarts <= 0 {
		c.Watch.MaxParallelStarts = defaults.Watch.MaxParallelStarts
	}

	// Log defaults
	if c.Log.File == "" {
		c.Log.File = defaults.Log.File
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = defaults.Log.MaxSizeMB
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = defaults.Log.MaxBackups
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = defaults.Log.MaxAgeDays
	}
}

func (c *Config) Save(home string) error {
	if err := os.MkdirAll(home, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(GetConfigPath(home), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func Exists(home string) bool {
	_, err := os.Stat(GetConfigPath(home))
	return err == nil
}
