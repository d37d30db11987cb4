package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codetags/config"
	"github.com/yoanbernabeu/codetags/daemon"
	"github.com/yoanbernabeu/codetags/supervisor"
	"gopkg.in/natefinch/lumberjack.v2"
)

var daemonLogFile string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the codetags daemon in the foreground",
	Long: `Run the daemon that keeps every registered repository in sync.

The daemon will:
- Scan each repository listed in ~/.ctags/registered_repos.txt
- Stamp new codetags and regenerate codetags.md on every change
- Follow additions and removals in the registration list
- Stop on SIGINT or SIGTERM

'codetags init' starts it in the background. Background daemons log to
~/.ctags/daemon.log, rotated by size (see the log section of config.yaml).`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonLogFile, "log-file", "", "Write logs to this file instead of stderr (rotated)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	home, cfg, err := loadSettings()
	if err != nil {
		return err
	}

	// Detect if running as background child process
	isBackgroundChild := os.Getenv(daemon.BackgroundEnv) == "1"

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.SetPrefix("[codetags] ")
	if isBackgroundChild || daemonLogFile != "" {
		rotator := newLogRotator(home, cfg)
		defer rotator.Close()
		log.SetOutput(rotator)
	}

	lock, err := daemon.WritePIDFile(home)
	if err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer lock.Unlock()
	defer func() {
		if err := daemon.RemovePIDFile(home); err != nil {
			log.Printf("Warning: failed to remove PID file on exit: %v", err)
		}
	}()
	defer func() {
		if err := daemon.RemoveReadyFile(home); err != nil {
			log.Printf("Warning: failed to remove ready file on exit: %v", err)
		}
	}()

	// Handle signals at top level
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	stopCh := daemon.StopChannel(home)
	go func() {
		select {
		case <-sigChan:
			log.Println("Shutting down...")
			cancel()
		case <-stopCh:
			log.Println("Stop file detected, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Printf("Starting codetags daemon (PID %d), state in %s", os.Getpid(), home)

	sup := supervisor.New(supervisor.Options{
		Home:   home,
		Config: cfg,
		Logger: log.Default(),
		OnReady: func(active []config.Repository) {
			if err := daemon.WriteReadyFile(home); err != nil {
				log.Printf("Warning: failed to write ready file: %v", err)
			}
			log.Printf("Watching %d repositories for changes", len(active))
		},
		OnLifecycle: printLifecycle,
	})

	if err := sup.Run(ctx); err != nil {
		log.Printf("Supervisor failed: %v", err)
		return err
	}
	log.Println("Daemon stopped")
	return nil
}

func newLogRotator(home string, cfg *config.Config) *lumberjack.Logger {
	path := cfg.GetLogPath(home)
	if daemonLogFile != "" {
		path = daemonLogFile
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
}

func printLifecycle(repo config.Repository, state, note string) {
	message := fmt.Sprintf("[%s] %s", strings.ToUpper(state), repo.Name)
	if note != "" {
		message += " - " + note
	}
	log.Println(message)
}
