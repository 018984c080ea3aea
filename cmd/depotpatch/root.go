package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/depotpatch/internal/config"
	"github.com/BadgerOps/depotpatch/internal/store"
	"github.com/BadgerOps/depotpatch/internal/updater"
	"github.com/BadgerOps/depotpatch/internal/verify"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	quiet     bool
	noHistory bool

	// Path overrides
	changesFlag   string
	gameDirFlag   string
	updateDirFlag string
	manifestFlag  string
	workersFlag   int

	globalCfg *config.Config
	logger    *slog.Logger

	// globalStore is nil when history is disabled or unavailable.
	globalStore *store.Store
)

// needsHistory lists the commands that read or write the update journal
func needsHistory(cmdName string) bool {
	switch cmdName {
	case "update", "validate", "history", "shell":
		return true
	}
	return false
}

// openStore opens the history database. Failing to open it only disables
// history, except for the history command itself.
func openStore(cmdName string) error {
	if noHistory || !globalCfg.History.Enabled {
		return nil
	}
	dbPath, err := globalCfg.HistoryDBPath()
	if err == nil {
		err = os.MkdirAll(filepath.Dir(dbPath), 0o755)
	}
	if err == nil {
		globalStore, err = store.New(dbPath, logger)
	}
	if err != nil {
		if cmdName == "history" {
			return fmt.Errorf("failed to open history: %w", err)
		}
		logger.Warn("update history disabled", "error", err)
	}
	return nil
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "depotpatch",
		Short: "Apply depot changesets to an installed game",
		Long: `depotpatch applies the delta between two builds of a depot to an installed
game directory. It validates the staged files against a checksum manifest,
backs up everything it overwrites or removes, copies in the new files,
deletes the old ones and validates the result.

Paths not given in the config file or on the command line are discovered
from the working directory: run it from a directory inside the unpacked
update, which itself sits inside the game directory.`,
		Example: `  depotpatch update
  depotpatch update --yes --strict
  depotpatch validate game
  depotpatch changes
  depotpatch config set create_backup false
  depotpatch shell`,
		Version:      "0.1.0",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if err := loadConfig(); err != nil {
				return err
			}

			if needsHistory(cmd.Name()) {
				return openStore(cmd.Name())
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error log output")
	cmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "do not record or read update history")
	cmd.PersistentFlags().StringVar(&changesFlag, "changes", "", "override the changes file")
	cmd.PersistentFlags().StringVar(&gameDirFlag, "game-dir", "", "override the game directory")
	cmd.PersistentFlags().StringVar(&updateDirFlag, "update-dir", "", "override the update directory or package")
	cmd.PersistentFlags().StringVar(&manifestFlag, "manifest", "", "override the checksum manifest")
	cmd.PersistentFlags().IntVar(&workersFlag, "workers", 0, "number of hashing workers (default from config)")

	cmd.AddCommand(
		newUpdateCmd(),
		newChangesCmd(),
		newValidateCmd(),
		newManifestCmd(),
		newConfigCmd(),
		newHistoryCmd(),
		newShellCmd(),
	)

	return cmd
}

// loadConfig reads the config file, applies flag overrides and fills the
// remaining paths by discovery.
func loadConfig() error {
	if cfgPath == "" {
		if found, err := config.FindConfigFile(); err == nil {
			cfgPath = found
		} else {
			logger.Debug("config file not found, using defaults", "error", err)
		}
	}

	if cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		globalCfg = cfg
	} else {
		globalCfg = config.DefaultConfig()
	}

	if changesFlag != "" {
		globalCfg.Paths.ChangesFile = changesFlag
	}
	if gameDirFlag != "" {
		globalCfg.Paths.GameDirectory = gameDirFlag
	}
	if updateDirFlag != "" {
		globalCfg.Paths.UpdateDirectory = updateDirFlag
	}
	if manifestFlag != "" {
		globalCfg.Paths.ManifestFile = manifestFlag
	}
	if workersFlag > 0 {
		globalCfg.Options.Workers = workersFlag
	}

	if cwd, err := os.Getwd(); err == nil {
		globalCfg.ApplyDiscovered(config.Discover(cwd))
	}

	logger.Debug("config loaded",
		"path", cfgPath,
		"game_directory", globalCfg.Paths.GameDirectory,
		"update_directory", globalCfg.Paths.UpdateDirectory,
	)
	return nil
}

// newVerifier builds a verifier from the loaded config
func newVerifier() *verify.Verifier {
	return verify.New(globalCfg.Options.Workers, logger)
}

// journalOption records runs in the history store when one is open
func journalOption() updater.Option {
	if globalStore == nil {
		return func(*updater.Updater) {}
	}
	return updater.WithJournal(store.NewJournal(globalStore))
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"completion": true,
	}
	return skipConfigCmds[cmdName]
}
