package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/gamesync/internal/config"
	"github.com/BadgerOps/gamesync/internal/metrics"
	"github.com/BadgerOps/gamesync/internal/store"
)

var (
	// Global flags
	cfgPath       string
	envFile       string
	installDir    string
	manifestURL   string
	logLevel      string
	logFormat     string
	metricsListen string
	quiet         bool
	globalCfg     *config.Config
	logger        *slog.Logger

	// Global components
	globalStore    *store.Store
	globalMetrics  *metrics.Metrics
	globalRegistry *prometheus.Registry
)

// initializeComponents opens the history store and registers metrics
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if dbPath := globalCfg.DBPath(); dbPath != "" {
		st, err := store.New(dbPath, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		globalStore = st
	}

	globalRegistry = prometheus.NewRegistry()
	globalMetrics = metrics.New(globalRegistry)

	logger.Debug("components initialized", "db_path", globalCfg.DBPath())
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":     true,
		"version":  true,
		"config":   true,
		"show":     true,
		"validate": true,
		"cdn":      true,
	}
	return skipInitCmds[cmdName]
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
		Use:   "gamesync",
		Short: "Download, update and verify game installations from a launcher manifest",
		Long: `gamesync keeps a local game installation in line with a remote launcher
manifest. It performs resumable full downloads, hash-based reconciliation,
incremental patches through an external diff tool, and integrity repair.`,
		Example: `  gamesync download --install-dir /games/wuwa
  gamesync update --mode auto
  gamesync verify
  gamesync status
  gamesync config validate`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if err := loadConfig(); err != nil {
				return err
			}

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before GAMESYNC_* overrides")
	cmd.PersistentFlags().StringVar(&installDir, "install-dir", "", "override game.install_dir")
	cmd.PersistentFlags().StringVar(&manifestURL, "manifest-url", "", "override game.manifest_url")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while running")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress progress output")

	cmd.AddCommand(
		newDownloadCmd(),
		newUpdateCmd(),
		newVerifyCmd(),
		newStatusCmd(),
		newCDNCmd(),
		newConfigCmd(),
	)

	return cmd
}

// loadConfig resolves the config file, then applies .env, GAMESYNC_* and flag overrides
func loadConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	path := cfgPath
	if path == "" {
		var err error
		path, err = config.FindConfigFile()
		if err != nil {
			logger.Debug("config file not found, using defaults", "error", err)
		}
	}

	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		globalCfg = cfg
	} else {
		globalCfg = config.DefaultConfig()
	}

	if err := globalCfg.ApplyEnv(nil); err != nil {
		return err
	}

	if installDir != "" {
		globalCfg.Game.InstallDir = installDir
	}
	if manifestURL != "" {
		globalCfg.Game.ManifestURL = manifestURL
	}
	if metricsListen != "" {
		globalCfg.Metrics.Listen = metricsListen
	}

	logger.Debug("config loaded", "path", path, "install_dir", globalCfg.Game.InstallDir)
	return nil
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
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
