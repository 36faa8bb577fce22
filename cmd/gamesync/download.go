package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/gamesync/internal/config"
	"github.com/BadgerOps/gamesync/internal/engine"
)

var downloadLimitRate string

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download a full installation",
		Long: `Download every file listed by the manifest into the install directory.
Files that already exist are kept and interrupted transfers resume from their
.temp partials. On success the manifest version is recorded next to the game.`,
		Example: `  gamesync download --install-dir /games/wuwa
  gamesync download --limit-rate 5MB`,
		RunE: downloadRun,
	}

	addLimitRateFlag(cmd, &downloadLimitRate)
	return cmd
}

func addLimitRateFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "limit-rate", "", "cap throughput per second (e.g. 500KB, 5MB)")
}

// applyLimitRate overrides download.max_bytes_per_second from a size string.
func applyLimitRate(cfg *config.Config, rate string) error {
	if rate == "" {
		return nil
	}
	n, err := config.ParseSize(rate)
	if err != nil {
		return fmt.Errorf("invalid --limit-rate: %w", err)
	}
	cfg.Download.MaxBytesPerSecond = n
	return nil
}

func downloadRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := applyLimitRate(globalCfg, downloadLimitRate); err != nil {
		return err
	}

	return runOperation("DOWNLOAD", true, func(ctx context.Context, s *engine.Syncer, target engine.Target) (*engine.Report, error) {
		return s.Download(ctx, target)
	})
}
