package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/gamesync/internal/engine"
	"github.com/BadgerOps/gamesync/internal/localversion"
)

var (
	updateMode        string
	updateFromVersion string
	updateLimitRate   string
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Bring an installation to the manifest version",
		Long: `Update an existing installation. The local version is read from the
sidecar file in the install directory unless --from-version is given.

Modes:
  auto   apply an incremental patch when the manifest offers one, else full
  full   hash every file and redownload the ones that differ
  patch  require an incremental patch; fail if none matches`,
		Example: `  gamesync update
  gamesync update --mode full
  gamesync update --mode patch --from-version 2.4.0`,
		RunE: updateRun,
	}

	cmd.Flags().StringVar(&updateMode, "mode", "auto", "update mode (auto, full, patch)")
	cmd.Flags().StringVar(&updateFromVersion, "from-version", "", "override the recorded local version")
	addLimitRateFlag(cmd, &updateLimitRate)
	return cmd
}

func updateRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := applyLimitRate(globalCfg, updateLimitRate); err != nil {
		return err
	}

	local := updateFromVersion
	if local == "" {
		v, err := localversion.New(afero.NewOsFs()).Read(globalCfg.Game.InstallDir)
		if err != nil {
			return err
		}
		local = v
	}

	var op operation
	switch updateMode {
	case "auto":
		op = func(ctx context.Context, s *engine.Syncer, t engine.Target) (*engine.Report, error) {
			return s.Update(ctx, t, local)
		}
	case "full":
		op = func(ctx context.Context, s *engine.Syncer, t engine.Target) (*engine.Report, error) {
			return s.UpdateFull(ctx, t, local)
		}
	case "patch":
		if local == "" {
			return fmt.Errorf("patch mode needs a local version; pass --from-version or run a full update")
		}
		op = func(ctx context.Context, s *engine.Syncer, t engine.Target) (*engine.Report, error) {
			return s.UpdatePatch(ctx, t, local)
		}
	default:
		return fmt.Errorf("unknown update mode %q (want auto, full or patch)", updateMode)
	}

	logger.Info("update requested", "mode", updateMode, "local_version", local)
	return runOperation("UPDATE", true, op)
}
