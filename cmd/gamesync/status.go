package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/gamesync/internal/config"
	"github.com/BadgerOps/gamesync/internal/localversion"
	"github.com/BadgerOps/gamesync/internal/store"
)

var (
	statusLimit  int
	statusFailed bool
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display the local version and recent operations",
		Long: `Display the recorded local version of the installation, the most recent
operations from the history store, and files that are still failing.

Use --failed to show only the unresolved failed files.`,
		Example: `  gamesync status
  gamesync status --limit 20
  gamesync status --failed`,
		RunE: statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 10, "number of recent operations to show")
	cmd.Flags().BoolVar(&statusFailed, "failed", false, "show only unresolved failed files")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalCfg.Game.InstallDir == "" {
		return fmt.Errorf("game.install_dir is required")
	}
	return printStatus(os.Stdout, globalCfg.Game.InstallDir, globalStore)
}

func printStatus(w io.Writer, dir string, st *store.Store) error {
	if !statusFailed {
		info, err := localversion.New(afero.NewOsFs()).ReadInfo(dir)
		if err != nil {
			return err
		}

		fmt.Fprintln(w, "Installation")
		fmt.Fprintln(w, "============")
		fmt.Fprintf(w, "Directory: %s\n", dir)
		if info == nil {
			fmt.Fprintln(w, "Version:   unknown (no successful download recorded)")
		} else {
			fmt.Fprintf(w, "Version:   %s (recorded %s)\n", info.Version, info.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Fprintln(w)
	}

	if st == nil {
		fmt.Fprintln(w, "Operation history is disabled (store.db_path: none)")
		return nil
	}

	if !statusFailed {
		runs, err := st.ListRuns(dir, statusLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "Recent Operations")
		fmt.Fprintln(w, "=================")
		if len(runs) == 0 {
			fmt.Fprintln(w, "No operations recorded")
		} else {
			fmt.Fprintf(w, "%-17s %-13s %-10s %-10s %8s %7s %10s\n", "Started", "Operation", "Version", "Status", "Files", "Failed", "Bytes")
			fmt.Fprintln(w, strings.Repeat("-", 80))
			for _, r := range runs {
				version := r.ManifestVersion
				if version == "" {
					version = "-"
				}
				fmt.Fprintf(w, "%-17s %-13s %-10s %-10s %8d %7d %10s\n",
					r.StartTime.Local().Format("2006-01-02 15:04"),
					r.Operation,
					version,
					r.Status,
					r.FilesTotal,
					r.FilesFailed,
					config.FormatSize(r.BytesTransferred),
				)
			}
		}
		fmt.Fprintln(w)
	}

	failed, err := st.ListFailedFiles(dir)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		fmt.Fprintln(w, "No unresolved failed files")
		return nil
	}
	fmt.Fprintf(w, "Unresolved Failed Files (%d)\n", len(failed))
	for _, f := range failed {
		fmt.Fprintf(w, "  - %s (attempts: %d, last: %s): %s\n",
			f.FilePath, f.RetryCount, f.LastFailure.Local().Format("2006-01-02 15:04"), f.Error)
	}
	return nil
}
