package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/gamesync/internal/engine"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every file against the manifest and repair what is wrong",
		Long: `Hash every manifest file in the install directory, redownload missing or
corrupt files, and prune stale files from the resource pack directories.`,
		Example: `  gamesync verify
  gamesync verify --install-dir /games/wuwa --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation("VERIFY", false, func(ctx context.Context, s *engine.Syncer, t engine.Target) (*engine.Report, error) {
				return s.Verify(ctx, t)
			})
		},
	}
}
