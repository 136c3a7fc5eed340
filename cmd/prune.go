package main

import (
	"context"

	"github.com/spf13/cobra"

	"fsledger/pkg/job"
	"fsledger/pkg/usecase"
)

func buildPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune [path]",
		Short: "Remove empty directories",
		Long: `Removes every directory below the given root that is empty, including
directories that only contained empty directories. The root itself is
kept. Prune keeps no checkpoint: an interrupted prune is simply run again.

Examples:
  fsledger prune --dry-run ./backup   # Preview
  fsledger prune ./backup             # Remove empty directories`,
		Args: cobra.ExactArgs(1),
		RunE: runPrune,
	}
}

func runPrune(cmd *cobra.Command, args []string) error {
	root := args[0]
	return runJob(cmd, "PRUNE", root, func(ctx context.Context, svc *usecase.Service) (*job.Run, error) {
		return svc.Prune(ctx, usecase.PruneRequest{Root: root, DryRun: dryRun})
	})
}
