package main

import (
	"context"

	"github.com/spf13/cobra"

	"fsledger/pkg/job"
	"fsledger/pkg/usecase"
)

func buildMarkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Flag duplicate content among indexed files",
		Long: `Groups the ledger's records by content hash. In every group the record
indexed first is kept; the others are flagged as duplicates. Nothing on
disk changes: run delete afterwards to remove the flagged files.

Examples:
  fsledger mark --dry-run -v   # List the groups that would be marked
  fsledger mark                # Flag duplicates
  fsledger mark --resume       # Continue an interrupted mark`,
		Args: cobra.NoArgs,
		RunE: runMark,
	}
	addResumeFlag(cmd)
	return cmd
}

func runMark(cmd *cobra.Command, _ []string) error {
	return runJob(cmd, "MARK", "", func(ctx context.Context, svc *usecase.Service) (*job.Run, error) {
		return svc.Mark(ctx, usecase.MarkRequest{Resume: resume, DryRun: dryRun})
	})
}
