package main

import (
	"context"

	"github.com/spf13/cobra"

	"fsledger/pkg/job"
	"fsledger/pkg/usecase"
)

func buildDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove files flagged as duplicates",
		Long: `Deletes every file that mark flagged as a duplicate. A group is skipped
when its kept file is no longer accessible, so the last copy of any
content is never removed.

Examples:
  fsledger delete --dry-run   # Preview (recommended!)
  fsledger delete             # Delete duplicates
  fsledger delete --resume    # Continue an interrupted delete`,
		Args: cobra.NoArgs,
		RunE: runDelete,
	}
	addResumeFlag(cmd)
	return cmd
}

func runDelete(cmd *cobra.Command, _ []string) error {
	return runJob(cmd, "DELETE", "", func(ctx context.Context, svc *usecase.Service) (*job.Run, error) {
		return svc.Delete(ctx, usecase.DeleteRequest{Resume: resume, DryRun: dryRun})
	})
}
