package main

import (
	"context"

	"github.com/spf13/cobra"

	"fsledger/pkg/job"
	"fsledger/pkg/usecase"
)

func buildResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Continue the last interrupted job",
		Long: `Restarts the most recent job from its checkpoint with the arguments it
was started with. Fails when the last job finished.

Examples:
  fsledger resume
  fsledger status   # see what resume would continue`,
		Args: cobra.NoArgs,
		RunE: runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	return runJob(cmd, "RESUME", "", func(ctx context.Context, svc *usecase.Service) (*job.Run, error) {
		return svc.Resume(ctx)
	})
}
