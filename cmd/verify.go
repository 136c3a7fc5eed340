package main

import (
	"context"

	"github.com/spf13/cobra"

	"fsledger/internal/config"
	"fsledger/pkg/job"
	"fsledger/pkg/usecase"
)

func buildVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash grouped copies and compare them with the ledger",
		Long: `Hashes every file group copied and compares it with the hash recorded
when it was copied. Missing and altered copies are reported and make the
command fail. Nothing is modified.

Examples:
  fsledger verify
  fsledger verify -v --workers 4`,
		Args: cobra.NoArgs,
		RunE: runVerify,
	}
	cmd.Flags().Int("workers", config.DefaultVerifyWorkers, "Number of parallel workers for hashing")
	return cmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
	return runJob(cmd, "VERIFY", "", func(ctx context.Context, svc *usecase.Service) (*job.Run, error) {
		return svc.Verify(ctx)
	})
}
