package main

import (
	"context"

	"github.com/spf13/cobra"

	"fsledger/pkg/job"
	"fsledger/pkg/usecase"
)

func buildIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Hash every file below a root into the ledger",
		Long: `Walks the tree below the given root and records every regular file with
its SHA-256 content hash. Files the ledger already knows are not hashed
again, so re-running index after adding files only hashes the new ones.
Directories named .git or git (any case) below the root are skipped, and
symlinks are never indexed.

Examples:
  fsledger index ./backup              # Index a tree
  fsledger index --resume ./backup     # Continue an interrupted index
  fsledger index --db other.db ./data  # Use another ledger`,
		Args: cobra.ExactArgs(1),
		RunE: runIndex,
	}
	addResumeFlag(cmd)
	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	root := args[0]
	return runJob(cmd, "INDEX", root, func(ctx context.Context, svc *usecase.Service) (*job.Run, error) {
		return svc.Index(ctx, usecase.IndexRequest{Root: root, Resume: resume, DryRun: dryRun})
	})
}
