package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fsledger/pkg/job"
	"fsledger/pkg/organizer"
	"fsledger/pkg/usecase"
)

func buildGroupCommand() *cobra.Command {
	schemes := make([]string, 0, len(organizer.Schemes()))
	for _, s := range organizer.Schemes() {
		schemes = append(schemes, string(s))
	}

	cmd := &cobra.Command{
		Use:   "group [origin] [destination]",
		Short: "Copy files into folders named after their classification",
		Long: `Copies every file below origin into a folder below destination named
after the file's classification. Content already copied once is skipped
unless --copy-duplicates is set. Origin is never modified.

Schemes:
  ext-prefixed  report.PDF -> "dot pdf/report.PDF" (default)
  ext           report.PDF -> "pdf/report.PDF"
  stem          report.PDF -> "report/report.PDF"

The destination must not be inside origin.

Examples:
  fsledger group --dry-run ./backup ./sorted
  fsledger group --scheme ext ./backup ./sorted
  fsledger group --resume ./backup ./sorted`,
		Args: cobra.ExactArgs(2),
		RunE: runGroup,
	}

	cmd.Flags().String("scheme", string(organizer.DefaultScheme), "Classification scheme ("+strings.Join(schemes, ", ")+")")
	cmd.Flags().Bool("copy-duplicates", false, "Copy every file, including content already copied")
	addResumeFlag(cmd)
	return cmd
}

func runGroup(cmd *cobra.Command, args []string) error {
	scheme, err := organizer.ParseScheme(cfg.Group.Scheme)
	if err != nil {
		return job.Configf(err, "group")
	}

	target := fmt.Sprintf("%s -> %s (%s)", args[0], args[1], scheme)
	return runJob(cmd, "GROUP", target, func(ctx context.Context, svc *usecase.Service) (*job.Run, error) {
		return svc.Group(ctx, usecase.GroupRequest{
			Origin:         args[0],
			Destination:    args[1],
			Scheme:         scheme,
			CopyDuplicates: cfg.Group.CopyDuplicates,
			Resume:         resume,
			DryRun:         dryRun,
		})
	})
}
