package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/manifest"
)

var (
	exportOutput  string
	exportCompare string
)

func buildExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a content manifest of the ledger",
		Long: `Writes every live, hashed path of the ledger with its content hash as
JSON. With --compare, the current ledger is checked against an earlier
manifest and the command fails if any content it listed is gone.

Examples:
  fsledger export -o before.json
  fsledger delete
  fsledger export --compare before.json`,
		Args: cobra.NoArgs,
		RunE: runExport,
	}
	cmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write the manifest to this file instead of stdout")
	cmd.Flags().StringVar(&exportCompare, "compare", "", "Compare against this earlier manifest")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	current, err := newUseCaseService().Export(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if exportCompare != "" {
		before, err := manifest.Load(exportCompare)
		if err != nil {
			return err
		}

		missing := before.MissingFrom(current)
		for _, hash := range missing {
			deletedColor.Fprintf(out, "MISSING: %s (%v)\n", hash, before.HashIndex()[hash])
		}
		printSummary(out,
			table.Row{"Files before", formatCount(before.FileCount())},
			table.Row{"Files now", formatCount(current.FileCount())},
			table.Row{"Unique before", formatCount(before.UniqueFileCount())},
			table.Row{"Unique now", formatCount(current.UniqueFileCount())},
			table.Row{"Missing content", len(missing)},
		)
		if len(missing) > 0 {
			return errors.Errorf("%d content hash(es) from %s are gone", len(missing), exportCompare)
		}
		return nil
	}

	if exportOutput == "" {
		return current.Encode(out)
	}
	if err := current.Save(exportOutput); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %d entries (%d unique) to %s\n", current.FileCount(), current.UniqueFileCount(), exportOutput)
	return nil
}
