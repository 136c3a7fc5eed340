package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"fsledger/pkg/usecase"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

var statusOutput string

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoints and ledger statistics",
		Long: `Prints the checkpoint of every job kind together with record counts.
The ledger is only read; status works while another job runs.

Examples:
  fsledger status
  fsledger status --output yaml`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
	cmd.Flags().StringVarP(&statusOutput, "output", "o", outputTable, "Output format (table or yaml)")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	report, err := newUseCaseService().Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch statusOutput {
	case outputYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return errors.Errorf("encode status: %w", err)
		}
		return enc.Close()
	case outputTable:
		printStatus(out, report)
		return nil
	default:
		return errors.Errorf("unknown output format %q", statusOutput)
	}
}

func printStatus(out io.Writer, report usecase.StatusReport) {
	size := "?"
	if info, err := os.Stat(report.DB); err == nil {
		size = formatBytes(info.Size())
	}
	last := report.LastOperation
	if last == "" {
		last = "none"
	}

	fmt.Fprintf(out, "Ledger:         %s (%s)\n", report.DB, size)
	fmt.Fprintf(out, "Last operation: %s\n", last)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "=== Records ===")
	fmt.Fprintln(out, newTable(
		table.Row{"Indexed", report.Identities.Total},
		table.Row{"Hashed", report.Identities.Hashed},
		table.Row{"Duplicates", report.Identities.Duplicates},
		table.Row{"Deleted", report.Identities.Deleted},
		table.Row{"Grouped", report.Grouping.Total},
		table.Row{"Copied", report.Grouping.Copied},
		table.Row{"Duplicate copies", report.Grouping.Duplicates},
		table.Row{"Pending copies", report.Grouping.Pending},
	).Render())
	fmt.Fprintln(out)

	fmt.Fprintln(out, "=== Checkpoints ===")
	tbl := newTable()
	tbl.AppendHeader(table.Row{"Job", "State", "Progress", "Cursor", "Updated"})
	tbl.Style().Options.SeparateHeader = true
	for _, cp := range report.Checkpoints {
		updated := ""
		if !cp.UpdatedAt.IsZero() {
			updated = humanize.Time(cp.UpdatedAt)
		}
		tbl.AppendRow(table.Row{
			cp.Kind,
			cp.State,
			fmt.Sprintf("%d/%d", cp.Processed, cp.Total),
			cp.Cursor,
			updated,
		})
	}
	fmt.Fprintln(out, tbl.Render())
}
