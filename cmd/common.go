package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"fsledger/pkg/job"
	"fsledger/pkg/usecase"
)

func newUseCaseService() *usecase.Service {
	return usecase.New(usecase.Options{
		DBPath:        cfg.DB,
		Lock:          cfg.Lock,
		SkipFiles:     cfg.Walk.SkipFiles,
		SkipDirs:      cfg.Walk.SkipDirs,
		SkipGlobs:     cfg.Walk.SkipGlobs,
		Journal:       cfg.Journal,
		MetricsFile:   cfg.MetricsFile,
		VerifyWorkers: cfg.Verify.Workers,
	})
}

type starter func(ctx context.Context, svc *usecase.Service) (*job.Run, error)

// runJob starts a job, renders its events until it ends and prints the
// summary.
func runJob(cmd *cobra.Command, title, target string, start starter) error {
	out := cmd.OutOrStdout()

	printDryRunBanner(out)
	printCommandHeader(out, title, target)

	run, err := start(cmd.Context(), newUseCaseService())
	if err != nil {
		return err
	}

	t, err := follow(out, run)
	printSummary(out, t.rows(time.Since(run.StartedAt))...)
	printDryRunHint(out)
	return err
}

// follow drains run's events, printing them as they arrive.
func follow(out io.Writer, run *job.Run) (tally, error) {
	prog := startProgress(string(run.Kind))
	defer prog.Stop()

	t := tally{counts: make(map[job.EventType]int)}
	for e := range run.Events() {
		t.counts[e.Type]++
		if e.Type == job.EventProgress {
			prog.Report(e.Percent)
			continue
		}
		printEvent(out, e)
	}
	return t, run.Wait()
}

var (
	deletedColor = color.New(color.FgRed)
	copiedColor  = color.New(color.FgGreen)
	skippedColor = color.New(color.FgYellow)
	groupColor   = color.New(color.FgCyan)
)

func printEvent(out io.Writer, e job.Event) {
	detailed := verbose || dryRun

	switch e.Type {
	case job.EventStatus:
		pterm.Info.WithWriter(out).Println(e.Text)
	case job.EventLog:
		if detailed {
			fmt.Fprintln(out, e.Text)
		}
	case job.EventItem:
		if verbose {
			fmt.Fprintf(out, "  %s\n", e.Path)
		}
	case job.EventGroupStart:
		if detailed {
			groupColor.Fprintf(out, "GROUP: %s\n", e.Path)
		}
	case job.EventGroupDuplicate:
		if detailed {
			fmt.Fprintf(out, "  DUP: %s\n", e.Path)
		}
	case job.EventDuplicateCount:
		if verbose {
			fmt.Fprintf(out, "  %d duplicate(s)\n", e.Count)
		}
	case job.EventCopied:
		copiedColor.Fprintf(out, "COPY: %s\n", e.Path)
	case job.EventSkippedDuplicate:
		if detailed {
			skippedColor.Fprintf(out, "SKIP: %s\n", e.Path)
		}
	case job.EventDeleted:
		deletedColor.Fprintf(out, "DELETE: %s\n", e.Path)
	case job.EventDone:
		pterm.Success.WithWriter(out).Println("Done")
	case job.EventError:
		pterm.Error.WithWriter(out).Println(e.Text)
	}
}

// tally counts a run's events by type.
type tally struct {
	counts map[job.EventType]int
}

func (t tally) rows(elapsed time.Duration) []table.Row {
	rows := []table.Row{{"Files visited", formatCount(t.counts[job.EventItem])}}

	optional := []struct {
		label string
		typ   job.EventType
	}{
		{"Duplicate groups", job.EventGroupStart},
		{"Duplicates", job.EventGroupDuplicate},
		{"Copied", job.EventCopied},
		{"Skipped duplicates", job.EventSkippedDuplicate},
		{"Deleted", job.EventDeleted},
	}
	for _, o := range optional {
		if n := t.counts[o.typ]; n > 0 {
			rows = append(rows, table.Row{o.label, formatCount(n)})
		}
	}

	return append(rows, table.Row{"Elapsed", elapsed.Round(time.Millisecond)})
}

func printDryRunBanner(out io.Writer) {
	if !dryRun {
		return
	}

	fmt.Fprintln(out, "=== DRY RUN - no changes will be made ===")
	fmt.Fprintln(out)
}

func printCommandHeader(out io.Writer, command, target string) {
	fmt.Fprintf(out, "Command: %s\n", command)
	if target != "" {
		fmt.Fprintf(out, "Target:  %s\n", target)
	}
	fmt.Fprintf(out, "Ledger:  %s\n", cfg.DB)
	fmt.Fprintln(out)
}

func printSummary(out io.Writer, rows ...table.Row) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Summary ===")
	fmt.Fprintln(out, newTable(rows...).Render())
}

func printDryRunHint(out io.Writer) {
	if !dryRun {
		return
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run without --dry-run to apply changes.")
}

// newTable returns a borderless two-column table.
func newTable(rows ...table.Row) table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateHeader = false
	tbl.AppendRows(rows)
	return tbl
}

func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// progressReporter prints the latest percentage to stderr at a fixed
// interval while a job runs.
type progressReporter struct {
	mu      sync.Mutex
	percent float64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func startProgress(label string) *progressReporter {
	p := &progressReporter{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	startTime := time.Now()
	ticker := time.NewTicker(5 * time.Second)

	go func() {
		defer close(p.doneCh)
		for {
			select {
			case <-ticker.C:
				elapsed := time.Since(startTime).Round(time.Second)
				fmt.Fprintf(os.Stderr, "%s... %.1f%% (%s elapsed)\n", label, p.current(), elapsed)
			case <-p.stopCh:
				ticker.Stop()
				return
			}
		}
	}()

	return p
}

func (p *progressReporter) Report(percent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percent = percent
}

func (p *progressReporter) current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

func (p *progressReporter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.doneCh
	})
}
