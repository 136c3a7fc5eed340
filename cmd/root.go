package main

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fsledger/internal/config"
	"fsledger/pkg/job"
)

var (
	configPath string
	dryRun     bool
	verbose    bool
	resume     bool

	cfg *config.Config
)

func buildRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fsledger",
		Short: "Resumable batch processing of large file trees",
		Long: `fsledger indexes a file tree into a ledger, marks and deletes duplicate
content, groups files into classification folders and prunes empty
directories. Every job keeps a checkpoint in the ledger: an interrupted
job picks up where it stopped with "fsledger resume".

Commands:
  index    Hash every file below a root into the ledger
  mark     Flag duplicate content among indexed files
  delete   Remove files flagged as duplicates
  group    Copy files into folders named after their classification
  prune    Remove empty directories
  verify   Re-hash grouped copies and compare them with the ledger
  resume   Continue the last interrupted job
  status   Show checkpoints and ledger statistics
  export   Write a content manifest of the ledger

Typical workflow:
  fsledger index /backup/2018
  fsledger mark --dry-run
  fsledger mark
  fsledger delete --dry-run
  fsledger delete
  fsledger prune /backup/2018

Configuration:
  Settings are read from .fsledger.yaml in the working directory or $HOME,
  then FSLEDGER_* environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.LoadConfig(configPath, cmd.Flags())
			if err != nil {
				return job.Configf(err, "load config")
			}
			cfg = loaded

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return job.Configf(err, "logger")
			}
			cmd.SetContext(logger.WithContext(cmd.Context()))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default .fsledger.yaml in CWD or $HOME)")
	flags.String("db", config.DefaultDB, "Ledger database file")
	flags.Bool("lock", config.DefaultLock, "Hold an advisory lock next to the ledger while a job runs")
	flags.String("journal", "", "Append outcome events to this JSON-lines audit journal")
	flags.String("metrics-file", "", "Write Prometheus text metrics to this file after every job")
	flags.String("log-level", config.DefaultLogLevel, "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", config.DefaultLogFormat, "Log format (console or json)")
	flags.StringSlice("skip-glob", nil, "Skip paths matching this doublestar pattern (repeatable)")
	flags.BoolVar(&dryRun, "dry-run", false, "Show what would be done without making changes")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	return cmd
}

// newLogger builds the process logger. Logs go to w so they never mix with
// command output.
func newLogger(w io.Writer, lc config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	if strings.EqualFold(lc.Format, config.FormatJSON) {
		return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(console).Level(level).With().Timestamp().Logger(), nil
}

func addResumeFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue from the saved checkpoint instead of starting over")
}
