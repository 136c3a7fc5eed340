package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"fsledger/internal/config"
	"fsledger/pkg/job"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitCancelled = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		// A second signal terminates the process.
		<-ctx.Done()
		stop()
	}()

	err := newCommand().ExecuteContext(ctx)
	stop()

	code := exitCode(err)
	switch code {
	case exitOK:
	case exitCancelled:
		pterm.Warning.WithWriter(os.Stderr).Println("Cancelled. Run \"fsledger resume\" to continue.")
	default:
		pterm.Error.WithWriter(os.Stderr).Println(err.Error())
	}
	os.Exit(code)
}

func newCommand() *cobra.Command {
	rootCmd := buildRootCommand()
	rootCmd.AddCommand(buildIndexCommand())
	rootCmd.AddCommand(buildMarkCommand())
	rootCmd.AddCommand(buildDeleteCommand())
	rootCmd.AddCommand(buildGroupCommand())
	rootCmd.AddCommand(buildPruneCommand())
	rootCmd.AddCommand(buildVerifyCommand())
	rootCmd.AddCommand(buildResumeCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildExportCommand())
	return rootCmd
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, job.ErrCancelled):
		return exitCancelled
	case job.IsConfigError(err), config.IsInvalid(err):
		return exitConfig
	default:
		return exitFailure
	}
}
