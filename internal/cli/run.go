package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"diagnosis-runner/internal/usecase"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MaxRounds int
}

func newRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <disease-id>",
		Short: "Run one diagnostic simulation to completion",
		Long: `Run synthesizes a patient for the disease, converses with the diagnostic
service until it gives a diagnosis or the round budget is spent, and compares
the diagnosis with the disease.

Example:
  diagctl run flu --max-rounds 5
  diagctl run flu --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDiagnosis(ctx, opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxRounds, "max-rounds", 0, "dialog round budget (0 uses the default)")
	return cmd
}

func runDiagnosis(ctx context.Context, opts *RunOptions, diseaseID string, cmd *cobra.Command) error {
	svc, err := opts.NewService(ctx, opts.RootOptions)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "initialize", Err: err}
	}

	out, runErr := svc.Run(ctx, usecase.RunInput{DiseaseID: diseaseID, MaxRounds: opts.MaxRounds})
	view := runView{ExecutionID: out.ExecutionID, DiseaseName: out.DiseaseName, Status: string(out.Status)}
	if runErr != nil {
		view.Error = runErr.Error()
	}

	if out.ExecutionID != "" {
		w := cmd.OutOrStdout()
		var err error
		if opts.Format == "json" {
			err = writeJSON(w, view)
		} else {
			err = writeRunText(w, view)
		}
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "write output", Err: err}
		}
	}

	if runErr != nil {
		return &ExitError{Code: exitCodeFor(out.ExecutionID), Message: "run " + diseaseID, Err: runErr}
	}
	return nil
}
