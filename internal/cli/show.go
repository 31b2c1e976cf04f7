package cli

import (
	"github.com/spf13/cobra"
)

func newShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Print an execution with its steps and dialog",
		Example: `  diagctl show test_3f2a9c0d1e4b
  diagctl show test_3f2a9c0d1e4b --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := opts.NewService(ctx, opts)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "initialize", Err: err}
			}
			detail, err := svc.GetExecutionDetail(ctx, args[0])
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "show " + args[0], Err: err}
			}
			if opts.Format == "json" {
				err = writeJSON(cmd.OutOrStdout(), detail)
			} else {
				err = writeDetailText(cmd.OutOrStdout(), detail)
			}
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "write output", Err: err}
			}
			return nil
		},
	}
}
