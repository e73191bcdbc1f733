package cli

import (
	"github.com/spf13/cobra"
)

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe the entire tournament",
		Long: `Delete every action from the shared log. All matches, results and
standings are gone; connected clients observe the wipe and restart at
round one. There is no undo.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitFailure, "refusing to reset without --yes")
			}
			return runReset(rootOpts, cmd)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}

func runReset(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	if err := log.Reset(cmd.Context()); err != nil {
		return WrapExitError(ExitCommandError, "failed to reset log", err)
	}
	return formatter.Success("tournament reset")
}
