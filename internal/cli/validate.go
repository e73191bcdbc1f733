package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdleague/pdleague/internal/config"
	"github.com/pdleague/pdleague/internal/tournament"
)

// validationResult is the JSON shape of validate output.
type validationResult struct {
	Valid   bool     `json:"valid"`
	Players []string `json:"players,omitempty"`
	Rounds  int      `json:"rounds,omitempty"`
	Matches []string `json:"matches,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a tournament config file",
		Long: `Check a YAML configuration against the embedded schema and report the
roster and match keys it would produce, without touching any store.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(path)
	if err != nil {
		if opts.Format == "json" {
			if encErr := formatter.Success(validationResult{Valid: false, Error: err.Error()}); encErr != nil {
				return encErr
			}
		} else {
			formatter.Error("E_CONFIG", err.Error(), nil)
		}
		return NewExitError(ExitFailure, "config is invalid")
	}

	keys, err := tournament.Pairs(cfg.Players)
	if err != nil {
		return WrapExitError(ExitFailure, "config is invalid", err)
	}

	if opts.Format == "json" {
		return formatter.Success(validationResult{
			Valid:   true,
			Players: cfg.Players,
			Rounds:  cfg.Rounds,
			Matches: keys,
		})
	}
	return formatter.Success(fmt.Sprintf("config is valid: %d players, %d rounds, %d matches",
		len(cfg.Players), cfg.Rounds, len(keys)))
}
