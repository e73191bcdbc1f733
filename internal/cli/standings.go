package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdleague/pdleague/internal/tournament"
)

// NewStandingsCommand creates the standings command.
func NewStandingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "standings",
		Short: "Show the global ranking",
		Long: `Rank the roster by total points across completed matches, recomputed
from the action log on every invocation. Ties keep roster order.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStandings(rootOpts, cmd)
		},
	}
	return cmd
}

func runStandings(opts *RootOptions, cmd *cobra.Command) error {
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

	actions, err := log.LoadAll(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load action log", err)
	}
	formatter.VerboseLog("replayed %d actions", len(actions))

	standings := tournament.Standings(cfg.Players, actions)
	if opts.Format == "json" {
		return formatter.Success(standings)
	}
	return formatter.Success(formatStandings(standings))
}

func formatStandings(standings []tournament.Standing) string {
	var b strings.Builder
	for i, s := range standings {
		fmt.Fprintf(&b, "%d. %-12s %3d points  %d matches", i+1, s.Player, s.TotalPoints, s.MatchesCompleted)
		if i < len(standings)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
