package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdleague/pdleague/internal/action"
)

// actionRecord is the JSON shape of one log entry in trace output.
type actionRecord struct {
	MatchKey  string `json:"matchKey"`
	Timestamp int64  `json:"timestamp"`
	Seq       int64  `json:"seq"`
	Kind      string `json:"kind"`
	Summary   string `json:"summary"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log [match-key]",
		Short: "Dump the action log in replay order",
		Long: `Print every logged action in canonical replay order (timestamp, then
store sequence), optionally restricted to one match key such as
"Arthur-Laura". This is the complete shared state of the tournament;
everything else is derived from it.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			matchKey := ""
			if len(args) == 1 {
				matchKey = args[0]
			}
			return runLog(rootOpts, matchKey, cmd)
		},
	}
	return cmd
}

func runLog(opts *RootOptions, matchKey string, cmd *cobra.Command) error {
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

	ctx := cmd.Context()
	var actions []action.Action
	if matchKey == "" {
		actions, err = log.LoadAll(ctx)
	} else {
		if _, _, keyErr := action.SplitKey(matchKey); keyErr != nil {
			return WrapExitError(ExitFailure, "invalid match key", keyErr)
		}
		actions, err = log.Load(ctx, matchKey)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load action log", err)
	}

	if opts.Format == "json" {
		records := make([]actionRecord, len(actions))
		for i, a := range actions {
			records[i] = actionRecord{
				MatchKey:  a.MatchKey,
				Timestamp: a.Timestamp,
				Seq:       a.Seq,
				Kind:      string(a.Kind),
				Summary:   action.Fingerprint(a),
			}
		}
		return formatter.Success(records)
	}

	if len(actions) == 0 {
		return formatter.Success("log is empty")
	}
	lines := make([]string, len(actions))
	for i, a := range actions {
		lines[i] = action.Fingerprint(a)
	}
	return formatter.Success(strings.Join(lines, "\n"))
}
