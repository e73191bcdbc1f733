package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdleague/pdleague/internal/action"
	"github.com/pdleague/pdleague/internal/engine"
	"github.com/pdleague/pdleague/internal/game"
	"github.com/pdleague/pdleague/internal/tournament"
)

// NewPlayCommand creates the interactive play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <player>",
		Short: "Play the tournament interactively as the named player",
		Long: `Start an interactive session for one player. Commands:

  play <opponent>   open the match against an opponent
  c | cooperate     play cooperate in the current round
  d | defect        play defect in the current round
  n | next          advance past a displayed result
  dashboard         show your new, active and completed matches
  ranking           show the global standings
  reset             wipe the whole tournament
  q | quit          leave the session

Output is always text; the --format flag does not apply here.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runPlay(opts *RootOptions, player string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if !cfg.HasPlayer(player) {
		return NewExitError(ExitFailure, fmt.Sprintf("player %q is not on the roster %v", player, cfg.Players))
	}

	log, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	out := cmd.OutOrStdout()
	sink := newConsoleSink(out, player)

	ref, err := engine.New(engine.Config{
		Log:            log,
		Sink:           sink,
		Player:         player,
		Roster:         cfg.Players,
		RoundsPerMatch: cfg.Rounds,
		Logger:         slog.Default(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start referee", err)
	}
	defer ref.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pushed changes from other players reach the screen without a local
	// command.
	go func() {
		if runErr := ref.Run(ctx); runErr != nil && ctx.Err() == nil {
			slog.Error("referee stopped", "error", runErr)
		}
	}()

	fmt.Fprintf(out, "playing as %s (session %s); type 'help' for commands\n", player, ref.Token())
	if err := ref.OpenDashboard(ctx); err != nil {
		sink.ReportError(err)
	}

	var opponent string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var cmdErr error
		switch fields[0] {
		case "play":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: play <opponent>")
				continue
			}
			if cmdErr = ref.StartMatch(ctx, fields[1]); cmdErr == nil {
				opponent = fields[1]
			}
		case "c", "cooperate":
			cmdErr = submitMove(ctx, ref, opponent, action.Cooperate)
		case "d", "defect":
			cmdErr = submitMove(ctx, ref, opponent, action.Defect)
		case "n", "next", "continue":
			if opponent == "" {
				fmt.Fprintln(out, "open a match first: play <opponent>")
				continue
			}
			cmdErr = ref.RequestAdvance(ctx, opponent)
		case "dashboard":
			cmdErr = ref.OpenDashboard(ctx)
		case "ranking":
			cmdErr = ref.OpenRanking(ctx)
		case "reset":
			cmdErr = ref.RequestReset(ctx)
		case "help":
			fmt.Fprintln(out, cmd.Long)
		case "q", "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q; type 'help'\n", fields[0])
			continue
		}

		if cmdErr != nil {
			fmt.Fprintf(out, "rejected: %v\n", cmdErr)
		}
	}
	return scanner.Err()
}

func submitMove(ctx context.Context, ref *engine.Referee, opponent string, move action.Move) error {
	if opponent == "" {
		return errors.New("open a match first: play <opponent>")
	}
	return ref.SubmitMove(ctx, opponent, move)
}

// consoleSink renders display commands as human-readable terminal lines,
// oriented from the local player's perspective.
type consoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	player string
}

func newConsoleSink(out io.Writer, player string) *consoleSink {
	return &consoleSink{out: out, player: player}
}

// opponentOf extracts the other participant's name from a match key.
func (s *consoleSink) opponentOf(matchKey string) string {
	p1, p2, err := action.SplitKey(matchKey)
	if err != nil {
		return matchKey
	}
	if s.player == p1 {
		return p2
	}
	return p1
}

func (s *consoleSink) ShowChoiceScreen(matchKey string, round int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "[vs %s, round %d] choose your move: (c)ooperate or (d)efect\n",
		s.opponentOf(matchKey), round)
}

func (s *consoleSink) ShowWaiting(matchKey string, round int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp := s.opponentOf(matchKey)
	fmt.Fprintf(s.out, "[vs %s, round %d] move locked in; waiting for %s\n", opp, round, opp)
}

func (s *consoleSink) ShowRoundResult(matchKey string, round int, result game.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opp := s.opponentOf(matchKey)
	you, them := result.Move1, result.Move2
	youPts, themPts := result.Points1, result.Points2
	if p1, _, err := action.SplitKey(matchKey); err == nil && s.player != p1 {
		you, them = them, you
		youPts, themPts = themPts, youPts
	}
	fmt.Fprintf(s.out, "[vs %s, round %d] you played %s, %s played %s: you +%d, %s +%d (press n to continue)\n",
		opp, round, you, opp, them, youPts, opp, themPts)
}

func (s *consoleSink) ShowMatchComplete(matchKey string, finalScores map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opp := s.opponentOf(matchKey)
	yours, theirs := finalScores[s.player], finalScores[opp]
	verdict := "you drew"
	switch {
	case yours > theirs:
		verdict = "you won"
	case yours < theirs:
		verdict = "you lost"
	}
	fmt.Fprintf(s.out, "[vs %s] match complete: %s %d to %d\n", opp, verdict, yours, theirs)
}

func (s *consoleSink) ShowDashboard(d tournament.Dashboard) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.out, "matches for %s:\n", d.Player)
	writeGames := func(label string, games []tournament.Game) {
		if len(games) == 0 {
			return
		}
		fmt.Fprintf(s.out, "  %s:\n", label)
		for _, g := range games {
			switch g.Status {
			case tournament.StatusNew:
				fmt.Fprintf(s.out, "    vs %s\n", g.Opponent)
			default:
				fmt.Fprintf(s.out, "    vs %s (%d to %d)\n", g.Opponent, g.PlayerScore, g.OpponentScore)
			}
		}
	}
	writeGames("new", d.New)
	writeGames("active", d.Active)
	writeGames("completed", d.Completed)
}

func (s *consoleSink) ShowRanking(standings []tournament.Standing) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintln(s.out, "ranking:")
	for i, st := range standings {
		fmt.Fprintf(s.out, "  %d. %s: %d points (%d matches)\n",
			i+1, st.Player, st.TotalPoints, st.MatchesCompleted)
	}
}

func (s *consoleSink) ReportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "! %v\n", err)
}
