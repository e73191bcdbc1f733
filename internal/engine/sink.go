package engine

import (
	"github.com/pdleague/pdleague/internal/game"
	"github.com/pdleague/pdleague/internal/tournament"
)

// CommandSink receives display commands from the Referee. The Referee owns
// all presentation decisions; the sink renders and never mutates state.
//
// Methods are invoked while the Referee holds its internal lock, so
// implementations must not call back into the Referee. They should render
// (or record) and return.
type CommandSink interface {
	// ShowChoiceScreen prompts the local player to pick a move for the round.
	ShowChoiceScreen(matchKey string, round int)

	// ShowWaiting indicates the local player has moved and the opponent
	// has not.
	ShowWaiting(matchKey string, round int)

	// ShowRoundResult displays a resolved round's payoff.
	ShowRoundResult(matchKey string, round int, result game.Result)

	// ShowMatchComplete displays final totals for a finished match.
	ShowMatchComplete(matchKey string, finalScores map[string]int)

	// ShowDashboard displays the player's new/active/completed matches.
	ShowDashboard(d tournament.Dashboard)

	// ShowRanking displays the global standings.
	ShowRanking(standings []tournament.Standing)

	// ReportError surfaces an asynchronous reconciliation problem, such as
	// a log anomaly. Intent rejections are returned to the caller instead.
	ReportError(err error)
}

// NopSink discards every command. Useful as a default and in tests that
// only assert on log contents.
type NopSink struct{}

func (NopSink) ShowChoiceScreen(string, int)             {}
func (NopSink) ShowWaiting(string, int)                  {}
func (NopSink) ShowRoundResult(string, int, game.Result) {}
func (NopSink) ShowMatchComplete(string, map[string]int) {}
func (NopSink) ShowDashboard(tournament.Dashboard)       {}
func (NopSink) ShowRanking([]tournament.Standing)        {}
func (NopSink) ReportError(error)                        {}
