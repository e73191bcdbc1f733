// Package tournament derives per-player game lists and the global ranking
// by scanning the action log. Everything here is a pure function over the
// full log; nothing is cached or persisted.
package tournament

import (
	"fmt"
	"sort"

	"github.com/pdleague/pdleague/internal/action"
)

// GameStatus partitions a player's matches on the dashboard.
type GameStatus string

const (
	// StatusNew means the match key has no actions at all.
	StatusNew GameStatus = "new"
	// StatusActive means actions exist but no completion record.
	StatusActive GameStatus = "active"
	// StatusCompleted means a MatchComplete action exists.
	StatusCompleted GameStatus = "completed"
)

// Standing is one row of the global ranking.
type Standing struct {
	Player           string `json:"player"`
	TotalPoints      int    `json:"totalPoints"`
	MatchesCompleted int    `json:"matchesCompleted"`
}

// Game summarizes one match from a given player's perspective.
type Game struct {
	MatchKey      string     `json:"matchKey"`
	Opponent      string     `json:"opponent"`
	Status        GameStatus `json:"status"`
	PlayerScore   int        `json:"playerScore"`
	OpponentScore int        `json:"opponentScore"`
}

// Dashboard is the new/active/completed partition for one player.
type Dashboard struct {
	Player    string `json:"player"`
	New       []Game `json:"new"`
	Active    []Game `json:"active"`
	Completed []Game `json:"completed"`
}

// Pairs returns every unordered player pair of the roster as canonical
// match keys, in roster order of the first participant.
func Pairs(roster []string) ([]string, error) {
	var keys []string
	for i := 0; i < len(roster); i++ {
		for j := i + 1; j < len(roster); j++ {
			key, err := action.Key(roster[i], roster[j])
			if err != nil {
				return nil, fmt.Errorf("pairs: %w", err)
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Opponents returns the roster members the player still shares a pair with.
func Opponents(player string, roster []string) []string {
	var out []string
	for _, p := range roster {
		if p != player {
			out = append(out, p)
		}
	}
	return out
}

// Standings ranks the roster by total points across completed matches,
// descending. Ties are left unbroken: the sort is stable, so tied players
// keep roster order.
func Standings(roster []string, actions []action.Action) []Standing {
	ordered := append([]action.Action(nil), actions...)
	action.Sort(ordered)

	points := map[string]int{}
	completed := map[string]int{}
	counted := map[string]bool{}

	for _, a := range ordered {
		if a.Kind != action.KindMatchComplete {
			continue
		}
		// First completion per match in canonical order counts, matching
		// the reconstructor's anomaly policy.
		if counted[a.MatchKey] {
			continue
		}
		counted[a.MatchKey] = true
		for player, pts := range a.MatchComplete.FinalScores {
			points[player] += pts
			completed[player]++
		}
	}

	standings := make([]Standing, 0, len(roster))
	for _, player := range roster {
		standings = append(standings, Standing{
			Player:           player,
			TotalPoints:      points[player],
			MatchesCompleted: completed[player],
		})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].TotalPoints > standings[j].TotalPoints
	})
	return standings
}

// GamesFor partitions the player's matches against the full roster.
func GamesFor(player string, roster []string, actions []action.Action) (Dashboard, error) {
	d := Dashboard{Player: player}

	for _, opponent := range Opponents(player, roster) {
		key, err := action.Key(player, opponent)
		if err != nil {
			return Dashboard{}, fmt.Errorf("games for %s: %w", player, err)
		}
		matchActions := append([]action.Action(nil), action.ForMatch(actions, key)...)
		action.Sort(matchActions)
		p1, _, err := action.SplitKey(key)
		if err != nil {
			return Dashboard{}, err
		}

		g := Game{MatchKey: key, Opponent: opponent, Status: StatusNew}
		if len(matchActions) > 0 {
			g.Status = StatusActive
		}
		// First record per round and first completion in canonical order
		// count, matching the reconstructor's anomaly policy.
		scoredRounds := map[int]bool{}
		for _, a := range matchActions {
			switch a.Kind {
			case action.KindRoundResult:
				if scoredRounds[a.RoundResult.Round] {
					continue
				}
				scoredRounds[a.RoundResult.Round] = true
				if player == p1 {
					g.PlayerScore += a.RoundResult.Points1
					g.OpponentScore += a.RoundResult.Points2
				} else {
					g.PlayerScore += a.RoundResult.Points2
					g.OpponentScore += a.RoundResult.Points1
				}
			case action.KindMatchComplete:
				if g.Status != StatusCompleted {
					g.Status = StatusCompleted
					g.PlayerScore = a.MatchComplete.FinalScores[player]
					g.OpponentScore = a.MatchComplete.FinalScores[opponent]
				}
			}
		}

		switch g.Status {
		case StatusNew:
			d.New = append(d.New, g)
		case StatusActive:
			d.Active = append(d.Active, g)
		case StatusCompleted:
			d.Completed = append(d.Completed, g)
		}
	}
	return d, nil
}
