package game

import (
	"fmt"

	"github.com/pdleague/pdleague/internal/action"
)

// AnomalyKind categorizes log shapes that a well-behaved set of writers
// should never produce.
type AnomalyKind string

const (
	// AnomalyResultWithoutChoices marks a RoundResult for a round with
	// fewer than two choices in the log.
	AnomalyResultWithoutChoices AnomalyKind = "RESULT_WITHOUT_CHOICES"
	// AnomalyConflictingResults marks two differing results for one round.
	AnomalyConflictingResults AnomalyKind = "CONFLICTING_RESULTS"
	// AnomalyConflictingCompletion marks two differing completion records.
	AnomalyConflictingCompletion AnomalyKind = "CONFLICTING_COMPLETION"
)

// Anomaly is a reconstruction inconsistency. The policy is fixed: the log is
// authoritative and the first record in canonical order wins; anomalies are
// reported, never fatal, and the losing record is ignored.
type Anomaly struct {
	Kind    AnomalyKind
	Round   int
	Message string
}

// ResolvedRound pairs a round number with its resolved result.
type ResolvedRound struct {
	Round  int
	Result Result
}

// MatchView is the derived state of one match: a pure function of the log.
// It is recomputed on every change and never stored.
type MatchView struct {
	MatchKey       string
	RoundsPerMatch int

	// CurrentRound is derived exclusively from resolved results:
	// len(Results)+1, pinned to RoundsPerMatch+1 once completed. No client
	// ever increments it independently, which is what lets every observer
	// converge on the same value.
	CurrentRound int

	Results []ResolvedRound

	// Choices holds logged moves per round, first record per player wins.
	Choices map[int]map[string]action.Move

	Completed   bool
	FinalScores map[string]int

	// Totals are always recomputed by summing Results, never carried
	// forward incrementally, so a client that missed rounds still derives
	// the exact total after a single replay.
	Totals map[string]int

	Anomalies []Anomaly
}

// Reconstruct folds a match's actions into a MatchView.
//
// The input may be in any order; it is sorted into canonical replay order
// first. Calling Reconstruct twice on the same set yields identical views.
func Reconstruct(matchKey string, roundsPerMatch int, actions []action.Action) (MatchView, error) {
	p1, p2, err := action.SplitKey(matchKey)
	if err != nil {
		return MatchView{}, err
	}

	ordered := append([]action.Action(nil), action.ForMatch(actions, matchKey)...)
	action.Sort(ordered)

	view := MatchView{
		MatchKey:       matchKey,
		RoundsPerMatch: roundsPerMatch,
		CurrentRound:   1,
		Choices:        map[int]map[string]action.Move{},
		Totals:         map[string]int{p1: 0, p2: 0},
	}
	resultByRound := map[int]Result{}

	for _, a := range ordered {
		switch a.Kind {
		case action.KindChoice:
			c := a.Choice
			if view.Choices[c.Round] == nil {
				view.Choices[c.Round] = map[string]action.Move{}
			}
			// First record per (round, player) wins; a duplicate is the
			// same double-submit the state machine guard rejects live.
			if _, seen := view.Choices[c.Round][c.Player]; !seen {
				view.Choices[c.Round][c.Player] = c.Move
			}

		case action.KindRoundResult:
			r := a.RoundResult
			res := Result{Move1: r.Move1, Move2: r.Move2, Points1: r.Points1, Points2: r.Points2}
			if prev, exists := resultByRound[r.Round]; exists {
				if prev != res {
					view.Anomalies = append(view.Anomalies, Anomaly{
						Kind:    AnomalyConflictingResults,
						Round:   r.Round,
						Message: fmt.Sprintf("round %d has two differing results; keeping the first in canonical order", r.Round),
					})
				}
				continue
			}
			if len(view.Choices[r.Round]) < 2 {
				view.Anomalies = append(view.Anomalies, Anomaly{
					Kind:    AnomalyResultWithoutChoices,
					Round:   r.Round,
					Message: fmt.Sprintf("round %d resolved with %d choice(s) in the log", r.Round, len(view.Choices[r.Round])),
				})
			}
			resultByRound[r.Round] = res
			view.Results = append(view.Results, ResolvedRound{Round: r.Round, Result: res})
			view.Totals[p1] += res.Points1
			view.Totals[p2] += res.Points2
			if !view.Completed {
				view.CurrentRound = len(view.Results) + 1
			}

		case action.KindMatchComplete:
			if view.Completed {
				if !scoresEqual(view.FinalScores, a.MatchComplete.FinalScores) {
					view.Anomalies = append(view.Anomalies, Anomaly{
						Kind:    AnomalyConflictingCompletion,
						Message: "match has two differing completion records; keeping the first in canonical order",
					})
				}
				continue
			}
			view.Completed = true
			view.FinalScores = copyScores(a.MatchComplete.FinalScores)
			// Pinned one past the final round: no further play accepted.
			view.CurrentRound = roundsPerMatch + 1
		}
	}

	return view, nil
}

// ResultFor returns the resolved result for a round, or nil.
func (v MatchView) ResultFor(round int) *Result {
	for _, rr := range v.Results {
		if rr.Round == round {
			r := rr.Result
			return &r
		}
	}
	return nil
}

// ChoicesFor returns the logged moves for a round (possibly empty).
func (v MatchView) ChoicesFor(round int) map[string]action.Move {
	return v.Choices[round]
}

// Started reports whether the match has any logged activity.
func (v MatchView) Started() bool {
	return len(v.Choices) > 0 || len(v.Results) > 0 || v.Completed
}

func copyScores(scores map[string]int) map[string]int {
	out := make(map[string]int, len(scores))
	for p, pts := range scores {
		out[p] = pts
	}
	return out
}

func scoresEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for p, pts := range a {
		if b[p] != pts {
			return false
		}
	}
	return true
}
