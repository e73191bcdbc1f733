package action

import (
	"fmt"
	"sort"
)

// Move is a player's choice in a single round.
type Move string

const (
	// Cooperate is the cooperative move.
	Cooperate Move = "cooperate"
	// Defect is the defecting move.
	Defect Move = "defect"
)

// Valid reports whether the move is one of the two legal values.
// Anything else is a caller contract violation and must be rejected
// at the intent boundary before it reaches the log.
func (m Move) Valid() bool {
	return m == Cooperate || m == Defect
}

// Kind identifies an action variant.
type Kind string

const (
	// KindChoice records one player's move for one round.
	KindChoice Kind = "choice"
	// KindRoundResult records the resolved payoff for one round.
	KindRoundResult Kind = "roundResult"
	// KindMatchComplete records final totals for a finished match.
	KindMatchComplete Kind = "matchComplete"
)

// Choice is the payload of a KindChoice action.
type Choice struct {
	Round  int    `json:"round"`
	Player string `json:"player"`
	Move   Move   `json:"move"`
}

// RoundResult is the payload of a KindRoundResult action.
//
// Move1/Points1 always refer to the canonical first player of the match key
// (the lexicographically smaller name), Move2/Points2 to the second. This
// ordering is load-bearing: it is what lets every observer attribute points
// without consulting any state beyond the key itself.
type RoundResult struct {
	Round   int  `json:"round"`
	Move1   Move `json:"move1"`
	Move2   Move `json:"move2"`
	Points1 int  `json:"points1"`
	Points2 int  `json:"points2"`
}

// MatchComplete is the payload of a KindMatchComplete action.
type MatchComplete struct {
	FinalScores map[string]int `json:"finalScores"`
}

// Action is one immutable record of the shared log.
//
// Exactly one of Choice, RoundResult, MatchComplete is non-nil, matching
// Kind. Timestamp is engine-supplied (logical-clock-fused unix nanoseconds);
// Seq is assigned by the store on insertion and is zero until then.
type Action struct {
	MatchKey  string
	Timestamp int64
	Seq       int64
	Kind      Kind

	Choice        *Choice
	RoundResult   *RoundResult
	MatchComplete *MatchComplete
}

// NewChoice builds a choice action for the given match key.
func NewChoice(matchKey string, round int, player string, move Move, ts int64) Action {
	return Action{
		MatchKey:  matchKey,
		Timestamp: ts,
		Kind:      KindChoice,
		Choice:    &Choice{Round: round, Player: player, Move: move},
	}
}

// NewRoundResult builds a round result action for the given match key.
func NewRoundResult(matchKey string, round int, move1, move2 Move, points1, points2 int, ts int64) Action {
	return Action{
		MatchKey:  matchKey,
		Timestamp: ts,
		Kind:      KindRoundResult,
		RoundResult: &RoundResult{
			Round:   round,
			Move1:   move1,
			Move2:   move2,
			Points1: points1,
			Points2: points2,
		},
	}
}

// NewMatchComplete builds a completion action for the given match key.
// The scores map is copied; later mutation of the argument is harmless.
func NewMatchComplete(matchKey string, finalScores map[string]int, ts int64) Action {
	scores := make(map[string]int, len(finalScores))
	for p, pts := range finalScores {
		scores[p] = pts
	}
	return Action{
		MatchKey:      matchKey,
		Timestamp:     ts,
		Kind:          KindMatchComplete,
		MatchComplete: &MatchComplete{FinalScores: scores},
	}
}

// Validate checks structural integrity: kind matches payload, the match key
// is canonical, round numbers are positive, moves are legal, and a choice's
// player actually belongs to the match.
func (a Action) Validate() error {
	if _, _, err := SplitKey(a.MatchKey); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	if a.Timestamp <= 0 {
		return fmt.Errorf("action: timestamp must be positive, got %d", a.Timestamp)
	}

	switch a.Kind {
	case KindChoice:
		if a.Choice == nil || a.RoundResult != nil || a.MatchComplete != nil {
			return fmt.Errorf("action: kind %q payload mismatch", a.Kind)
		}
		c := a.Choice
		if c.Round < 1 {
			return fmt.Errorf("action: choice round must be >= 1, got %d", c.Round)
		}
		if !c.Move.Valid() {
			return fmt.Errorf("action: invalid move %q", c.Move)
		}
		p1, p2, _ := SplitKey(a.MatchKey)
		if c.Player != p1 && c.Player != p2 {
			return fmt.Errorf("action: player %q is not part of match %q", c.Player, a.MatchKey)
		}
	case KindRoundResult:
		if a.RoundResult == nil || a.Choice != nil || a.MatchComplete != nil {
			return fmt.Errorf("action: kind %q payload mismatch", a.Kind)
		}
		r := a.RoundResult
		if r.Round < 1 {
			return fmt.Errorf("action: result round must be >= 1, got %d", r.Round)
		}
		if !r.Move1.Valid() || !r.Move2.Valid() {
			return fmt.Errorf("action: invalid moves %q/%q", r.Move1, r.Move2)
		}
	case KindMatchComplete:
		if a.MatchComplete == nil || a.Choice != nil || a.RoundResult != nil {
			return fmt.Errorf("action: kind %q payload mismatch", a.Kind)
		}
		if len(a.MatchComplete.FinalScores) != 2 {
			return fmt.Errorf("action: matchComplete must carry exactly two scores, got %d", len(a.MatchComplete.FinalScores))
		}
	default:
		return fmt.Errorf("action: unknown kind %q", a.Kind)
	}
	return nil
}

// Sort orders actions by (Timestamp, Seq) ascending, in place.
//
// This is the canonical replay order. The sort is stable so that actions
// carrying identical (Timestamp, Seq) pairs - possible only before the store
// has assigned sequences - keep their relative order.
func Sort(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Timestamp != actions[j].Timestamp {
			return actions[i].Timestamp < actions[j].Timestamp
		}
		return actions[i].Seq < actions[j].Seq
	})
}

// ForMatch returns the subset of actions belonging to the given match key,
// preserving order.
func ForMatch(actions []Action, matchKey string) []Action {
	var out []Action
	for _, a := range actions {
		if a.MatchKey == matchKey {
			out = append(out, a)
		}
	}
	return out
}
