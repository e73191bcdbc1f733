package game

import (
	"errors"
	"fmt"

	"github.com/pdleague/pdleague/internal/action"
)

// Phase is the lifecycle state of a single round on one client.
type Phase string

const (
	// AwaitingChoices is the initial phase: fewer than two moves recorded.
	AwaitingChoices Phase = "awaitingChoices"
	// ShowingResult means both moves are in and a result is attached.
	// This is the only phase from which Advance is accepted.
	ShowingResult Phase = "showingResult"
	// Complete is terminal: the match has played its final round.
	Complete Phase = "complete"
)

// Guard violations, surfaced to the engine which maps them onto its error
// taxonomy. None of these are fatal and none make sense to retry.
var (
	ErrWrongPhase   = errors.New("operation not accepted in current phase")
	ErrAlreadyMoved = errors.New("player already moved this round")
	ErrNotInMatch   = errors.New("player is not part of this match")
	ErrNoResult     = errors.New("round has no result attached")
)

// Result is a resolved round's payoff. Move1/Points1 belong to the
// canonical first player of the match key.
type Result struct {
	Move1   action.Move
	Move2   action.Move
	Points1 int
	Points2 int
}

// RoundState is the derived per-round state held in one client's memory.
// It is a value: transitions return a replacement state. It is never
// persisted; the log is the only durable record.
type RoundState struct {
	MatchKey string
	Round    int
	Phase    Phase
	Moves    map[string]action.Move
	Result   *Result

	// WaitingFor lists players yet to move, in canonical order.
	WaitingFor []string
}

// NewRoundState creates the initial AwaitingChoices state for a round.
func NewRoundState(matchKey string, round int) (RoundState, error) {
	p1, p2, err := action.SplitKey(matchKey)
	if err != nil {
		return RoundState{}, err
	}
	return RoundState{
		MatchKey:   matchKey,
		Round:      round,
		Phase:      AwaitingChoices,
		Moves:      map[string]action.Move{},
		WaitingFor: []string{p1, p2},
	}, nil
}

// CanAccept reports whether a choice by the given player would be accepted.
// Returns nil, ErrWrongPhase, ErrAlreadyMoved, or ErrNotInMatch.
func (s RoundState) CanAccept(player string) error {
	p1, p2, err := action.SplitKey(s.MatchKey)
	if err != nil {
		return err
	}
	if player != p1 && player != p2 {
		return ErrNotInMatch
	}
	if s.Phase != AwaitingChoices {
		return fmt.Errorf("%w: phase %s", ErrWrongPhase, s.Phase)
	}
	if _, moved := s.Moves[player]; moved {
		return ErrAlreadyMoved
	}
	return nil
}

// ApplyChoice records a move and returns the successor state.
//
// This is the double-submit guard: a duplicate click, a tab refresh racing a
// stale UI, or a replayed log entry for a player who already moved all land
// here and are rejected without touching state.
func (s RoundState) ApplyChoice(player string, move action.Move) (RoundState, error) {
	if err := s.CanAccept(player); err != nil {
		return s, err
	}

	next := s.clone()
	next.Moves[player] = move
	waiting := next.WaitingFor[:0]
	for _, p := range next.WaitingFor {
		if p != player {
			waiting = append(waiting, p)
		}
	}
	next.WaitingFor = waiting
	return next, nil
}

// BothMoved reports whether both players have a recorded move.
func (s RoundState) BothMoved() bool {
	return len(s.Moves) == 2
}

// AttachResult attaches a computed or observed result and transitions to
// ShowingResult. Accepted from AwaitingChoices (the log is authoritative: a
// result observed for a round where this client holds fewer than two
// choices still wins) and as a replacement while already ShowingResult.
func (s RoundState) AttachResult(r Result) (RoundState, error) {
	if s.Phase == Complete {
		return s, fmt.Errorf("%w: phase %s", ErrWrongPhase, s.Phase)
	}
	next := s.clone()
	next.Result = &r
	next.Phase = ShowingResult
	next.WaitingFor = nil
	return next, nil
}

// Advance moves past a displayed result: to a fresh AwaitingChoices state
// for round+1, or to Complete when the final round has been shown.
//
// Advancement is strictly local - it produces no log entry. Clients need
// not agree on when they advance, only on what the round's outcome was.
func (s RoundState) Advance(roundsPerMatch int) (RoundState, error) {
	if s.Phase != ShowingResult {
		return s, fmt.Errorf("%w: phase %s", ErrWrongPhase, s.Phase)
	}
	if s.Result == nil {
		return s, ErrNoResult
	}
	if s.Round >= roundsPerMatch {
		next := s.clone()
		next.Phase = Complete
		return next, nil
	}
	return NewRoundState(s.MatchKey, s.Round+1)
}

func (s RoundState) clone() RoundState {
	next := s
	next.Moves = make(map[string]action.Move, len(s.Moves)+1)
	for p, m := range s.Moves {
		next.Moves[p] = m
	}
	next.WaitingFor = append([]string(nil), s.WaitingFor...)
	if s.Result != nil {
		r := *s.Result
		next.Result = &r
	}
	return next
}
