// Package game holds the pure match domain: the payoff function, the
// per-round state machine, and the reconstructor that folds an ordered
// action list into a MatchView.
//
// Nothing in this package performs I/O or holds hidden state. Round states
// are values: every transition returns a replacement, never mutates in
// place. The reconstructor is a pure function of the log, which is what
// lets independent clients converge on identical state by replaying the
// same actions.
package game
