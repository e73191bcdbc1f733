package game

import "github.com/pdleague/pdleague/internal/action"

// Classic Prisoner's Dilemma payoff table. Fixed for the whole tournament.
const (
	pointsMutualCooperation = 3
	pointsMutualDefection   = 1
	pointsSucker            = 0
	pointsTemptation        = 5
)

// Score maps a pair of moves to a pair of points.
//
// Pure and total for legal moves; callers are responsible for rejecting
// anything that fails Move.Valid() before it gets here.
func Score(a, b action.Move) (pointsA, pointsB int) {
	switch {
	case a == action.Cooperate && b == action.Cooperate:
		return pointsMutualCooperation, pointsMutualCooperation
	case a == action.Cooperate && b == action.Defect:
		return pointsSucker, pointsTemptation
	case a == action.Defect && b == action.Cooperate:
		return pointsTemptation, pointsSucker
	default:
		return pointsMutualDefection, pointsMutualDefection
	}
}
