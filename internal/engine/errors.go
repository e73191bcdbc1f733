package engine

import (
	"errors"
	"fmt"
)

// RefereeErrorCode categorizes engine errors.
type RefereeErrorCode string

const (
	// ErrCodeInvalidMove rejects a move outside {cooperate, defect} at the
	// intent boundary. No state change occurs.
	ErrCodeInvalidMove RefereeErrorCode = "INVALID_MOVE"

	// ErrCodeStateViolation rejects an intent the round state machine does
	// not accept: a choice outside AwaitingChoices, by a player who already
	// moved, or an advance outside ShowingResult. Never fatal, never worth
	// an automatic retry.
	ErrCodeStateViolation RefereeErrorCode = "STATE_VIOLATION"

	// ErrCodePersistenceFailure wraps a failed store append or load. Local
	// state is left unchanged, so a retry is safe and idempotent. The
	// engine does not retry on its own; policy belongs to the caller.
	ErrCodePersistenceFailure RefereeErrorCode = "PERSISTENCE_FAILURE"

	// ErrCodeReconstructionAnomaly reports a log shape no well-behaved set
	// of writers produces. The log remains authoritative; the anomaly is
	// surfaced once per match and the losing record is ignored.
	ErrCodeReconstructionAnomaly RefereeErrorCode = "RECONSTRUCTION_ANOMALY"
)

// RefereeError is the engine's structured error type.
type RefereeError struct {
	Code     RefereeErrorCode
	Message  string
	MatchKey string
	Round    int
	Player   string
	Err      error
}

// Error implements the error interface.
func (e *RefereeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.MatchKey != "" {
		msg += fmt.Sprintf(" (match=%s", e.MatchKey)
		if e.Round > 0 {
			msg += fmt.Sprintf(", round=%d", e.Round)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *RefereeError) Unwrap() error { return e.Err }

// IsInvalidMove reports whether err is an invalid-move rejection.
func IsInvalidMove(err error) bool { return hasCode(err, ErrCodeInvalidMove) }

// IsStateViolation reports whether err is a state machine rejection.
func IsStateViolation(err error) bool { return hasCode(err, ErrCodeStateViolation) }

// IsPersistenceFailure reports whether err wraps a failed store operation.
func IsPersistenceFailure(err error) bool { return hasCode(err, ErrCodePersistenceFailure) }

func hasCode(err error, code RefereeErrorCode) bool {
	var re *RefereeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
