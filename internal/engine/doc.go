// Package engine implements the Referee: the round resolution and
// reconciliation engine that turns the shared append-only action log into
// a consistent per-match state machine on every client.
//
// ARCHITECTURE:
//
// One Referee per human session. There is no shared memory between
// sessions; the log is the only shared resource, and all cross-client
// coordination is message passing through it.
//
// Replay-driven sync:
// On every store notification the Referee re-derives match state from the
// complete snapshot via the reconstructor. It never applies incremental
// deltas. This trades recompute work (trivial at 4 players, 10 rounds) for
// immunity to a large class of ordering bugs.
//
// Deterministic resolver election:
// Only the canonical first player of a match key commits RoundResult and
// MatchComplete actions. Every client computes the election from the key
// string alone; no coordination round trip exists. The other player's
// client computes results locally for instant feedback but never persists
// them.
//
// Idempotent resolution:
// Before committing a result the Referee re-replays the log and skips the
// write if a result already exists. Committed records carry timestamps
// derived deterministically from the log, so two tabs of the resolver
// racing to commit produce byte-identical actions and the store's content
// ID dedup collapses them to one row.
//
// Suspension points:
// Every store interaction is awaited. While an append for a choice or a
// result is in flight, the issuing client's round state remains in its
// pre-write form; a failed append changes nothing and retry is safe.
package engine
