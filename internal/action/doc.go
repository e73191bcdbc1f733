// Package action defines the append-only action log model.
//
// The log is the single source of truth for every match. It is multi-writer
// (one writer per human session) and append-only: records are never mutated
// or removed after a successful append, except by a full tournament reset.
//
// Three record kinds exist, modeled as a closed tagged union with exhaustive
// handling at every consumer:
//
//   - Choice: one player's move for one round
//   - RoundResult: the resolved payoff for one round
//   - MatchComplete: final per-player totals for a finished match
//
// Replay order is (Timestamp, Seq) ascending. Timestamps are supplied by the
// writing engine; Seq is the insertion sequence assigned by the store. Two
// clients replaying the same underlying set therefore always compute the
// same order, even when the set was assembled from concurrent writers.
package action
