package engine

import "github.com/pdleague/pdleague/internal/action"

// IsResolver reports whether the player's client is the one permitted to
// commit RoundResult and MatchComplete actions for the match.
//
// The election is a pure string comparison: the lexicographically first
// name of the canonical match key wins. This is the system's single
// substitute for real consensus and is valid only because exactly two
// parties ever write to a given match key. A malformed key elects nobody.
func IsResolver(matchKey, player string) bool {
	resolver, err := action.Resolver(matchKey)
	return err == nil && resolver == player
}
