package action

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Match keys canonicalize the unordered player pair of a match: both names
// are NFC-normalized, sorted lexicographically, and joined with "-". The
// sorted order doubles as the resolver election (see Resolver), so the
// canonicalization must be byte-for-byte identical on every client.

// Key builds the canonical match key for two players.
//
// Names are NFC-normalized before comparison so that visually identical
// names typed on different platforms produce the same key.
func Key(a, b string) (string, error) {
	a = norm.NFC.String(strings.TrimSpace(a))
	b = norm.NFC.String(strings.TrimSpace(b))

	if a == "" || b == "" {
		return "", fmt.Errorf("matchkey: player names must be non-empty")
	}
	if a == b {
		return "", fmt.Errorf("matchkey: players must differ, got %q twice", a)
	}
	if strings.Contains(a, "-") || strings.Contains(b, "-") {
		return "", fmt.Errorf("matchkey: player names must not contain %q", "-")
	}

	if a < b {
		return a + "-" + b, nil
	}
	return b + "-" + a, nil
}

// SplitKey returns the canonical player pair of a match key.
// The first return value is always the lexicographically smaller name.
func SplitKey(key string) (p1, p2 string, err error) {
	parts := strings.SplitN(key, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("matchkey: malformed key %q", key)
	}
	if parts[0] >= parts[1] {
		return "", "", fmt.Errorf("matchkey: key %q is not in canonical order", key)
	}
	return parts[0], parts[1], nil
}

// Resolver returns the single player whose client is permitted to commit
// RoundResult and MatchComplete actions for the match.
//
// This is the system's substitute for real consensus: every client computes
// the same election outcome locally from the key string alone, with no round
// trip. It is valid only because exactly two parties ever write to a given
// match key.
func Resolver(key string) (string, error) {
	p1, _, err := SplitKey(key)
	if err != nil {
		return "", err
	}
	return p1, nil
}
