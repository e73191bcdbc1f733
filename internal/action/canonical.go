package action

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// MarshalPayload serializes an action's variant payload to deterministic
// JSON TEXT for storage and content addressing.
//
// Determinism rules: keys sorted alphabetically (maps marshal sorted since
// Go 1.12), HTML escaping disabled, no trailing newline. The byte output
// for a given action is identical on every client, which is what makes the
// content ID (see ID) usable as an idempotency key.
func MarshalPayload(a Action) (string, error) {
	var m map[string]any
	switch a.Kind {
	case KindChoice:
		if a.Choice == nil {
			return "", fmt.Errorf("marshal payload: kind %q with nil payload", a.Kind)
		}
		m = map[string]any{
			"round":  a.Choice.Round,
			"player": a.Choice.Player,
			"move":   string(a.Choice.Move),
		}
	case KindRoundResult:
		if a.RoundResult == nil {
			return "", fmt.Errorf("marshal payload: kind %q with nil payload", a.Kind)
		}
		m = map[string]any{
			"round":   a.RoundResult.Round,
			"move1":   string(a.RoundResult.Move1),
			"move2":   string(a.RoundResult.Move2),
			"points1": a.RoundResult.Points1,
			"points2": a.RoundResult.Points2,
		}
	case KindMatchComplete:
		if a.MatchComplete == nil {
			return "", fmt.Errorf("marshal payload: kind %q with nil payload", a.Kind)
		}
		scores := make(map[string]any, len(a.MatchComplete.FinalScores))
		for p, pts := range a.MatchComplete.FinalScores {
			scores[p] = pts
		}
		m = map[string]any{"finalScores": scores}
	default:
		return "", fmt.Errorf("marshal payload: unknown kind %q", a.Kind)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// UnmarshalPayload reconstructs an action from its stored fields.
// Seq and Timestamp come from store columns, not the payload.
func UnmarshalPayload(matchKey string, ts, seq int64, kind Kind, payload string) (Action, error) {
	a := Action{MatchKey: matchKey, Timestamp: ts, Seq: seq, Kind: kind}

	switch kind {
	case KindChoice:
		var c Choice
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return Action{}, fmt.Errorf("unmarshal choice: %w", err)
		}
		a.Choice = &c
	case KindRoundResult:
		var r RoundResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return Action{}, fmt.Errorf("unmarshal roundResult: %w", err)
		}
		a.RoundResult = &r
	case KindMatchComplete:
		var mc MatchComplete
		if err := json.Unmarshal([]byte(payload), &mc); err != nil {
			return Action{}, fmt.Errorf("unmarshal matchComplete: %w", err)
		}
		a.MatchComplete = &mc
	default:
		return Action{}, fmt.Errorf("unmarshal payload: unknown kind %q", kind)
	}
	return a, nil
}

// ID computes the content-addressed identity of an action.
//
// The hash covers match key, kind, timestamp, and the canonical payload.
// A retried append of the same action value therefore produces the same ID,
// and the store's unique constraint turns the retry into a no-op. Seq is
// deliberately excluded: it does not exist until the store assigns it.
func ID(a Action) (string, error) {
	payload, err := MarshalPayload(a)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", a.MatchKey, a.Kind, a.Timestamp, payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint summarizes an action as a single human-readable line, used by
// trace output and test diagnostics.
func Fingerprint(a Action) string {
	switch a.Kind {
	case KindChoice:
		return fmt.Sprintf("choice %s r%d %s=%s", a.MatchKey, a.Choice.Round, a.Choice.Player, a.Choice.Move)
	case KindRoundResult:
		r := a.RoundResult
		return fmt.Sprintf("roundResult %s r%d %s/%s %d-%d", a.MatchKey, r.Round, r.Move1, r.Move2, r.Points1, r.Points2)
	case KindMatchComplete:
		players := make([]string, 0, len(a.MatchComplete.FinalScores))
		for p := range a.MatchComplete.FinalScores {
			players = append(players, p)
		}
		sort.Strings(players)
		parts := make([]string, len(players))
		for i, p := range players {
			parts[i] = fmt.Sprintf("%s=%d", p, a.MatchComplete.FinalScores[p])
		}
		return fmt.Sprintf("matchComplete %s %s", a.MatchKey, strings.Join(parts, " "))
	}
	return fmt.Sprintf("unknown %s", a.MatchKey)
}
