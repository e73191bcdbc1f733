package action

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_CanonicalOrdering(t *testing.T) {
	k1, err := Key("Laura", "Arthur")
	require.NoError(t, err)
	k2, err := Key("Arthur", "Laura")
	require.NoError(t, err)

	assert.Equal(t, "Arthur-Laura", k1)
	assert.Equal(t, k1, k2, "key must be independent of argument order")
}

func TestKey_RejectsInvalidPairs(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"same player twice", "Arthur", "Arthur"},
		{"empty name", "", "Laura"},
		{"whitespace only", "   ", "Laura"},
		{"hyphen in name", "Jean-Luc", "Laura"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Key(tt.a, tt.b)
			assert.Error(t, err)
		})
	}
}

func TestSplitKey(t *testing.T) {
	p1, p2, err := SplitKey("Arthur-Laura")
	require.NoError(t, err)
	assert.Equal(t, "Arthur", p1)
	assert.Equal(t, "Laura", p2)

	_, _, err = SplitKey("Laura-Arthur")
	assert.Error(t, err, "non-canonical order must be rejected")

	_, _, err = SplitKey("Arthur")
	assert.Error(t, err)
}

func TestResolver_IsCanonicalFirstPlayer(t *testing.T) {
	r, err := Resolver("Arthur-Laura")
	require.NoError(t, err)
	assert.Equal(t, "Arthur", r)
}

func TestValidate_KindPayloadMismatch(t *testing.T) {
	a := NewChoice("Arthur-Laura", 1, "Arthur", Cooperate, 100)
	a.RoundResult = &RoundResult{Round: 1}
	assert.Error(t, a.Validate())
}

func TestValidate_ChoicePlayerMustBelongToMatch(t *testing.T) {
	a := NewChoice("Arthur-Laura", 1, "Sergio", Cooperate, 100)
	assert.Error(t, a.Validate())
}

func TestValidate_InvalidMove(t *testing.T) {
	a := NewChoice("Arthur-Laura", 1, "Arthur", Move("betray"), 100)
	assert.Error(t, a.Validate())
}

func TestValidate_AcceptsWellFormedActions(t *testing.T) {
	require.NoError(t, NewChoice("Arthur-Laura", 1, "Laura", Defect, 1).Validate())
	require.NoError(t, NewRoundResult("Arthur-Laura", 1, Cooperate, Defect, 0, 5, 2).Validate())
	require.NoError(t, NewMatchComplete("Arthur-Laura", map[string]int{"Arthur": 27, "Laura": 19}, 3).Validate())
}

func TestSort_OrdersByTimestampThenSeq(t *testing.T) {
	mk := func(ts, seq int64) Action {
		a := NewChoice("Arthur-Laura", 1, "Arthur", Cooperate, ts)
		a.Seq = seq
		return a
	}
	actions := []Action{mk(30, 1), mk(10, 3), mk(10, 2), mk(20, 4)}
	Sort(actions)

	assert.Equal(t, int64(2), actions[0].Seq)
	assert.Equal(t, int64(3), actions[1].Seq)
	assert.Equal(t, int64(4), actions[2].Seq)
	assert.Equal(t, int64(1), actions[3].Seq)
}

// Any permutation of the same set must sort to the same canonical order.
func TestSort_PermutationInvariant(t *testing.T) {
	base := []Action{
		NewChoice("Arthur-Laura", 1, "Arthur", Defect, 10),
		NewChoice("Arthur-Laura", 1, "Laura", Cooperate, 20),
		NewRoundResult("Arthur-Laura", 1, Defect, Cooperate, 5, 0, 30),
		NewChoice("Arthur-Laura", 2, "Laura", Defect, 40),
	}
	for i := range base {
		base[i].Seq = int64(i + 1)
	}

	want := make([]Action, len(base))
	copy(want, base)
	Sort(want)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		shuffled := make([]Action, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		Sort(shuffled)
		require.Equal(t, want, shuffled, "trial %d", trial)
	}
}

func TestMarshalPayload_DeterministicAcrossScoreMapOrder(t *testing.T) {
	a := NewMatchComplete("Arthur-Laura", map[string]int{"Laura": 19, "Arthur": 27}, 99)
	b := NewMatchComplete("Arthur-Laura", map[string]int{"Arthur": 27, "Laura": 19}, 99)

	pa, err := MarshalPayload(a)
	require.NoError(t, err)
	pb, err := MarshalPayload(b)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestID_StableForRetriesDistinctForDifferentActions(t *testing.T) {
	a := NewChoice("Arthur-Laura", 3, "Arthur", Defect, 500)
	retry := NewChoice("Arthur-Laura", 3, "Arthur", Defect, 500)
	other := NewChoice("Arthur-Laura", 3, "Laura", Defect, 500)

	ida, err := ID(a)
	require.NoError(t, err)
	idr, err := ID(retry)
	require.NoError(t, err)
	ido, err := ID(other)
	require.NoError(t, err)

	assert.Equal(t, ida, idr, "same action value must produce the same ID")
	assert.NotEqual(t, ida, ido)
}

func TestUnmarshalPayload_RoundTrip(t *testing.T) {
	orig := NewRoundResult("Arthur-Laura", 7, Defect, Defect, 1, 1, 700)
	payload, err := MarshalPayload(orig)
	require.NoError(t, err)

	got, err := UnmarshalPayload("Arthur-Laura", 700, 42, KindRoundResult, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Seq)
	assert.Equal(t, orig.RoundResult, got.RoundResult)
}

func TestForMatch_FiltersByKey(t *testing.T) {
	actions := []Action{
		NewChoice("Arthur-Laura", 1, "Arthur", Cooperate, 1),
		NewChoice("Larissa-Sergio", 1, "Sergio", Defect, 2),
		NewChoice("Arthur-Laura", 1, "Laura", Defect, 3),
	}
	got := ForMatch(actions, "Arthur-Laura")
	require.Len(t, got, 2)
	assert.Equal(t, "Arthur", got[0].Choice.Player)
	assert.Equal(t, "Laura", got[1].Choice.Player)
}
