package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdleague/pdleague/internal/action"
	"github.com/pdleague/pdleague/internal/store"
	"github.com/pdleague/pdleague/internal/testutil"
)

var roster = []string{"Arthur", "Laura", "Sergio", "Larissa"}

func newReferee(t *testing.T, log store.Log, player, token string, clock Clock) (*Referee, *testutil.RecordingSink) {
	t.Helper()
	sink := testutil.NewRecordingSink()
	r, err := New(Config{
		Log:            log,
		Sink:           sink,
		Player:         player,
		Roster:         roster,
		RoundsPerMatch: 10,
		Clock:          clock,
		Tokens:         NewFixedGenerator(token),
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, sink
}

// flakyLog fails a configured number of appends, then delegates.
type flakyLog struct {
	store.Log
	mu       sync.Mutex
	failures int
}

func (f *flakyLog) Append(ctx context.Context, a action.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}
	return f.Log.Append(ctx, a)
}

func TestNew_Validation(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()

	_, err := New(Config{Player: "Arthur", Roster: roster, RoundsPerMatch: 10})
	assert.Error(t, err, "log is required")

	_, err = New(Config{Log: mem, Player: "Zelda", Roster: roster, RoundsPerMatch: 10})
	assert.Error(t, err, "player must be in the roster")

	_, err = New(Config{Log: mem, Player: "Arthur", Roster: roster, RoundsPerMatch: 0})
	assert.Error(t, err, "rounds must be positive")

	r, err := New(Config{
		Log: mem, Player: "Arthur", Roster: roster, RoundsPerMatch: 10,
		Tokens: NewFixedGenerator("session-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "session-1", r.Token())
}

func TestReferee_StartMatchShowsChoiceScreen(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	r, sink := newReferee(t, mem, "Arthur", "s-arthur", testutil.NewDeterministicClock())

	require.NoError(t, r.StartMatch(ctx, "Laura"))
	assert.Equal(t, []string{"showChoices match=Arthur-Laura round=1"}, sink.Lines())

	// Re-opening re-emits the current screen.
	require.NoError(t, r.StartMatch(ctx, "Laura"))
	assert.Equal(t, []string{
		"showChoices match=Arthur-Laura round=1",
		"showChoices match=Arthur-Laura round=1",
	}, sink.Lines())
}

func TestReferee_StartMatchRejectsUnknownOpponent(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()

	r, _ := newReferee(t, mem, "Arthur", "s-arthur", testutil.NewDeterministicClock())
	err := r.StartMatch(context.Background(), "Zelda")
	assert.True(t, IsStateViolation(err))
}

func TestReferee_SubmitMoveRejectsInvalidMove(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	r, _ := newReferee(t, mem, "Arthur", "s-arthur", testutil.NewDeterministicClock())
	require.NoError(t, r.StartMatch(ctx, "Laura"))

	err := r.SubmitMove(ctx, "Laura", action.Move("betray"))
	assert.True(t, IsInvalidMove(err))

	actions, loadErr := mem.LoadAll(ctx)
	require.NoError(t, loadErr)
	assert.Empty(t, actions, "a rejected move must not reach the log")
}

func TestReferee_SubmitMoveShowsWaiting(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	r, sink := newReferee(t, mem, "Arthur", "s-arthur", testutil.NewDeterministicClock())
	require.NoError(t, r.StartMatch(ctx, "Laura"))
	require.NoError(t, r.SubmitMove(ctx, "Laura", action.Defect))

	assert.Equal(t, []string{
		"showChoices match=Arthur-Laura round=1",
		"showWaiting match=Arthur-Laura round=1",
	}, sink.Lines())
}

func TestReferee_SubmitMoveRejectsDoubleSubmit(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	r, _ := newReferee(t, mem, "Arthur", "s-arthur", testutil.NewDeterministicClock())
	require.NoError(t, r.StartMatch(ctx, "Laura"))
	require.NoError(t, r.SubmitMove(ctx, "Laura", action.Defect))

	err := r.SubmitMove(ctx, "Laura", action.Cooperate)
	assert.True(t, IsStateViolation(err))

	actions, loadErr := mem.Load(ctx, "Arthur-Laura")
	require.NoError(t, loadErr)
	assert.Len(t, actions, 1, "the second submission must not append")
}

func TestReferee_RoundResolution(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	arthur, sinkA := newReferee(t, mem, "Arthur", "s-arthur", clock)
	laura, sinkL := newReferee(t, mem, "Laura", "s-laura", clock)

	require.NoError(t, arthur.StartMatch(ctx, "Laura"))
	require.NoError(t, laura.StartMatch(ctx, "Arthur"))

	require.NoError(t, arthur.SubmitMove(ctx, "Laura", action.Defect))
	require.NoError(t, laura.SubmitMove(ctx, "Arthur", action.Cooperate))

	// Laura is not the resolver; she computes the payoff locally the moment
	// both moves are visible, before any result exists in the log.
	assert.Equal(t, "showResult match=Arthur-Laura round=1 moves=defect/cooperate points=5/0", sinkL.Last())
	actions, err := mem.Load(ctx, "Arthur-Laura")
	require.NoError(t, err)
	require.Len(t, actions, 2, "only choices are in the log before the resolver syncs")

	// Arthur, the resolver, commits the result on his next sync.
	require.NoError(t, arthur.Sync(ctx))
	assert.Equal(t, []string{
		"showChoices match=Arthur-Laura round=1",
		"showWaiting match=Arthur-Laura round=1",
		"showResult match=Arthur-Laura round=1 moves=defect/cooperate points=5/0",
	}, sinkA.Lines())

	actions, err = mem.Load(ctx, "Arthur-Laura")
	require.NoError(t, err)
	require.Len(t, actions, 3)
	result := actions[2]
	assert.Equal(t, action.KindRoundResult, result.Kind)
	// Deterministic resolution timestamp: one past the round's last choice.
	assert.Equal(t, int64(3), result.Timestamp)

	// Laura observes the logged result; it matches her local one, so her
	// screen does not change.
	require.NoError(t, laura.Sync(ctx))
	assert.Equal(t, []string{
		"showChoices match=Arthur-Laura round=1",
		"showResult match=Arthur-Laura round=1 moves=defect/cooperate points=5/0",
	}, sinkL.Lines())
}

func TestReferee_SubmitMoveRejectedWhileShowingResult(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	arthur, _ := newReferee(t, mem, "Arthur", "s-arthur", clock)
	laura, _ := newReferee(t, mem, "Laura", "s-laura", clock)
	require.NoError(t, arthur.StartMatch(ctx, "Laura"))
	require.NoError(t, laura.StartMatch(ctx, "Arthur"))
	require.NoError(t, arthur.SubmitMove(ctx, "Laura", action.Defect))
	require.NoError(t, laura.SubmitMove(ctx, "Arthur", action.Cooperate))
	require.NoError(t, arthur.Sync(ctx))

	err := arthur.SubmitMove(ctx, "Laura", action.Cooperate)
	assert.True(t, IsStateViolation(err), "no moves while a result is on screen")
}

func TestReferee_AdvanceWithoutResultRejected(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	r, _ := newReferee(t, mem, "Arthur", "s-arthur", testutil.NewDeterministicClock())
	require.NoError(t, r.StartMatch(ctx, "Laura"))

	err := r.RequestAdvance(ctx, "Laura")
	assert.True(t, IsStateViolation(err))
}

func TestReferee_AdvanceMovesToNextRound(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	arthur, sinkA := newReferee(t, mem, "Arthur", "s-arthur", clock)
	laura, _ := newReferee(t, mem, "Laura", "s-laura", clock)
	require.NoError(t, arthur.StartMatch(ctx, "Laura"))
	require.NoError(t, laura.StartMatch(ctx, "Arthur"))
	require.NoError(t, arthur.SubmitMove(ctx, "Laura", action.Defect))
	require.NoError(t, laura.SubmitMove(ctx, "Arthur", action.Cooperate))
	require.NoError(t, arthur.Sync(ctx))

	require.NoError(t, arthur.RequestAdvance(ctx, "Laura"))
	assert.Equal(t, "showChoices match=Arthur-Laura round=2", sinkA.Last())

	// Advancement is local: it writes nothing.
	actions, err := mem.Load(ctx, "Arthur-Laura")
	require.NoError(t, err)
	assert.Len(t, actions, 3)
}

func TestReferee_AdvanceWaitsForCommittedResult(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	arthur, _ := newReferee(t, mem, "Arthur", "s-arthur", clock)
	laura, sinkL := newReferee(t, mem, "Laura", "s-laura", clock)
	require.NoError(t, arthur.StartMatch(ctx, "Laura"))
	require.NoError(t, laura.StartMatch(ctx, "Arthur"))
	require.NoError(t, arthur.SubmitMove(ctx, "Laura", action.Defect))
	require.NoError(t, laura.SubmitMove(ctx, "Arthur", action.Cooperate))

	// Laura's result is computed locally; the log still holds only the two
	// choices. She cannot leave the result behind until the resolver
	// commits it, and the rejection says so instead of quietly reverting.
	want := "showResult match=Arthur-Laura round=1 moves=defect/cooperate points=5/0"
	require.Equal(t, want, sinkL.Last())

	err := laura.RequestAdvance(ctx, "Arthur")
	assert.True(t, IsStateViolation(err))
	assert.ErrorContains(t, err, "result not yet committed")
	assert.Equal(t, want, sinkL.Last(), "a rejected advance leaves the result on screen")

	require.NoError(t, arthur.Sync(ctx))
	require.NoError(t, laura.Sync(ctx))
	require.NoError(t, laura.RequestAdvance(ctx, "Arthur"))
	assert.Equal(t, "showChoices match=Arthur-Laura round=2", sinkL.Last())
}

func TestReferee_FullMatchCompletion(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	arthur, sinkA := newReferee(t, mem, "Arthur", "s-arthur", clock)
	laura, sinkL := newReferee(t, mem, "Laura", "s-laura", clock)
	require.NoError(t, arthur.StartMatch(ctx, "Laura"))
	require.NoError(t, laura.StartMatch(ctx, "Arthur"))

	for round := 1; round <= 10; round++ {
		require.NoError(t, arthur.SubmitMove(ctx, "Laura", action.Defect))
		require.NoError(t, laura.SubmitMove(ctx, "Arthur", action.Cooperate))
		require.NoError(t, arthur.Sync(ctx))
		require.NoError(t, laura.Sync(ctx))
		require.NoError(t, arthur.RequestAdvance(ctx, "Laura"))
		require.NoError(t, laura.RequestAdvance(ctx, "Arthur"))
	}

	want := "showComplete match=Arthur-Laura scores=Arthur:50,Laura:0"
	assert.Equal(t, want, sinkA.Last())
	assert.Equal(t, want, sinkL.Last())

	actions, err := mem.Load(ctx, "Arthur-Laura")
	require.NoError(t, err)
	var results, completions int
	for _, a := range actions {
		switch a.Kind {
		case action.KindRoundResult:
			results++
		case action.KindMatchComplete:
			completions++
			assert.Equal(t, map[string]int{"Arthur": 50, "Laura": 0}, a.MatchComplete.FinalScores)
		}
	}
	assert.Equal(t, 10, results)
	assert.Equal(t, 1, completions)

	require.NoError(t, arthur.OpenRanking(ctx))
	assert.Equal(t, "showRanking leader=Arthur points=50", sinkA.Last())
}

func TestReferee_TwoResolverTabsCommitOnce(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	tab1, sink1 := newReferee(t, mem, "Arthur", "tab-1", clock)
	tab2, sink2 := newReferee(t, mem, "Arthur", "tab-2", clock)
	laura, _ := newReferee(t, mem, "Laura", "s-laura", clock)

	require.NoError(t, tab1.StartMatch(ctx, "Laura"))
	require.NoError(t, tab2.StartMatch(ctx, "Laura"))
	require.NoError(t, laura.StartMatch(ctx, "Arthur"))

	require.NoError(t, tab1.SubmitMove(ctx, "Laura", action.Defect))
	require.NoError(t, laura.SubmitMove(ctx, "Arthur", action.Cooperate))

	// Both tabs see both moves and both try to resolve; the fresh replay
	// guard and the deterministic timestamp leave exactly one record.
	require.NoError(t, tab2.Sync(ctx))
	require.NoError(t, tab1.Sync(ctx))

	actions, err := mem.Load(ctx, "Arthur-Laura")
	require.NoError(t, err)
	var results int
	for _, a := range actions {
		if a.Kind == action.KindRoundResult {
			results++
		}
	}
	assert.Equal(t, 1, results)

	want := "showResult match=Arthur-Laura round=1 moves=defect/cooperate points=5/0"
	assert.Equal(t, want, sink1.Last())
	assert.Equal(t, want, sink2.Last())
}

func TestReferee_ResumeMidMatch(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	// Five resolved rounds, both cooperating.
	for round := 1; round <= 5; round++ {
		base := int64(round * 10)
		require.NoError(t, mem.Append(ctx, action.NewChoice("Arthur-Laura", round, "Arthur", action.Cooperate, base)))
		require.NoError(t, mem.Append(ctx, action.NewChoice("Arthur-Laura", round, "Laura", action.Cooperate, base+1)))
		require.NoError(t, mem.Append(ctx, action.NewRoundResult("Arthur-Laura", round, action.Cooperate, action.Cooperate, 3, 3, base+2)))
	}

	r, sink := newReferee(t, mem, "Arthur", "s-arthur", testutil.NewDeterministicClock())
	require.NoError(t, r.StartMatch(ctx, "Laura"))
	assert.Equal(t, []string{"showChoices match=Arthur-Laura round=6"}, sink.Lines())

	require.NoError(t, r.SubmitMove(ctx, "Laura", action.Defect))
	actions, err := mem.Load(ctx, "Arthur-Laura")
	require.NoError(t, err)
	last := actions[len(actions)-1]
	require.Equal(t, action.KindChoice, last.Kind)
	assert.Equal(t, 6, last.Choice.Round)
	// The session clock starts at 1, far behind the history at 10..52; the
	// fused timestamp keeps the new choice after everything observed.
	assert.Equal(t, int64(53), last.Timestamp)
}

func TestReferee_AnomalyReportedOncePerMatch(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	// A result with no choices behind it.
	require.NoError(t, mem.Append(ctx, action.NewRoundResult("Arthur-Laura", 1, action.Defect, action.Defect, 1, 1, 5)))

	r, sink := newReferee(t, mem, "Arthur", "s-arthur", testutil.NewDeterministicClock())
	require.NoError(t, r.StartMatch(ctx, "Laura"))

	errs := sink.Errors()
	require.Len(t, errs, 1)
	var re *RefereeError
	require.True(t, errors.As(errs[0], &re))
	assert.Equal(t, ErrCodeReconstructionAnomaly, re.Code)
	assert.Equal(t, "showChoices match=Arthur-Laura round=2", sink.Last(),
		"the anomalous result still counts; play continues at round 2")

	// Further snapshots of the same log do not repeat the report.
	require.NoError(t, r.SubmitMove(ctx, "Laura", action.Cooperate))
	assert.Len(t, sink.Errors(), 1)
}

func TestReferee_AppendFailureLeavesStateUnchanged(t *testing.T) {
	flaky := &flakyLog{Log: store.NewMemory(), failures: 1}
	defer flaky.Close()
	ctx := context.Background()

	r, sink := newReferee(t, flaky, "Arthur", "s-arthur", testutil.NewDeterministicClock())
	require.NoError(t, r.StartMatch(ctx, "Laura"))

	err := r.SubmitMove(ctx, "Laura", action.Defect)
	assert.True(t, IsPersistenceFailure(err))
	assert.Equal(t, "showChoices match=Arthur-Laura round=1", sink.Last(),
		"a failed append must not move the screen forward")

	actions, loadErr := flaky.Load(ctx, "Arthur-Laura")
	require.NoError(t, loadErr)
	assert.Empty(t, actions)

	// The failure left the round pristine, so the retry is accepted.
	require.NoError(t, r.SubmitMove(ctx, "Laura", action.Defect))
	assert.Equal(t, "showWaiting match=Arthur-Laura round=1", sink.Last())
}

func TestReferee_ResetRestartsAllClients(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	arthur, sinkA := newReferee(t, mem, "Arthur", "s-arthur", clock)
	laura, sinkL := newReferee(t, mem, "Laura", "s-laura", clock)
	require.NoError(t, arthur.StartMatch(ctx, "Laura"))
	require.NoError(t, laura.StartMatch(ctx, "Arthur"))
	require.NoError(t, arthur.SubmitMove(ctx, "Laura", action.Defect))
	require.NoError(t, laura.SubmitMove(ctx, "Arthur", action.Cooperate))
	require.NoError(t, arthur.Sync(ctx))
	require.NoError(t, laura.Sync(ctx))

	require.NoError(t, arthur.RequestReset(ctx))
	require.NoError(t, laura.Sync(ctx))

	actions, err := mem.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)

	assert.Equal(t, "showChoices match=Arthur-Laura round=1", sinkA.Last())
	assert.Equal(t, "showChoices match=Arthur-Laura round=1", sinkL.Last())
}

func TestReferee_Dashboard(t *testing.T) {
	mem := store.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	require.NoError(t, mem.Append(ctx, action.NewChoice("Arthur-Laura", 1, "Arthur", action.Defect, 1)))
	require.NoError(t, mem.Append(ctx, action.NewMatchComplete("Arthur-Sergio", map[string]int{"Arthur": 18, "Sergio": 22}, 100)))

	r, sink := newReferee(t, mem, "Arthur", "s-arthur", testutil.NewDeterministicClock())
	require.NoError(t, r.OpenDashboard(ctx))
	assert.Equal(t, "showDashboard player=Arthur new=1 active=1 completed=1", sink.Last())

	require.NoError(t, r.OpenRanking(ctx))
	assert.Equal(t, "showRanking leader=Sergio points=22", sink.Last())
}
