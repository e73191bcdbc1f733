package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pdleague/pdleague/internal/action"
	"github.com/pdleague/pdleague/internal/game"
	"github.com/pdleague/pdleague/internal/store"
	"github.com/pdleague/pdleague/internal/tournament"
)

// Config assembles a Referee.
type Config struct {
	// Log is the shared action log. Required.
	Log store.Log

	// Sink receives display commands. Defaults to NopSink.
	Sink CommandSink

	// Player is the local player's name. Required, must appear in Roster.
	Player string

	// Roster is the tournament's player list. Required.
	Roster []string

	// RoundsPerMatch is the fixed match length. Required, >= 1.
	RoundsPerMatch int

	// Clock supplies timestamps for locally written actions.
	// Defaults to a SystemClock.
	Clock Clock

	// Tokens generates the session token. Defaults to UUIDv7Generator.
	Tokens SessionTokenGenerator

	// Logger receives structured diagnostics. Defaults to a discard logger.
	Logger *slog.Logger
}

// display captures what is currently on screen for one match, used to
// suppress re-emitting the same command when redundant snapshots arrive.
type display struct {
	round     int
	phase     game.Phase
	selfMoved bool
	result    game.Result
}

// Referee is one client session's reconciliation engine.
//
// All state behind mu is derived: it can be discarded and rebuilt from the
// log at any time. Store callbacks enqueue snapshots; they are drained and
// reconciled under mu, so exactly one goroutine ever mutates derived state.
type Referee struct {
	log    store.Log
	sink   CommandSink
	clock  Clock
	logger *slog.Logger

	player string
	roster []string
	rounds int
	token  string

	queue *snapshotQueue

	mu              sync.Mutex
	states          map[string]game.RoundState
	cancels         map[string]func()
	lastDisplay     map[string]display
	shownComplete   map[string]bool
	anomalyReported map[string]bool
	observed        int64
	closed          bool
}

// New builds a Referee for one player session.
func New(cfg Config) (*Referee, error) {
	if cfg.Log == nil {
		return nil, errors.New("engine: log is required")
	}
	if cfg.Player == "" {
		return nil, errors.New("engine: player is required")
	}
	if cfg.RoundsPerMatch < 1 {
		return nil, fmt.Errorf("engine: rounds per match must be >= 1, got %d", cfg.RoundsPerMatch)
	}
	inRoster := false
	for _, p := range cfg.Roster {
		if p == cfg.Player {
			inRoster = true
			break
		}
	}
	if !inRoster {
		return nil, fmt.Errorf("engine: player %q is not in the roster", cfg.Player)
	}

	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = UUIDv7Generator{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	token := tokens.Generate()
	return &Referee{
		log:             cfg.Log,
		sink:            sink,
		clock:           clock,
		logger:          logger.With("session", token, "player", cfg.Player),
		player:          cfg.Player,
		roster:          append([]string(nil), cfg.Roster...),
		rounds:          cfg.RoundsPerMatch,
		token:           token,
		queue:           newSnapshotQueue(),
		states:          map[string]game.RoundState{},
		cancels:         map[string]func(){},
		lastDisplay:     map[string]display{},
		shownComplete:   map[string]bool{},
		anomalyReported: map[string]bool{},
	}, nil
}

// Token returns the session token.
func (r *Referee) Token() string { return r.token }

// StartMatch opens the match against the given opponent: subscribes to its
// log, replays it, and emits the screen the player should currently see.
// Re-opening an already open match re-emits its current screen.
func (r *Referee) StartMatch(ctx context.Context, opponent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.matchKeyFor(opponent)
	if err != nil {
		return err
	}

	// Opening always shows the current screen, even if unchanged.
	delete(r.lastDisplay, key)
	delete(r.shownComplete, key)

	subscribed, err := r.ensureMatchLocked(ctx, key)
	if err != nil {
		return err
	}
	if !subscribed {
		// Already subscribed: reconcile a fresh snapshot to re-emit.
		actions, err := r.log.Load(ctx, key)
		if err != nil {
			return r.persistence(key, "load match log", err)
		}
		r.reconcileSnapshotLocked(ctx, key, actions)
	}
	return r.drainLocked(ctx)
}

// SubmitMove records the local player's move for the current round. The
// move is validated and gated by the round state machine before anything is
// written; a failed append leaves all state unchanged and is safe to retry.
func (r *Referee) SubmitMove(ctx context.Context, opponent string, move action.Move) error {
	if !move.Valid() {
		return &RefereeError{
			Code:    ErrCodeInvalidMove,
			Message: fmt.Sprintf("move must be %q or %q, got %q", action.Cooperate, action.Defect, move),
			Player:  r.player,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.matchKeyFor(opponent)
	if err != nil {
		return err
	}
	if _, err := r.ensureMatchLocked(ctx, key); err != nil {
		return err
	}

	st, ok := r.states[key]
	if !ok {
		return &RefereeError{
			Code:     ErrCodeStateViolation,
			Message:  "match is not accepting moves",
			MatchKey: key,
			Player:   r.player,
		}
	}
	if err := st.CanAccept(r.player); err != nil {
		return &RefereeError{
			Code:     ErrCodeStateViolation,
			Message:  "move rejected",
			MatchKey: key,
			Round:    st.Round,
			Player:   r.player,
			Err:      err,
		}
	}

	// Fuse the clock to the log: a resuming session whose clock is behind
	// the observed history must still write past it, or the new choice
	// would replay before actions it causally follows.
	ts := r.clock.Now()
	if ts <= r.observed {
		ts = r.observed + 1
	}
	r.observed = ts

	a := action.NewChoice(key, st.Round, r.player, move, ts)
	if err := r.log.Append(ctx, a); err != nil {
		return r.persistence(key, "append choice", err)
	}
	r.logger.Info("choice committed", "match", key, "round", st.Round, "move", move)

	if err := r.drainLocked(ctx); err != nil {
		return err
	}
	// The store's change notification may lag behind Append on networked
	// backends; reconcile an explicit reload so the caller returns with the
	// move reflected.
	actions, err := r.log.Load(ctx, key)
	if err != nil {
		return r.persistence(key, "load match log", err)
	}
	r.reconcileSnapshotLocked(ctx, key, actions)
	return r.drainLocked(ctx)
}

// RequestAdvance moves past a displayed result. Advancement is local only;
// it produces no log entry, and the two players advance independently.
func (r *Referee) RequestAdvance(ctx context.Context, opponent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.matchKeyFor(opponent)
	if err != nil {
		return err
	}
	st, ok := r.states[key]
	if !ok {
		return &RefereeError{
			Code:     ErrCodeStateViolation,
			Message:  "no result on screen to advance past",
			MatchKey: key,
			Player:   r.player,
		}
	}
	actions, err := r.log.Load(ctx, key)
	if err != nil {
		return r.persistence(key, "load match log", err)
	}

	// A locally computed result must reach the log before the session can
	// leave it behind; otherwise the reload below would rebuild the same
	// round from the log and silently undo the advance.
	if st.Phase == game.ShowingResult {
		if view, verr := game.Reconstruct(key, r.rounds, actions); verr == nil && view.ResultFor(st.Round) == nil {
			return &RefereeError{
				Code:     ErrCodeStateViolation,
				Message:  "result not yet committed to the log",
				MatchKey: key,
				Round:    st.Round,
				Player:   r.player,
			}
		}
	}

	next, err := st.Advance(r.rounds)
	if err != nil {
		return &RefereeError{
			Code:     ErrCodeStateViolation,
			Message:  "advance rejected",
			MatchKey: key,
			Round:    st.Round,
			Player:   r.player,
			Err:      err,
		}
	}
	r.states[key] = next

	r.reconcileSnapshotLocked(ctx, key, actions)
	return r.drainLocked(ctx)
}

// OpenDashboard emits the player's new/active/completed match partition.
func (r *Referee) OpenDashboard(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	actions, err := r.log.LoadAll(ctx)
	if err != nil {
		return r.persistence("", "load log", err)
	}
	d, err := tournament.GamesFor(r.player, r.roster, actions)
	if err != nil {
		return &RefereeError{Code: ErrCodeStateViolation, Message: err.Error(), Err: err}
	}
	r.sink.ShowDashboard(d)
	return nil
}

// OpenRanking emits the global standings.
func (r *Referee) OpenRanking(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	actions, err := r.log.LoadAll(ctx)
	if err != nil {
		return r.persistence("", "load log", err)
	}
	r.sink.ShowRanking(tournament.Standings(r.roster, actions))
	return nil
}

// RequestReset wipes the shared log and all derived state. Every client
// observes the wipe through its subscriptions and rebuilds from scratch.
func (r *Referee) RequestReset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.log.Reset(ctx); err != nil {
		return r.persistence("", "reset log", err)
	}
	r.logger.Warn("tournament reset")

	// Queued snapshots predate the wipe or duplicate the reloads below.
	for {
		if _, ok := r.queue.TryDequeue(); !ok {
			break
		}
	}
	r.states = map[string]game.RoundState{}
	r.lastDisplay = map[string]display{}
	r.shownComplete = map[string]bool{}
	r.anomalyReported = map[string]bool{}

	keys := make([]string, 0, len(r.cancels))
	for key := range r.cancels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		actions, err := r.log.Load(ctx, key)
		if err != nil {
			return r.persistence(key, "load match log", err)
		}
		r.reconcileSnapshotLocked(ctx, key, actions)
	}
	return r.drainLocked(ctx)
}

// Sync drains pending store notifications. Intents drain implicitly; Sync
// exists for callers that only observe, such as a second tab displaying a
// match the player drives elsewhere.
func (r *Referee) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drainLocked(ctx)
}

// Run reconciles store notifications until ctx is cancelled or the Referee
// is closed. Interactive frontends call this on a background goroutine so
// pushed changes reach the screen without a local intent.
func (r *Referee) Run(ctx context.Context) error {
	for {
		if err := r.Sync(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-r.queue.Wait():
			if !ok {
				return nil
			}
		}
	}
}

// Close cancels all subscriptions and stops the queue.
func (r *Referee) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = map[string]func(){}
	r.mu.Unlock()

	r.queue.Close()
	return nil
}

func (r *Referee) matchKeyFor(opponent string) (string, error) {
	found := false
	for _, p := range r.roster {
		if p == opponent {
			found = true
			break
		}
	}
	if !found {
		return "", &RefereeError{
			Code:    ErrCodeStateViolation,
			Message: fmt.Sprintf("opponent %q is not in the roster", opponent),
			Player:  r.player,
		}
	}
	key, err := action.Key(r.player, opponent)
	if err != nil {
		return "", &RefereeError{
			Code:    ErrCodeStateViolation,
			Message: err.Error(),
			Player:  r.player,
			Err:     err,
		}
	}
	return key, nil
}

// ensureMatchLocked subscribes to the match and replays its log on first
// contact. Returns true if this call created the subscription.
func (r *Referee) ensureMatchLocked(ctx context.Context, key string) (bool, error) {
	if _, ok := r.cancels[key]; ok {
		return false, nil
	}

	// The callback runs on the store's goroutine and must only enqueue;
	// reconciliation happens when the snapshot is drained under mu.
	cancel, err := r.log.Subscribe(key, func(actions []action.Action) {
		r.queue.Enqueue(snapshot{matchKey: key, actions: actions})
	})
	if err != nil {
		return false, r.persistence(key, "subscribe", err)
	}
	r.cancels[key] = cancel

	actions, err := r.log.Load(ctx, key)
	if err != nil {
		return true, r.persistence(key, "load match log", err)
	}
	r.reconcileSnapshotLocked(ctx, key, actions)
	return true, nil
}

// drainLocked reconciles every queued snapshot. Reconciliation may append
// (resolver commits), whose echo notification lands back on the queue and
// is picked up by the same loop.
func (r *Referee) drainLocked(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, ok := r.queue.TryDequeue()
		if !ok {
			return nil
		}
		r.reconcileSnapshotLocked(ctx, s.matchKey, s.actions)
	}
}

// reconcileSnapshotLocked is the heart of the engine: it re-derives the
// match's state from a full log snapshot and decides what, if anything, to
// display or commit. It is idempotent; feeding it the same snapshot twice
// changes nothing.
func (r *Referee) reconcileSnapshotLocked(ctx context.Context, key string, actions []action.Action) {
	for _, a := range actions {
		if a.Timestamp > r.observed {
			r.observed = a.Timestamp
		}
	}

	view, err := game.Reconstruct(key, r.rounds, actions)
	if err != nil {
		r.sink.ReportError(&RefereeError{
			Code:     ErrCodeStateViolation,
			Message:  "log replay failed",
			MatchKey: key,
			Err:      err,
		})
		return
	}

	if len(view.Anomalies) > 0 && !r.anomalyReported[key] {
		r.anomalyReported[key] = true
		a := view.Anomalies[0]
		r.logger.Warn("log anomaly", "match", key, "kind", a.Kind, "round", a.Round)
		r.sink.ReportError(&RefereeError{
			Code:     ErrCodeReconstructionAnomaly,
			Message:  a.Message,
			MatchKey: key,
			Round:    a.Round,
		})
	}

	local, hasLocal := r.states[key]

	// An empty snapshot for a match holding local state means the log was
	// wiped out from under us; every piece of derived state restarts.
	if !view.Started() {
		delete(r.shownComplete, key)
		delete(r.anomalyReported, key)
		if hasLocal && (local.Round != 1 || local.Phase != game.AwaitingChoices || len(local.Moves) > 0) {
			delete(r.states, key)
			delete(r.lastDisplay, key)
			hasLocal = false
		}
	}

	if view.Completed {
		// A result still on screen stays there; advancing past it reveals
		// the final totals.
		if hasLocal && local.Phase == game.ShowingResult {
			return
		}
		delete(r.states, key)
		delete(r.lastDisplay, key)
		if !r.shownComplete[key] {
			r.shownComplete[key] = true
			r.sink.ShowMatchComplete(key, view.FinalScores)
		}
		return
	}

	// A displayed result is never torn down by a snapshot, only replaced if
	// the log disagrees with what was computed locally.
	if hasLocal && local.Phase == game.ShowingResult {
		if res := view.ResultFor(local.Round); res != nil && local.Result != nil && *res != *local.Result {
			next, err := local.AttachResult(*res)
			if err == nil {
				r.states[key] = next
				r.emitLocked(key, next)
			}
		}
		return
	}

	// Locally complete: the player advanced past the final round and is
	// waiting for the completion record.
	if hasLocal && local.Phase == game.Complete {
		if IsResolver(key, r.player) && len(view.Results) >= r.rounds {
			r.commitCompletionLocked(ctx, key)
		}
		return
	}

	// The round the local player sits in has been resolved in the log:
	// attach and display that result, letting the player advance at their
	// own pace.
	if hasLocal && local.Phase == game.AwaitingChoices {
		if res := view.ResultFor(local.Round); res != nil {
			next, err := local.AttachResult(*res)
			if err == nil {
				r.states[key] = next
				r.emitLocked(key, next)
			}
			// The final round's result also triggers the completion record.
			if len(view.Results) >= r.rounds && IsResolver(key, r.player) {
				r.commitCompletionLocked(ctx, key)
			}
			return
		}
	}

	// All rounds resolved but no completion record yet: the resolver writes
	// it; everyone learns the totals from its echo.
	if len(view.Results) >= r.rounds {
		if IsResolver(key, r.player) {
			r.commitCompletionLocked(ctx, key)
		}
		return
	}

	// Derive the current round's state purely from the log. Any divergent
	// local pending state is discarded; the log is authoritative.
	round := view.CurrentRound
	st, err := deriveRound(key, round, view.ChoicesFor(round))
	if err != nil {
		r.sink.ReportError(&RefereeError{
			Code:     ErrCodeStateViolation,
			Message:  "cannot derive round state",
			MatchKey: key,
			Round:    round,
			Err:      err,
		})
		return
	}

	if st.BothMoved() {
		if IsResolver(key, r.player) {
			// Commit first; the echo snapshot attaches and displays the
			// result. Local state stays pre-write so a failed append leaves
			// nothing to undo.
			r.states[key] = st
			r.commitRoundResultLocked(ctx, key, round)
			return
		}
		// The non-resolver computes the payoff locally for instant
		// feedback. It never persists results.
		res, err := resultFromState(key, st)
		if err == nil {
			if next, err := st.AttachResult(res); err == nil {
				r.states[key] = next
				r.emitLocked(key, next)
				return
			}
		}
	}

	r.states[key] = st
	r.emitLocked(key, st)
}

// commitRoundResultLocked writes the RoundResult for the round, guarded by
// a fresh replay so a result committed by another session (or another tab)
// is never duplicated. The timestamp is derived from the log, not the
// clock: max choice timestamp for the round plus one. Two racing resolver
// tabs therefore produce byte-identical actions with the same content ID,
// and the store collapses them to a single record.
func (r *Referee) commitRoundResultLocked(ctx context.Context, key string, round int) {
	actions, err := r.log.Load(ctx, key)
	if err != nil {
		r.sink.ReportError(r.persistence(key, "load match log", err))
		return
	}
	view, err := game.Reconstruct(key, r.rounds, actions)
	if err != nil {
		return
	}
	if view.ResultFor(round) != nil {
		// Someone beat us to it; reconcile what the log actually holds.
		r.reconcileSnapshotLocked(ctx, key, actions)
		return
	}

	p1, p2, err := action.SplitKey(key)
	if err != nil {
		return
	}
	choices := view.ChoicesFor(round)
	m1, ok1 := choices[p1]
	m2, ok2 := choices[p2]
	if !ok1 || !ok2 {
		return
	}
	pts1, pts2 := game.Score(m1, m2)

	ts := maxTimestamp(actions, func(a action.Action) bool {
		return a.Kind == action.KindChoice && a.Choice.Round == round
	}) + 1

	a := action.NewRoundResult(key, round, m1, m2, pts1, pts2, ts)
	if err := r.log.Append(ctx, a); err != nil {
		r.sink.ReportError(r.persistence(key, "append round result", err))
		return
	}
	r.logger.Info("round resolved",
		"match", key, "round", round, "points1", pts1, "points2", pts2)
}

// commitCompletionLocked writes the MatchComplete record once all rounds
// are resolved, with the same fresh-replay guard and deterministic
// timestamp scheme as round results.
func (r *Referee) commitCompletionLocked(ctx context.Context, key string) {
	actions, err := r.log.Load(ctx, key)
	if err != nil {
		r.sink.ReportError(r.persistence(key, "load match log", err))
		return
	}
	view, err := game.Reconstruct(key, r.rounds, actions)
	if err != nil {
		return
	}
	if view.Completed {
		r.reconcileSnapshotLocked(ctx, key, actions)
		return
	}
	if len(view.Results) < r.rounds {
		return
	}

	ts := maxTimestamp(actions, func(a action.Action) bool {
		return a.Kind == action.KindRoundResult
	}) + 1

	a := action.NewMatchComplete(key, view.Totals, ts)
	if err := r.log.Append(ctx, a); err != nil {
		r.sink.ReportError(r.persistence(key, "append completion", err))
		return
	}
	r.logger.Info("match completed", "match", key, "scores", view.Totals)
}

// emitLocked sends the display command for a round state, suppressing
// repeats of what is already on screen.
func (r *Referee) emitLocked(key string, st game.RoundState) {
	_, selfMoved := st.Moves[r.player]
	d := display{round: st.Round, phase: st.Phase, selfMoved: selfMoved}
	if st.Result != nil {
		d.result = *st.Result
	}
	if prev, ok := r.lastDisplay[key]; ok && prev == d {
		return
	}
	r.lastDisplay[key] = d

	switch {
	case st.Phase == game.ShowingResult && st.Result != nil:
		r.sink.ShowRoundResult(key, st.Round, *st.Result)
	case selfMoved:
		r.sink.ShowWaiting(key, st.Round)
	default:
		r.sink.ShowChoiceScreen(key, st.Round)
	}
}

func (r *Referee) persistence(key, op string, err error) *RefereeError {
	return &RefereeError{
		Code:     ErrCodePersistenceFailure,
		Message:  op + " failed",
		MatchKey: key,
		Player:   r.player,
		Err:      err,
	}
}

// deriveRound rebuilds a round's state from the logged choices. Choices are
// applied in canonical player order so the derivation is deterministic.
func deriveRound(key string, round int, choices map[string]action.Move) (game.RoundState, error) {
	st, err := game.NewRoundState(key, round)
	if err != nil {
		return st, err
	}
	p1, p2, err := action.SplitKey(key)
	if err != nil {
		return st, err
	}
	for _, p := range []string{p1, p2} {
		if m, ok := choices[p]; ok {
			st, err = st.ApplyChoice(p, m)
			if err != nil {
				return st, err
			}
		}
	}
	return st, nil
}

func resultFromState(key string, st game.RoundState) (game.Result, error) {
	p1, p2, err := action.SplitKey(key)
	if err != nil {
		return game.Result{}, err
	}
	m1, m2 := st.Moves[p1], st.Moves[p2]
	pts1, pts2 := game.Score(m1, m2)
	return game.Result{Move1: m1, Move2: m2, Points1: pts1, Points2: pts2}, nil
}

func maxTimestamp(actions []action.Action, keep func(action.Action) bool) int64 {
	var max int64
	for _, a := range actions {
		if keep(a) && a.Timestamp > max {
			max = a.Timestamp
		}
	}
	return max
}
