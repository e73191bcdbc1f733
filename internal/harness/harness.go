// Package harness runs scripted multi-session tournaments over a shared
// in-memory log and captures the interleaved display commands as one
// deterministic text trace. Scenarios double as executable documentation of
// the reconciliation protocol: each step line is followed by exactly the
// screens it caused, on every session.
package harness

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pdleague/pdleague/internal/action"
	"github.com/pdleague/pdleague/internal/engine"
	"github.com/pdleague/pdleague/internal/game"
	"github.com/pdleague/pdleague/internal/store"
	"github.com/pdleague/pdleague/internal/testutil"
	"github.com/pdleague/pdleague/internal/tournament"
)

// Step operations.
const (
	OpStart     = "start"     // open the match against Opponent
	OpMove      = "move"      // submit Move against Opponent
	OpAdvance   = "advance"   // advance past a displayed result
	OpSync      = "sync"      // drain pending store notifications
	OpDashboard = "dashboard" // show the session's match partition
	OpRanking   = "ranking"   // show the global standings
	OpReset     = "reset"     // wipe the tournament
)

// Step is one scripted action by one session.
type Step struct {
	Player   string
	Op       string
	Opponent string
	Move     action.Move
}

// Scenario is a scripted tournament. Sessions are created lazily, one per
// distinct Player, each with a fixed token and a shared deterministic clock.
type Scenario struct {
	Name        string
	Description string

	// Roster defaults to the stock four players.
	Roster []string
	// Rounds defaults to 10.
	Rounds int

	Steps []Step
}

// Result is the captured trace of a scenario run.
type Result struct {
	Trace []string
}

// Run executes the scenario over a fresh in-memory log.
//
// Intent rejections are recorded in the trace rather than aborting the run,
// so scenarios can script invalid inputs. Only harness misuse (an unknown
// op, a player off the roster) returns an error.
func Run(s *Scenario) (*Result, error) {
	roster := s.Roster
	if roster == nil {
		roster = []string{"Arthur", "Laura", "Sergio", "Larissa"}
	}
	rounds := s.Rounds
	if rounds == 0 {
		rounds = 10
	}

	log := store.NewMemory()
	defer log.Close()
	clock := testutil.NewDeterministicClock()
	tr := &trace{}
	ctx := context.Background()

	sessions := map[string]*engine.Referee{}
	defer func() {
		for _, ref := range sessions {
			ref.Close()
		}
	}()
	session := func(player string) (*engine.Referee, error) {
		if ref, ok := sessions[player]; ok {
			return ref, nil
		}
		ref, err := engine.New(engine.Config{
			Log:            log,
			Sink:           &sessionSink{name: player, tr: tr},
			Player:         player,
			Roster:         roster,
			RoundsPerMatch: rounds,
			Clock:          clock,
			Tokens:         engine.NewFixedGenerator("session-" + strings.ToLower(player)),
		})
		if err != nil {
			return nil, fmt.Errorf("harness: session %s: %w", player, err)
		}
		sessions[player] = ref
		return ref, nil
	}

	for i, step := range s.Steps {
		tr.raw(describe(step))
		ref, err := session(step.Player)
		if err != nil {
			return nil, err
		}

		var stepErr error
		switch step.Op {
		case OpStart:
			stepErr = ref.StartMatch(ctx, step.Opponent)
		case OpMove:
			stepErr = ref.SubmitMove(ctx, step.Opponent, step.Move)
		case OpAdvance:
			stepErr = ref.RequestAdvance(ctx, step.Opponent)
		case OpSync:
			stepErr = ref.Sync(ctx)
		case OpDashboard:
			stepErr = ref.OpenDashboard(ctx)
		case OpRanking:
			stepErr = ref.OpenRanking(ctx)
		case OpReset:
			stepErr = ref.RequestReset(ctx)
		default:
			return nil, fmt.Errorf("harness: step %d: unknown op %q", i, step.Op)
		}
		if stepErr != nil {
			tr.add(step.Player, "rejected: "+stepErr.Error())
		}
	}

	return &Result{Trace: tr.snapshot()}, nil
}

func describe(step Step) string {
	switch step.Op {
	case OpStart:
		return fmt.Sprintf("## %s start vs %s", step.Player, step.Opponent)
	case OpMove:
		return fmt.Sprintf("## %s move %s vs %s", step.Player, step.Move, step.Opponent)
	case OpAdvance:
		return fmt.Sprintf("## %s advance vs %s", step.Player, step.Opponent)
	default:
		return fmt.Sprintf("## %s %s", step.Player, step.Op)
	}
}

// trace is the shared, ordered line buffer all sessions write into.
type trace struct {
	mu    sync.Mutex
	lines []string
}

func (t *trace) raw(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
}

func (t *trace) add(session, line string) {
	t.raw(session + "> " + line)
}

func (t *trace) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// sessionSink renders display commands into the shared trace, prefixed with
// the session name. Formats mirror testutil.RecordingSink so traces read
// the same everywhere.
type sessionSink struct {
	name string
	tr   *trace
}

func (s *sessionSink) ShowChoiceScreen(matchKey string, round int) {
	s.tr.add(s.name, fmt.Sprintf("showChoices match=%s round=%d", matchKey, round))
}

func (s *sessionSink) ShowWaiting(matchKey string, round int) {
	s.tr.add(s.name, fmt.Sprintf("showWaiting match=%s round=%d", matchKey, round))
}

func (s *sessionSink) ShowRoundResult(matchKey string, round int, result game.Result) {
	s.tr.add(s.name, fmt.Sprintf("showResult match=%s round=%d moves=%s/%s points=%d/%d",
		matchKey, round, result.Move1, result.Move2, result.Points1, result.Points2))
}

func (s *sessionSink) ShowMatchComplete(matchKey string, finalScores map[string]int) {
	p1, p2, err := action.SplitKey(matchKey)
	if err != nil {
		s.tr.add(s.name, "showComplete match="+matchKey)
		return
	}
	s.tr.add(s.name, fmt.Sprintf("showComplete match=%s scores=%s:%d,%s:%d",
		matchKey, p1, finalScores[p1], p2, finalScores[p2]))
}

func (s *sessionSink) ShowDashboard(d tournament.Dashboard) {
	s.tr.add(s.name, fmt.Sprintf("showDashboard player=%s new=%d active=%d completed=%d",
		d.Player, len(d.New), len(d.Active), len(d.Completed)))
}

func (s *sessionSink) ShowRanking(standings []tournament.Standing) {
	if len(standings) == 0 {
		s.tr.add(s.name, "showRanking empty")
		return
	}
	s.tr.add(s.name, fmt.Sprintf("showRanking leader=%s points=%d",
		standings[0].Player, standings[0].TotalPoints))
}

func (s *sessionSink) ReportError(err error) {
	s.tr.add(s.name, "error "+err.Error())
}
