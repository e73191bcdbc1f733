package testutil

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pdleague/pdleague/internal/action"
	"github.com/pdleague/pdleague/internal/game"
	"github.com/pdleague/pdleague/internal/tournament"
)

// RecordingSink records every display command as one trace line, in
// emission order. It satisfies the engine's CommandSink interface.
//
// Line formats:
//
//	showChoices match=Arthur-Laura round=1
//	showWaiting match=Arthur-Laura round=1
//	showResult match=Arthur-Laura round=1 moves=defect/cooperate points=5/0
//	showComplete match=Arthur-Laura scores=Arthur:27,Laura:19
//	showDashboard player=Arthur new=1 active=1 completed=1
//	showRanking leader=Laura points=49
//	error code=RECONSTRUCTION_ANOMALY
type RecordingSink struct {
	mu    sync.Mutex
	lines []string

	// Errors keeps the raw errors alongside their trace lines.
	errs []error
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Lines returns a copy of the recorded trace.
func (s *RecordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Errors returns a copy of the reported errors.
func (s *RecordingSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// Last returns the most recent trace line, or "".
func (s *RecordingSink) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

// Clear drops all recorded lines and errors.
func (s *RecordingSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.errs = nil
}

func (s *RecordingSink) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *RecordingSink) ShowChoiceScreen(matchKey string, round int) {
	s.record(fmt.Sprintf("showChoices match=%s round=%d", matchKey, round))
}

func (s *RecordingSink) ShowWaiting(matchKey string, round int) {
	s.record(fmt.Sprintf("showWaiting match=%s round=%d", matchKey, round))
}

func (s *RecordingSink) ShowRoundResult(matchKey string, round int, result game.Result) {
	s.record(fmt.Sprintf("showResult match=%s round=%d moves=%s/%s points=%d/%d",
		matchKey, round, result.Move1, result.Move2, result.Points1, result.Points2))
}

func (s *RecordingSink) ShowMatchComplete(matchKey string, finalScores map[string]int) {
	s.record(fmt.Sprintf("showComplete match=%s scores=%s", matchKey, formatScores(matchKey, finalScores)))
}

func (s *RecordingSink) ShowDashboard(d tournament.Dashboard) {
	s.record(fmt.Sprintf("showDashboard player=%s new=%d active=%d completed=%d",
		d.Player, len(d.New), len(d.Active), len(d.Completed)))
}

func (s *RecordingSink) ShowRanking(standings []tournament.Standing) {
	if len(standings) == 0 {
		s.record("showRanking empty")
		return
	}
	s.record(fmt.Sprintf("showRanking leader=%s points=%d",
		standings[0].Player, standings[0].TotalPoints))
}

func (s *RecordingSink) ReportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
	s.lines = append(s.lines, fmt.Sprintf("error %v", err))
}

// formatScores renders final scores in canonical player order so traces are
// stable across map iteration order.
func formatScores(matchKey string, scores map[string]int) string {
	p1, p2, err := action.SplitKey(matchKey)
	if err == nil {
		return fmt.Sprintf("%s:%d,%s:%d", p1, scores[p1], p2, scores[p2])
	}
	parts := make([]string, 0, len(scores))
	for p, pts := range scores {
		parts = append(parts, fmt.Sprintf("%s:%d", p, pts))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
