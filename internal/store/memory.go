package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/pdleague/pdleague/internal/action"
)

// Memory is the in-process backend. It mirrors the SQLite semantics exactly
// (idempotent append, seq assignment, snapshot fan-out) so that tests and
// the multi-client harness exercise the same contract the durable backends
// honor. Multiple Referee instances sharing one Memory log simulate
// independent clients sharing one remote store.
type Memory struct {
	mu       sync.Mutex
	actions  []action.Action
	ids      map[string]struct{}
	nextSeq  int64
	notifier *notifier
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		ids:      map[string]struct{}{},
		notifier: newNotifier(),
	}
}

// Append adds the action, assigning the next insertion sequence.
// Idempotent by content ID, like every backend.
func (m *Memory) Append(ctx context.Context, a action.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	id, err := action.ID(a)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	m.mu.Lock()
	if _, dup := m.ids[id]; !dup {
		m.ids[id] = struct{}{}
		m.nextSeq++
		a.Seq = m.nextSeq
		m.actions = append(m.actions, a)
	}
	snapshot := m.snapshotLocked(a.MatchKey)
	m.mu.Unlock()

	// Synchronous fan-out: subscribers enqueue, they do not process here.
	m.notifier.notify(a.MatchKey, snapshot)
	return nil
}

// Load returns the match's actions in canonical replay order.
func (m *Memory) Load(ctx context.Context, matchKey string) ([]action.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(matchKey), nil
}

// LoadAll returns every action in canonical replay order.
func (m *Memory) LoadAll(ctx context.Context) ([]action.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]action.Action(nil), m.actions...)
	action.Sort(out)
	return out, nil
}

// Subscribe registers fn for the match's snapshots.
func (m *Memory) Subscribe(matchKey string, fn func([]action.Action)) (func(), error) {
	return m.notifier.subscribe(matchKey, fn), nil
}

// Reset wipes the log and delivers empty snapshots to all subscribers.
func (m *Memory) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.actions = nil
	m.ids = map[string]struct{}{}
	m.mu.Unlock()

	for _, key := range m.notifier.watchedKeys() {
		m.notifier.notify(key, nil)
	}
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }

func (m *Memory) snapshotLocked(matchKey string) []action.Action {
	out := action.ForMatch(m.actions, matchKey)
	cp := append([]action.Action(nil), out...)
	action.Sort(cp)
	return cp
}
