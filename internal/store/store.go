package store

import (
	"context"
	"sync"

	"github.com/pdleague/pdleague/internal/action"
)

// Log is the append-only, multi-writer action log shared by all clients.
//
// Append must be awaited before a caller treats a local action as
// committed; a failed append leaves the log unchanged and is safe to retry
// (appends are idempotent by content ID). Subscribe delivers the full
// current action set for the match on every change, including after a
// reset, when the snapshot is empty.
type Log interface {
	// Append durably adds an action. Re-appending the same action value is
	// a no-op. Actions are atomic units: no partial action is observable.
	Append(ctx context.Context, a action.Action) error

	// Load returns the match's actions in canonical replay order.
	Load(ctx context.Context, matchKey string) ([]action.Action, error)

	// LoadAll returns every action in the log in canonical replay order.
	// Used on cold start and by the tournament aggregator.
	LoadAll(ctx context.Context) ([]action.Action, error)

	// Subscribe registers fn to receive the match's full snapshot on every
	// change. The returned function cancels the subscription.
	Subscribe(matchKey string, fn func(actions []action.Action)) (cancel func(), err error)

	// Reset wipes the entire log. This is an administrative operation, not
	// an edit: subscribers observe an empty snapshot and must rebuild all
	// derived state from scratch.
	Reset(ctx context.Context) error

	Close() error
}

// notifier fans snapshot notifications out to per-match subscribers.
// Shared by the sqlite and memory backends.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func([]action.Action)
}

func newNotifier() *notifier {
	return &notifier{subs: map[string]map[int]func([]action.Action){}}
}

// subscribe registers fn for a match key and returns a cancel function.
func (n *notifier) subscribe(matchKey string, fn func([]action.Action)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	if n.subs[matchKey] == nil {
		n.subs[matchKey] = map[int]func([]action.Action){}
	}
	n.subs[matchKey][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[matchKey], id)
	}
}

// notify delivers a snapshot to the match's subscribers. Callbacks run on
// the caller's goroutine; subscribers are expected to enqueue, not process.
func (n *notifier) notify(matchKey string, snapshot []action.Action) {
	n.mu.Lock()
	fns := make([]func([]action.Action), 0, len(n.subs[matchKey]))
	for _, fn := range n.subs[matchKey] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// watchedKeys returns every match key with at least one subscriber.
func (n *notifier) watchedKeys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]string, 0, len(n.subs))
	for k, subs := range n.subs {
		if len(subs) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}
