package engine

import (
	"sync"

	"github.com/pdleague/pdleague/internal/action"
)

// snapshot is one store notification: the full current action set for a
// match. Snapshots supersede each other, but each is still reconciled in
// arrival order so display transitions are not skipped.
type snapshot struct {
	matchKey string
	actions  []action.Action
}

// snapshotQueue is a thread-safe FIFO for store notifications.
//
// Store callbacks run on the store's goroutine and must not touch Referee
// state directly; they enqueue here and the Referee drains under its own
// lock. The queue is unbounded: notification bursts during replay must
// never block the store.
//
// A buffered signal channel (size 1) coalesces wakeups and enables
// context-aware waiting in the Run loop.
type snapshotQueue struct {
	mu     sync.Mutex
	items  []snapshot
	closed bool
	signal chan struct{}
}

func newSnapshotQueue() *snapshotQueue {
	return &snapshotQueue{
		items:  make([]snapshot, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a snapshot to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *snapshotQueue) Enqueue(s snapshot) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (snapshot{}, false) if the queue is empty.
func (q *snapshotQueue) TryDequeue() (snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return snapshot{}, false
	}
	s := q.items[0]
	// Nil the slot so the backing array does not retain the action slice.
	q.items[0] = snapshot{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return s, true
}

// Wait returns a channel that signals when snapshots may be available.
// Use with select alongside ctx.Done().
func (q *snapshotQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *snapshotQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more snapshots will be enqueued and wakes waiters.
func (q *snapshotQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
