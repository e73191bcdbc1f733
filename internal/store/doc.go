// Package store provides the action log contract and its backends.
//
// The log is the only shared resource between clients. Its contract is
// deliberately narrow: durable idempotent append, full replay ordered by
// (timestamp, seq), subscription delivering the complete current snapshot
// on every change (never a diff), and an administrative reset.
//
// Three backends:
//
//   - SQLite: durable single-machine log. Also the offline fallback when no
//     remote store is reachable.
//   - Memory: in-process log with synchronous fan-out. Test double and the
//     substrate for simulating multiple concurrent clients.
//   - NATS JetStream: the remote replicated store with push notifications.
//     Durability and ordering of the stream itself are assumed, not built
//     here; the adapter only maps the contract onto it.
//
// Every backend enforces append idempotency through the action's
// content-addressed ID, so a retried append of the same action value is a
// no-op everywhere.
package store
