package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdleague/pdleague/internal/action"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is the durable single-machine backend.
// WAL mode allows concurrent reads while a write is in flight.
type SQLite struct {
	db       *sql.DB
	notifier *notifier
}

// OpenSQLite creates or opens the log database at the given path.
// Idempotent: safe to call against an existing database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under our write rates.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db, notifier: newNotifier()}, nil
}

// Append inserts the action with ON CONFLICT(id) DO NOTHING.
// A retried append of the same action value therefore lands exactly once.
func (s *SQLite) Append(ctx context.Context, a action.Action) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	id, err := action.ID(a)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	payload, err := action.MarshalPayload(a)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (id, match_key, ts, kind, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, a.MatchKey, a.Timestamp, string(a.Kind), payload)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	snapshot, err := s.Load(ctx, a.MatchKey)
	if err != nil {
		return fmt.Errorf("append: reload after write: %w", err)
	}
	s.notifier.notify(a.MatchKey, snapshot)
	return nil
}

// Load returns the match's actions in canonical replay order.
func (s *SQLite) Load(ctx context.Context, matchKey string) ([]action.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_key, ts, seq, kind, payload
		FROM actions
		WHERE match_key = ?
		ORDER BY ts, seq
	`, matchKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", matchKey, err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// LoadAll returns every action in canonical replay order.
func (s *SQLite) LoadAll(ctx context.Context) ([]action.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_key, ts, seq, kind, payload
		FROM actions
		ORDER BY ts, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("load all: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// Subscribe registers fn for the match's snapshots.
func (s *SQLite) Subscribe(matchKey string, fn func([]action.Action)) (func(), error) {
	return s.notifier.subscribe(matchKey, fn), nil
}

// Reset wipes the log and delivers empty snapshots to all subscribers.
func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actions`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for _, key := range s.notifier.watchedKeys() {
		s.notifier.notify(key, nil)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanActions(rows *sql.Rows) ([]action.Action, error) {
	var out []action.Action
	for rows.Next() {
		var (
			matchKey string
			ts, seq  int64
			kind     string
			payload  string
		)
		if err := rows.Scan(&matchKey, &ts, &seq, &kind, &payload); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a, err := action.UnmarshalPayload(matchKey, ts, seq, action.Kind(kind), payload)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan actions: %w", err)
	}
	return out, nil
}
