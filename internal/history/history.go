// Package history keeps a local log of calls in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"
)

var log = logging.Logger("history")

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

type Outcome string

const (
	Ringing  Outcome = "ringing"
	Answered Outcome = "answered"
	Missed   Outcome = "missed"
	Rejected Outcome = "rejected"
	Ended    Outcome = "ended"
	Failed   Outcome = "failed"
)

// Entry is one row of the call log. Later outcomes for the same call id
// replace earlier ones.
type Entry struct {
	CallSid   string    `json:"callSid"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Direction Direction `json:"direction"`
	Outcome   Outcome   `json:"outcome"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store wraps the SQLite call log.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the call log at path. An empty path keeps the log
// in memory for the lifetime of the process.
func Open(path string) (*Store, error) {
	dsn := path
	if path == "" {
		dsn = "file::memory:?cache=shared"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == "" {
		// Every pooled connection would otherwise get its own memory DB.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			call_sid   TEXT PRIMARY KEY,
			from_num   TEXT NOT NULL DEFAULT '',
			to_num     TEXT NOT NULL DEFAULT '',
			direction  TEXT NOT NULL,
			outcome    TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS calls_started ON calls(started_at DESC);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Record inserts a call or updates its outcome. Parties already known are
// kept when the update carries empty ones.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CallSid == "" {
		return fmt.Errorf("record: empty call sid")
	}
	now := time.Now()
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (call_sid, from_num, to_num, direction, outcome, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_sid) DO UPDATE SET
			from_num   = CASE WHEN excluded.from_num <> '' THEN excluded.from_num ELSE calls.from_num END,
			to_num     = CASE WHEN excluded.to_num <> '' THEN excluded.to_num ELSE calls.to_num END,
			outcome    = excluded.outcome,
			updated_at = excluded.updated_at
	`, e.CallSid, e.From, e.To, string(e.Direction), string(e.Outcome), e.StartedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("record %s: %w", e.CallSid, err)
	}
	log.Debugf("recorded %s %s %s", e.CallSid, e.Direction, e.Outcome)
	return nil
}

// Outcome returns the stored outcome of a call.
func (s *Store) Outcome(ctx context.Context, callSid string) (Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o string
	err := s.db.QueryRowContext(ctx, `SELECT outcome FROM calls WHERE call_sid = ?`, callSid).Scan(&o)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Outcome(o), true, nil
}

// List returns up to limit calls, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT call_sid, from_num, to_num, direction, outcome, started_at, updated_at
		FROM calls ORDER BY started_at DESC, updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		var dir, outcome string
		var started, updated int64
		if err := rows.Scan(&e.CallSid, &e.From, &e.To, &dir, &outcome, &started, &updated); err != nil {
			return nil, err
		}
		e.Direction = Direction(dir)
		e.Outcome = Outcome(outcome)
		e.StartedAt = time.UnixMilli(started)
		e.UpdatedAt = time.UnixMilli(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear deletes every call.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM calls`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
