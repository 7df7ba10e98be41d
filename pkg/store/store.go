// Package store is the durable substrate for the Kanbun core: the
// append-only message bus, agent records, adapter configs, supervisory
// runs, and the runtime event log, all in one SQLite database
// (modernc.org/sqlite, pure Go, no CGO).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sidmohan0/kanbun/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// timeFormat is a fixed-width RFC 3339 layout. Unlike time.RFC3339Nano it
// never trims trailing zeros, so stored UTC timestamps sort correctly as
// text and ORDER BY created_at matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite database holding all durable Kanbun state.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open opens (or creates) the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all access through Go's connection pool, so
	// concurrent appends from many workstreams never hit "database is
	// locked" while per-agent ordering stays intact.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec // ids need ordering, not secrecy
	}, nil
}

// Close releases the database connection. Safe to call multiple times.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// newULID generates a ULID for t. Monotonic entropy guarantees ids strictly
// increase within this process even for same-millisecond inserts, which
// keeps the (created_at, id) tie-break chronological.
func (s *Store) newULID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// NewID generates a fresh ULID stamped with the current time. Exposed for
// callers that pre-generate message ids to make retried appends dedupable.
func (s *Store) NewID() string {
	return s.newULID(time.Now().UTC())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func storeErr(op string, err error) error {
	return &protocol.StoreError{Op: op, Err: err}
}

// LogEvent appends one row to the runtime event log. Event logging is
// best-effort diagnostics; callers typically ignore the returned error.
func (s *Store) LogEvent(ctx context.Context, eventType, source, agentID, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, source, agent_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		eventType, source, agentID, payload, formatTime(time.Now()),
	)
	if err != nil {
		return storeErr("log event", err)
	}
	return nil
}

// Event is one row from the runtime event log.
type Event struct {
	ID        int64
	Type      string
	Source    string
	AgentID   string
	Payload   string
	CreatedAt time.Time
}

// Events returns the most recent events for an agent, newest first.
// An empty agentID returns events across all agents.
func (s *Store) Events(ctx context.Context, agentID string, limit int) ([]Event, error) {
	query := `SELECT id, type, source, COALESCE(agent_id, ''), COALESCE(payload, ''), created_at FROM events`
	var args []any
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.AgentID, &e.Payload, &createdAt); err != nil {
			return nil, storeErr("scan event", err)
		}
		if t, err := parseTime(createdAt); err == nil {
			e.CreatedAt = t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
