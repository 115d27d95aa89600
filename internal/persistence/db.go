// Package persistence provides SQLite-based session storage: the full
// simulation snapshot plus an append-only outbound event log for the
// observation API.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/cultivar/emporium/internal/events"
)

// ErrNoSession is returned when a named session has never been saved.
var ErrNoSession = errors.New("no saved session")

// DB wraps a SQLite connection for session persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		name TEXT PRIMARY KEY,
		day REAL NOT NULL,
		snapshot BLOB NOT NULL,
		saved_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		day REAL NOT NULL,
		kind TEXT NOT NULL,
		entity TEXT NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_day ON events(day);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveSession stores a full snapshot under a session name (upsert).
func (db *DB) SaveSession(name string, day float64, snapshot []byte) error {
	_, err := db.conn.Exec(
		`INSERT INTO sessions (name, day, snapshot, saved_at) VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(name) DO UPDATE SET day=excluded.day, snapshot=excluded.snapshot, saved_at=excluded.saved_at`,
		name, day, snapshot,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", name, err)
	}
	slog.Info("session saved", "name", name, "day", day, "bytes", len(snapshot))
	return nil
}

// LoadSession retrieves a saved snapshot by session name.
func (db *DB) LoadSession(name string) (day float64, snapshot []byte, err error) {
	row := struct {
		Day      float64 `db:"day"`
		Snapshot []byte  `db:"snapshot"`
	}{}
	err = db.conn.Get(&row, "SELECT day, snapshot FROM sessions WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrNoSession
	}
	if err != nil {
		return 0, nil, fmt.Errorf("load session %s: %w", name, err)
	}
	return row.Day, row.Snapshot, nil
}

// HasSession reports whether a named session exists.
func (db *DB) HasSession(name string) bool {
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM sessions WHERE name = ?", name); err != nil {
		return false
	}
	return n > 0
}

// AppendEvent records one outbound domain event.
func (db *DB) AppendEvent(e events.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	_, err = db.conn.Exec(
		"INSERT INTO events (day, kind, entity, payload) VALUES (?, ?, ?, ?)",
		e.Day, string(e.Kind), e.Entity, string(payload),
	)
	return err
}

// StoredEvent is one persisted event row.
type StoredEvent struct {
	ID      int64   `db:"id" json:"id"`
	Day     float64 `db:"day" json:"day"`
	Kind    string  `db:"kind" json:"kind"`
	Entity  string  `db:"entity" json:"entity"`
	Payload string  `db:"payload" json:"payload"`
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]StoredEvent, error) {
	var out []StoredEvent
	err := db.conn.Select(&out,
		"SELECT id, day, kind, entity, payload FROM events ORDER BY id DESC LIMIT ?", limit)
	return out, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
