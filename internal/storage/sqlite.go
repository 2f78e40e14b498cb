package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

const supportProbeKey = "__lssupport__"

// SQLite is the durable store, one row per key.
type SQLite struct {
	db *sql.DB

	probeOnce sync.Once
	supported bool
}

// OpenSQLite opens (creating if needed) the store database at path.
func OpenSQLite(path string) (*SQLite, error) {
	// WAL + busy timeout so the agent and stctl can share the file.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS kv(
	  key        TEXT    PRIMARY KEY,
	  value      TEXT    NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("create store tables: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Supported round-trips a probe value once and caches the outcome.
func (s *SQLite) Supported() bool {
	s.probeOnce.Do(func() {
		const val = "xyz"
		if err := s.Set(supportProbeKey, val); err != nil {
			return
		}
		got, err := s.Get(supportProbeKey)
		s.supported = err == nil && got == val
		_ = s.Remove(supportProbeKey)
	})
	return s.supported
}

func (s *SQLite) Get(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

func (s *SQLite) Set(key, value string) error {
	_, err := s.db.Exec(`
	INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Entry is a stored key with its last write time.
type Entry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Entries lists every stored key, oldest write first.
func (s *SQLite) Entries() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT key, value, updated_at FROM kv ORDER BY updated_at, key`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.Key, &e.Value, &ms); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}
