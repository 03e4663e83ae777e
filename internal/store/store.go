// Package store provides SQLite-backed persistence for policies, target
// state, the scaling activity audit trail, error records, and evaluation
// leases. Timestamps are stored as RFC 3339 strings in UTC; zero times map
// to NULL.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for the autoscaler.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path, applies the
// connection pragmas, and runs migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open store: path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// A single writer keeps "database is locked" errors out of concurrent
	// policy evaluations; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open store: %s: %w", pragma, err)
		}
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// New returns a Store bound to an existing database handle.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation matches the sqlite unique-constraint error. The driver
// does not export a stable error type for it, so the message is the contract.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeToDB converts a timestamp for storage; the zero time becomes NULL.
func timeToDB(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timeFromDB parses a nullable stored timestamp; NULL becomes the zero time.
func timeFromDB(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", ns.String, err)
	}
	return t, nil
}
