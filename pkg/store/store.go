// Package store is the SQLite ledger behind every job: identity records,
// grouping entries and job checkpoints.
//
// The store does not arbitrate between writers. One job at a time is
// enforced by the job controller; within a job every read and write goes
// through a single Batch.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"gitlab.com/tozd/go/errors"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - identities, grouping_entries, checkpoints
// 2 - identities.hidden
const currentSchemaVersion = 2

// ErrNotFound is returned by OpenExisting when no ledger exists at the path.
var ErrNotFound = errors.Base("ledger database not found")

// Store provides durable storage for the ledger.
type Store struct {
	queries

	db   *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path and applies
// pragmas and schema migrations. It is safe to call on an existing ledger.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Errorf("connect to database: %w", err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errors.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, errors.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, path: path}
	s.queries = queries{conn: func(context.Context) (dbtx, error) { return s.db, nil }}
	return s, nil
}

// OpenExisting opens a ledger that must already exist.
func OpenExisting(path string) (*Store, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.WithDetails(ErrNotFound, "path", path)
	}
	if err != nil {
		return nil, errors.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}

	return Open(path)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Errorf("execute schema: %w", err)
	}

	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return errors.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return errors.Errorf("ledger schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if version == currentSchemaVersion {
		return nil
	}

	// Version 1 ledgers predate the hidden flag. A fresh ledger (version 0)
	// already has it from the schema.
	if version == 1 {
		if _, err := db.Exec(`ALTER TABLE identities ADD COLUMN hidden INTEGER NOT NULL DEFAULT 0 CHECK (hidden IN (0, 1))`); err != nil {
			return errors.Errorf("add hidden column: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return errors.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return errors.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return errors.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
