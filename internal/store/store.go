// Package store implements the persistent store for the coordinator on
// SQLite. Every externally visible atomic unit is one database transaction:
// services open a unit of work with WithTx and perform all reads and writes
// through the *Tx accessors. Concurrent debits on the same player serialize
// on the single-writer transaction, which gives the row-lock semantics the
// ledger contract requires.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// Store owns the SQLite handle.
type Store struct {
	db        *sql.DB
	path      string
	vectorExt bool
}

// New opens (or creates) the database at path. Use ":memory:" in tests.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	logging.Store("Opening store at %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	s.detectVecExtension()

	logging.Store("Store initialization complete")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing store database connection")
	return s.db.Close()
}

// DB returns the underlying handle. Admin CLI tasks use it directly.
func (s *Store) DB() *sql.DB { return s.db }

// =============================================================================
// UNIT OF WORK
// =============================================================================

// Tx is one unit of work. All accessor methods hang off it; if fn returns an
// error nothing inside the unit is visible.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreErr("commit", err)
	}
	return nil
}

// wrapStoreErr tags retryable SQLite failures as transient so the AI
// orchestrator's backoff policy can recognize them.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked || se.Code == sqlite3.ErrInterrupt {
			return &types.TransientStoreError{Op: op, Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// =============================================================================
// TIME / JSON COLUMN HELPERS
// =============================================================================

// Times are stored as unix nanoseconds so injected clocks round-trip exactly.

func tns(t time.Time) int64 { return t.UnixNano() }

func fromNS(ns int64) time.Time { return time.Unix(0, ns).UTC() }

func tnsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNSPtr(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := fromNS(ns.Int64)
	return &t
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalInts(s string) []int {
	if s == "" || s == "null" {
		return nil
	}
	var out []int
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func marshalVector(v []float32) string {
	return marshalJSON(v)
}

func unmarshalVector(s string) []float32 {
	if s == "" || s == "null" {
		return nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// nullStr maps empty strings to NULL so UNIQUE columns ignore them.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func strOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// inPlaceholders builds "?,?,?" for IN clauses.
func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
