// Package storage wraps the embedded SQLite engine with the durability and
// concurrency contract spec §4.1 and §5 require: WAL journaling, a
// per-process write mutex serializing all mutating statements, and
// idempotent schema/migration application.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection pool plus the process-wide write mutex that
// serializes mutating statements across all connections to prevent
// SQLITE_BUSY under bursty concurrent writes. Reads proceed concurrently;
// only Write/WriteTx acquire the mutex.
type DB struct {
	*sql.DB
	writeMu *sync.Mutex
}

// Open opens (or creates) a SQLite database at dataSourceName, enabling WAL
// mode, NORMAL synchronous durability, an in-memory temp store, and a
// generous mmap size, per spec §4.1.
func Open(dataSourceName string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dataSourceName, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456", // 256MiB
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	return &DB{DB: sqlDB, writeMu: &sync.Mutex{}}, nil
}

// WithSharedWriteMutex wires db to share its write mutex with other, so that
// mutations against logically distinct database files that must still be
// serialized relative to one another (e.g. the sync engine writing both
// sync_operations and a syncable application table in the same logical
// operation) use a single lock. Most callers that open one *DB per logical
// database file do not need this.
func (db *DB) WithSharedWriteMutex(other *DB) {
	db.writeMu = other.writeMu
}

// Write executes fn while holding the process-wide write mutex. fn should
// do the minimum necessary work (spec §5: "held for the shortest window
// possible").
func (db *DB) Write(fn func() error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return fn()
}

// WriteTx runs fn inside a transaction while holding the write mutex, so
// that multi-statement writes never interleave with other writers and never
// partially commit (spec §5: "no partial multi-statement commits").
func (db *DB) WriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.Write(func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// ApplySchema executes a schema statement batch. CREATE TABLE/INDEX
// statements must already be written IF NOT EXISTS by the caller; this is a
// thin pass-through under the write mutex, kept distinct from
// ApplyColumnMigrations for clarity at call sites.
func (db *DB) ApplySchema(sqlText string) error {
	return db.Write(func() error {
		_, err := db.Exec(sqlText)
		if err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		return nil
	})
}

// ApplyColumnMigrations runs a sequence of "ALTER TABLE t ADD COLUMN ..."
// statements, swallowing the "duplicate column name" failure each driver
// reports so that re-running the full migration set on an already-migrated
// database is a no-op (spec §4.1: idempotent schema initialization, additive
// migrations only). Statements are applied in the given order, which must
// never change once released.
func (db *DB) ApplyColumnMigrations(statements []string) error {
	return db.Write(func() error {
		for _, stmt := range statements {
			if _, err := db.Exec(stmt); err != nil {
				if isDuplicateColumn(err) {
					continue
				}
				return fmt.Errorf("apply migration %q: %w", stmt, err)
			}
		}
		return nil
	})
}

func isDuplicateColumn(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column name")
}
