package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenEnablesPragmas(t *testing.T) {
	db := newTestDB(t)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.Equal(t, 1, fk)
}

func TestApplySchemaIdempotent(t *testing.T) {
	db := newTestDB(t)
	schema := `CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY, name TEXT)`

	require.NoError(t, db.ApplySchema(schema))
	require.NoError(t, db.ApplySchema(schema)) // re-apply: must not error
}

func TestApplyColumnMigrationsSwallowsDuplicate(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.ApplySchema(`CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY)`))

	stmts := []string{
		`ALTER TABLE widgets ADD COLUMN team_id TEXT`,
		`ALTER TABLE widgets ADD COLUMN team_id TEXT`, // duplicate, must be swallowed
	}
	require.NoError(t, db.ApplyColumnMigrations(stmts))
	require.NoError(t, db.ApplyColumnMigrations(stmts)) // re-run entirely: still fine
}

func TestWriteTxRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.ApplySchema(`CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY, name TEXT)`))

	ctx := context.Background()
	boom := errors.New("boom")
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO widgets (name) VALUES (?)`, "a"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	require.Equal(t, 0, count, "failed transaction must not leave partial writes")
}
