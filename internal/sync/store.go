package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabcore/core/internal/storage"
)

// Schema is the idempotent DDL for the sync engine's own bookkeeping
// tables. It does not, and must not, define the syncable application
// tables themselves (chat_sessions, work_items, ...) — those are owned by
// their respective engines; the sync engine only ever references them by
// name, after an AllowedTables check.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_operations (
	op_id      TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	operation  TEXT NOT NULL,
	row_id     TEXT NOT NULL,
	data       TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	peer_id    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	team_id    TEXT,
	signature  TEXT NOT NULL DEFAULT '',
	synced     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_operations_synced ON sync_operations(synced);
CREATE INDEX IF NOT EXISTS idx_sync_operations_peer_version ON sync_operations(peer_id, version);
CREATE INDEX IF NOT EXISTS idx_sync_operations_table_row ON sync_operations(table_name, row_id);

CREATE TABLE IF NOT EXISTS peer_sync_state (
	peer_id             TEXT PRIMARY KEY,
	last_sync           TEXT NOT NULL DEFAULT '1970-01-01T00:00:00Z',
	operations_sent     INTEGER NOT NULL DEFAULT 0,
	operations_received INTEGER NOT NULL DEFAULT 0,
	conflicts_resolved  INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL DEFAULT 'idle',
	last_error          TEXT
);

CREATE TABLE IF NOT EXISTS version_tracking (
	table_name TEXT NOT NULL,
	row_id     TEXT NOT NULL,
	peer_id    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	timestamp  TEXT NOT NULL,
	PRIMARY KEY (table_name, row_id, peer_id)
);

CREATE TABLE IF NOT EXISTS local_clock (
	peer_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL DEFAULT 0
);
`

type store struct {
	db *storage.DB
}

const timeLayout = time.RFC3339Nano

func encodeData(data map[string]any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal operation data: %w", err)
	}
	return string(b), nil
}

func decodeData(raw string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("unmarshal operation data: %w", err)
	}
	return data, nil
}

func nullableString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtrFromNullable(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

const opColumns = `op_id, table_name, operation, row_id, data, timestamp, peer_id, version, team_id, signature, synced`

func scanOperation(row interface{ Scan(...any) error }) (SyncOperation, error) {
	var op SyncOperation
	var rawData, ts string
	var teamID sql.NullString
	var synced int
	if err := row.Scan(&op.OpID, &op.TableName, &op.Operation, &op.RowID, &rawData, &ts, &op.PeerID, &op.Version, &teamID, &op.Signature, &synced); err != nil {
		return SyncOperation{}, err
	}
	data, err := decodeData(rawData)
	if err != nil {
		return SyncOperation{}, err
	}
	parsed, err := time.Parse(timeLayout, ts)
	if err != nil {
		return SyncOperation{}, fmt.Errorf("parse operation timestamp: %w", err)
	}
	op.Data = data
	op.Timestamp = parsed
	op.TeamID = stringPtrFromNullable(teamID)
	op.Synced = synced != 0
	return op, nil
}

func (s *store) insertOperationTx(ctx context.Context, tx *sql.Tx, op SyncOperation) error {
	rawData, err := encodeData(op.Data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_operations (`+opColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.OpID, op.TableName, string(op.Operation), op.RowID, rawData,
		op.Timestamp.UTC().Format(timeLayout), op.PeerID, op.Version,
		nullableString(op.TeamID), op.Signature, boolToInt(op.Synced),
	)
	if err != nil {
		return fmt.Errorf("insert sync operation: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// pendingLocalOperations loads operations originated by localPeerID that
// have not yet been marked synced, ordered by version ascending, for
// startup replay of the in-memory pending queue.
func (s *store) pendingLocalOperations(ctx context.Context, localPeerID string) ([]SyncOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opColumns+` FROM sync_operations WHERE peer_id = ? AND synced = 0 ORDER BY version ASC`,
		localPeerID)
	if err != nil {
		return nil, fmt.Errorf("load pending operations: %w", err)
	}
	defer rows.Close()

	var out []SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// operationsToSend returns operations originated by localPeerID with a
// timestamp newer than lastSync (whether or not already marked synced),
// optionally restricted to tables, ordered by version ascending (spec §4.3
// delta computation).
func (s *store) operationsToSend(ctx context.Context, localPeerID string, lastSync time.Time, tables []string) ([]SyncOperation, error) {
	query := `SELECT ` + opColumns + ` FROM sync_operations WHERE peer_id = ? AND timestamp > ?`
	args := []any{localPeerID, lastSync.UTC().Format(timeLayout)}
	if len(tables) > 0 {
		query += ` AND table_name IN (` + placeholders(len(tables)) + `)`
		for _, t := range tables {
			args = append(args, t)
		}
	}
	query += ` ORDER BY version ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load operations to send: %w", err)
	}
	defer rows.Close()

	var out []SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += "?"
	}
	return s
}

func (s *store) markSynced(ctx context.Context, opIDs []string) error {
	if len(opIDs) == 0 {
		return nil
	}
	return s.db.Write(func() error {
		stmt, err := s.db.Prepare(`UPDATE sync_operations SET synced = 1 WHERE op_id = ?`)
		if err != nil {
			return fmt.Errorf("prepare mark-synced: %w", err)
		}
		defer stmt.Close()
		for _, id := range opIDs {
			if _, err := stmt.Exec(id); err != nil {
				return fmt.Errorf("mark synced %q: %w", id, err)
			}
		}
		return nil
	})
}

// pruneSyncedOperations deletes synced operations older than before, a
// SPEC_FULL §3 supplement recovered from the original source's
// prune_synced_operations maintenance routine, preventing unbounded growth
// of the operation log on long-lived installs.
func (s *store) pruneSyncedOperations(ctx context.Context, before time.Time) (int64, error) {
	var affected int64
	err := s.db.Write(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM sync_operations WHERE synced = 1 AND timestamp < ?`,
			before.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("prune synced operations: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (s *store) getVersionTracking(ctx context.Context, table, rowID, peerID string) (VersionTracking, bool, error) {
	var vt VersionTracking
	var ts string
	err := s.db.QueryRowContext(ctx,
		`SELECT table_name, row_id, peer_id, version, timestamp FROM version_tracking
		 WHERE table_name = ? AND row_id = ? AND peer_id = ?`,
		table, rowID, peerID,
	).Scan(&vt.TableName, &vt.RowID, &vt.PeerID, &vt.Version, &ts)
	if err == sql.ErrNoRows {
		return VersionTracking{}, false, nil
	}
	if err != nil {
		return VersionTracking{}, false, fmt.Errorf("get version tracking: %w", err)
	}
	parsed, err := time.Parse(timeLayout, ts)
	if err != nil {
		return VersionTracking{}, false, fmt.Errorf("parse version timestamp: %w", err)
	}
	vt.Timestamp = parsed
	return vt, true, nil
}

// latestVersionForRow finds the most recent tracking entry (latest
// timestamp, ties broken by the higher peer_id) for (table, rowID) across
// all peers, which is last-writer-wins conflict
// resolution's comparison baseline (spec §4.3) regardless of which peer
// last wrote it.
func (s *store) latestVersionForRow(ctx context.Context, table, rowID string) (VersionTracking, bool, error) {
	var vt VersionTracking
	var ts string
	err := s.db.QueryRowContext(ctx,
		`SELECT table_name, row_id, peer_id, version, timestamp FROM version_tracking
		 WHERE table_name = ? AND row_id = ?
		 ORDER BY timestamp DESC, peer_id DESC LIMIT 1`,
		table, rowID,
	).Scan(&vt.TableName, &vt.RowID, &vt.PeerID, &vt.Version, &ts)
	if err == sql.ErrNoRows {
		return VersionTracking{}, false, nil
	}
	if err != nil {
		return VersionTracking{}, false, fmt.Errorf("get latest version: %w", err)
	}
	parsed, err := time.Parse(timeLayout, ts)
	if err != nil {
		return VersionTracking{}, false, fmt.Errorf("parse version timestamp: %w", err)
	}
	vt.Timestamp = parsed
	return vt, true, nil
}

func (s *store) upsertVersionTrackingTx(ctx context.Context, tx *sql.Tx, vt VersionTracking) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO version_tracking (table_name, row_id, peer_id, version, timestamp)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(table_name, row_id, peer_id) DO UPDATE SET
			version = excluded.version, timestamp = excluded.timestamp`,
		vt.TableName, vt.RowID, vt.PeerID, vt.Version, vt.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert version tracking: %w", err)
	}
	return nil
}

func (s *store) loadLocalClock(ctx context.Context, peerID string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM local_clock WHERE peer_id = ?`, peerID).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load local clock: %w", err)
	}
	return v, nil
}

func (s *store) saveLocalClockTx(ctx context.Context, tx *sql.Tx, peerID string, version int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO local_clock (peer_id, version) VALUES (?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET version = excluded.version`,
		peerID, version,
	)
	if err != nil {
		return fmt.Errorf("save local clock: %w", err)
	}
	return nil
}

func (s *store) getPeerSyncState(ctx context.Context, peerID string) (PeerSyncState, error) {
	st := PeerSyncState{PeerID: peerID, Status: StatusIdle}
	var ts string
	var lastErr sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT peer_id, last_sync, operations_sent, operations_received, conflicts_resolved, status, last_error
		 FROM peer_sync_state WHERE peer_id = ?`, peerID,
	).Scan(&st.PeerID, &ts, &st.OperationsSent, &st.OperationsReceived, &st.ConflictsResolved, &st.Status, &lastErr)
	if err == sql.ErrNoRows {
		st.LastSync = time.Unix(0, 0).UTC()
		return st, nil
	}
	if err != nil {
		return PeerSyncState{}, fmt.Errorf("get peer sync state: %w", err)
	}
	parsed, err := time.Parse(timeLayout, ts)
	if err != nil {
		return PeerSyncState{}, fmt.Errorf("parse last_sync: %w", err)
	}
	st.LastSync = parsed
	st.LastError = stringPtrFromNullable(lastErr)
	return st, nil
}

func (s *store) savePeerSyncState(ctx context.Context, st PeerSyncState) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO peer_sync_state (peer_id, last_sync, operations_sent, operations_received, conflicts_resolved, status, last_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(peer_id) DO UPDATE SET
				last_sync = excluded.last_sync,
				operations_sent = excluded.operations_sent,
				operations_received = excluded.operations_received,
				conflicts_resolved = excluded.conflicts_resolved,
				status = excluded.status,
				last_error = excluded.last_error`,
			st.PeerID, st.LastSync.UTC().Format(timeLayout), st.OperationsSent, st.OperationsReceived,
			st.ConflictsResolved, string(st.Status), nullableString(st.LastError),
		)
		if err != nil {
			return fmt.Errorf("save peer sync state: %w", err)
		}
		return nil
	})
}
