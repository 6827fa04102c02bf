package sync

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/collabcore/core/internal/identifier"
	"github.com/collabcore/core/internal/teamcrypto"
)

// ApplyResult reports the outcome of applying one incoming operation, for
// callers that want per-operation detail beyond the aggregate counts
// ApplyOperations returns.
type ApplyResult struct {
	OpID    string
	Applied bool
	Reason  string // set when Applied is false
}

// ApplyOperations applies a batch of operations received from a remote
// peer, in order. Each operation is isolated: a rejection, a failed
// signature check, or a lost conflict does not abort the batch (spec
// §4.3, "a single bad operation must not poison the whole exchange") —
// failures are logged and the loop continues.
func (e *Engine) ApplyOperations(ctx context.Context, ops []SyncOperation) ([]ApplyResult, error) {
	results := make([]ApplyResult, 0, len(ops))
	for _, op := range ops {
		res := e.applyOne(ctx, op)
		results = append(results, res)
		if !res.Applied {
			e.logger.Warn("sync operation rejected", "op_id", op.OpID, "table", op.TableName, "reason", res.Reason)
		}
	}
	return results, nil
}

func (e *Engine) applyOne(ctx context.Context, op SyncOperation) ApplyResult {
	// Allowlist check happens before any SQL is constructed from op's
	// caller-supplied table name, never after (spec §4.3).
	if !IsSyncable(op.TableName) {
		return ApplyResult{OpID: op.OpID, Reason: ErrNotSyncable.Error()}
	}

	if op.TeamID != nil && *op.TeamID != "" {
		if ok := e.verifyOperationSignature(ctx, op); !ok {
			return ApplyResult{OpID: op.OpID, Reason: ErrInvalidSignature.Error()}
		}
		if e.membership != nil {
			if role := e.membership.IsMember(ctx, *op.TeamID, op.PeerID); role == "" {
				return ApplyResult{OpID: op.OpID, Reason: ErrNotTeamMember.Error()}
			}
		}
	}

	won, err := e.resolveConflict(ctx, op)
	if err != nil {
		return ApplyResult{OpID: op.OpID, Reason: err.Error()}
	}
	if !won {
		return ApplyResult{OpID: op.OpID, Reason: ErrStaleOperation.Error()}
	}

	if err := e.executeTx(ctx, op); err != nil {
		return ApplyResult{OpID: op.OpID, Reason: err.Error()}
	}

	return ApplyResult{OpID: op.OpID, Applied: true}
}

func (e *Engine) verifyOperationSignature(ctx context.Context, op SyncOperation) bool {
	if e.verifier == nil {
		return true
	}
	payload, err := teamcrypto.Canonicalize(teamcrypto.CanonicalPayload{
		OpID:      op.OpID,
		TableName: op.TableName,
		Operation: string(op.Operation),
		RowID:     op.RowID,
		Data:      op.Data,
		Timestamp: op.Timestamp.Format(timeLayout),
		PeerID:    op.PeerID,
		Version:   op.Version,
		TeamID:    *op.TeamID,
	})
	if err != nil {
		e.logger.Error("canonicalize incoming operation for verification", "op_id", op.OpID, "error", err)
		return false
	}
	return e.verifier.Verify(ctx, payload, op.Signature, *op.TeamID)
}

// resolveConflict applies last-writer-wins: an incoming op is accepted iff
// it is strictly newer than the latest known version for (table, row_id),
// or ties on timestamp and wins the lexicographic tiebreak against this
// node's own peer_id (spec §4.3, §8 — "op.peer_id > self.peer_id"; an
// exact lexicographic tie with self is not applied, self wins).
func (e *Engine) resolveConflict(ctx context.Context, op SyncOperation) (bool, error) {
	existing, found, err := e.store.latestVersionForRow(ctx, op.TableName, op.RowID)
	if err != nil {
		return false, fmt.Errorf("resolve conflict: %w", err)
	}
	if !found {
		return true, nil
	}
	if op.Timestamp.After(existing.Timestamp) {
		return true, nil
	}
	if op.Timestamp.Equal(existing.Timestamp) {
		return op.PeerID > e.localPeer, nil
	}
	return false, nil
}

func (e *Engine) executeTx(ctx context.Context, op SyncOperation) error {
	table, err := identifier.ValidateAndQuote(op.TableName)
	if err != nil {
		return fmt.Errorf("validate table name: %w", err)
	}

	return e.store.db.WriteTx(ctx, func(tx *sql.Tx) error {
		switch op.Operation {
		case OpInsert:
			if err := insertRowTx(ctx, tx, table, op.RowID, op.Data); err != nil {
				return err
			}
		case OpUpdate:
			if err := updateRowTx(ctx, tx, table, op.RowID, op.Data); err != nil {
				return err
			}
		case OpDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, op.RowID); err != nil {
				return fmt.Errorf("delete row: %w", err)
			}
		default:
			return fmt.Errorf("unknown operation %q", op.Operation)
		}

		if err := e.store.insertOperationTx(ctx, tx, op); err != nil {
			return err
		}
		return e.store.upsertVersionTrackingTx(ctx, tx, VersionTracking{
			TableName: op.TableName,
			RowID:     op.RowID,
			PeerID:    op.PeerID,
			Version:   op.Version,
			Timestamp: op.Timestamp,
		})
	})
}

// insertRowTx applies a full-row insert-or-replace of a syncable row by
// column name, built dynamically from op.Data since the sync engine has
// no compile-time knowledge of every syncable table's schema. Every
// column name is validated and quoted before being spliced into the
// statement. Used only for OpInsert, where Data carries every column of
// the row (spec §4.3: insert replaces the whole row).
func insertRowTx(ctx context.Context, tx *sql.Tx, quotedTable, rowID string, data map[string]any) error {
	cols := make([]string, 0, len(data)+1)
	marks := make([]string, 0, len(data)+1)
	args := make([]any, 0, len(data)+1)

	cols = append(cols, `"id"`)
	marks = append(marks, "?")
	args = append(args, rowID)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic statement shape for easier log review

	for _, k := range keys {
		if k == "id" {
			continue
		}
		quoted, err := identifier.ValidateAndQuote(k)
		if err != nil {
			return fmt.Errorf("validate column name: %w", err)
		}
		cols = append(cols, quoted)
		marks = append(marks, "?")
		args = append(args, data[k])
	}

	stmt := `INSERT OR REPLACE INTO ` + quotedTable + ` (`
	for i, c := range cols {
		if i > 0 {
			stmt += ", "
		}
		stmt += c
	}
	stmt += `) VALUES (`
	for i, p := range marks {
		if i > 0 {
			stmt += ", "
		}
		stmt += p
	}
	stmt += `)`

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert row: %w", err)
	}
	return nil
}

// updateRowTx applies a partial update of a syncable row's already-present
// columns only, leaving every column absent from data untouched (spec
// §4.3: update sets only the supplied columns, unlike insert's full-row
// replace). A data map with no columns is a no-op: there is nothing to
// set, and the row is left as-is.
func updateRowTx(ctx context.Context, tx *sql.Tx, quotedTable, rowID string, data map[string]any) error {
	if len(data) == 0 {
		return nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic statement shape for easier log review
	if len(keys) == 0 {
		return nil
	}

	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		quoted, err := identifier.ValidateAndQuote(k)
		if err != nil {
			return fmt.Errorf("validate column name: %w", err)
		}
		sets = append(sets, quoted+" = ?")
		args = append(args, data[k])
	}
	args = append(args, rowID)

	stmt := `UPDATE ` + quotedTable + ` SET `
	for i, s := range sets {
		if i > 0 {
			stmt += ", "
		}
		stmt += s
	}
	stmt += ` WHERE "id" = ?`

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	return nil
}
