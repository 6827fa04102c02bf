package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/collabcore/core/internal/corerr"
	"github.com/collabcore/core/internal/teamcrypto"
)

// Tracker is the narrow collaborator interface chatmemory and workflow
// depend on to record a local mutation to a syncable table, without
// coupling to the rest of Engine's peer-exchange machinery (spec §2:
// "writes to syncable tables go through the Sync Log Tracker"). *Engine
// satisfies this interface directly.
type Tracker interface {
	TrackOperation(ctx context.Context, table string, op Operation, rowID string, data map[string]any, teamID *string) (SyncOperation, error)
}

// TrackOperation records a local mutation to a syncable table as a new
// SyncOperation: it advances this peer's vector-clock entry, persists the
// operation unsynced, signs it if it is team-scoped, and appends it to the
// in-memory pending queue for the next peer exchange (spec §4.3).
//
// Callers invoke this from the owning engine's write path (e.g.
// chatmemory.Memory.InsertMessage) immediately after the underlying row is
// committed; a tracking failure must never fail the caller's write, so
// callers should log and continue on error rather than propagate it into a
// user-facing failure.
func (e *Engine) TrackOperation(ctx context.Context, table string, op Operation, rowID string, data map[string]any, teamID *string) (SyncOperation, error) {
	if !IsSyncable(table) {
		return SyncOperation{}, corerr.Wrap(corerr.NotSyncable, fmt.Sprintf("table %q is not syncable", table), ErrNotSyncable)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.clock++
	now := time.Now().UTC()
	sop := SyncOperation{
		OpID:      uuid.NewString(),
		TableName: table,
		Operation: op,
		RowID:     rowID,
		Data:      data,
		Timestamp: now,
		PeerID:    e.localPeer,
		Version:   e.clock,
		TeamID:    teamID,
	}

	if teamID != nil && *teamID != "" && e.signer != nil {
		payload, err := teamcrypto.Canonicalize(teamcrypto.CanonicalPayload{
			OpID:      sop.OpID,
			TableName: sop.TableName,
			Operation: string(sop.Operation),
			RowID:     sop.RowID,
			Data:      sop.Data,
			Timestamp: sop.Timestamp.Format(time.RFC3339Nano),
			PeerID:    sop.PeerID,
			Version:   sop.Version,
			TeamID:    *teamID,
		})
		if err != nil {
			return SyncOperation{}, fmt.Errorf("canonicalize operation payload: %w", err)
		}
		sig, err := e.signer.Sign(ctx, payload, *teamID)
		if err != nil {
			return SyncOperation{}, fmt.Errorf("sign operation: %w", err)
		}
		sop.Signature = sig
	}

	if err := e.store.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.insertOperationTx(ctx, tx, sop); err != nil {
			return err
		}
		if err := e.store.upsertVersionTrackingTx(ctx, tx, VersionTracking{
			TableName: sop.TableName,
			RowID:     sop.RowID,
			PeerID:    sop.PeerID,
			Version:   sop.Version,
			Timestamp: sop.Timestamp,
		}); err != nil {
			return err
		}
		return e.store.saveLocalClockTx(ctx, tx, e.localPeer, e.clock)
	}); err != nil {
		e.clock--
		return SyncOperation{}, fmt.Errorf("persist tracked operation: %w", err)
	}

	e.pending = append(e.pending, sop)
	return sop, nil
}

// PendingCount returns the number of locally-tracked operations not yet
// confirmed sent to any peer.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
