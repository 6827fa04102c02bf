package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/collabcore/core/internal/audit"
	"github.com/collabcore/core/internal/storage"
	"github.com/collabcore/core/internal/teamcrypto"
)

// Engine is the P2P Offline Sync Engine façade (spec §4.3): one aggregate
// composing the operation log, vector clock, conflict resolver, and peer
// exchange client, mirroring chatmemory.Memory's "one façade, many
// modules" shape. It is constructed explicitly in the composition root,
// not as a package-level singleton.
type Engine struct {
	store      *store
	localPeer  string
	signer     teamcrypto.Signer
	verifier   teamcrypto.Verifier
	membership teamcrypto.Membership
	audit      audit.Log
	logger     *slog.Logger
	httpClient httpDoer

	mu      sync.Mutex
	pending []SyncOperation // ops tracked locally, not yet successfully sent
	clock   int64           // local_version: this peer's monotonic counter
}

// New builds an Engine bound to db (expected to already carry Schema),
// identified as localPeerID, signing/verifying team-scoped operations via
// signer/verifier and checking membership via membership. A nil logger
// defaults to slog.Default(); auditLog is stored as given.
func New(db *storage.DB, localPeerID string, signer teamcrypto.Signer, verifier teamcrypto.Verifier, membership teamcrypto.Membership, auditLog audit.Log, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      &store{db: db},
		localPeer:  localPeerID,
		signer:     signer,
		verifier:   verifier,
		membership: membership,
		audit:      auditLog,
		logger:     logger,
		httpClient: defaultHTTPDoer{},
	}
}

// LocalPeerID returns this engine's stable peer identity.
func (e *Engine) LocalPeerID() string { return e.localPeer }

// Restore replays unsent local operations and the persisted vector clock
// at startup (spec §4.3: "operations survive process restart"). It must be
// called once before the engine is used.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	persisted, err := e.store.loadLocalClock(ctx, e.localPeer)
	if err != nil {
		return err
	}
	e.clock = persisted

	pending, err := e.store.pendingLocalOperations(ctx, e.localPeer)
	if err != nil {
		return err
	}
	e.pending = pending
	for _, op := range pending {
		if op.Version > e.clock {
			e.clock = op.Version
		}
	}
	return nil
}

// PruneSyncedOperations deletes synced operations older than olderThan, a
// maintenance routine intended to run on a periodic schedule.
func (e *Engine) PruneSyncedOperations(ctx context.Context, olderThan time.Duration) (int64, error) {
	return e.store.pruneSyncedOperations(ctx, time.Now().Add(-olderThan))
}

// PeerSyncState returns the last known exchange state with peerID.
func (e *Engine) PeerSyncState(ctx context.Context, peerID string) (PeerSyncState, error) {
	return e.store.getPeerSyncState(ctx, peerID)
}
