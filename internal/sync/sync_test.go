package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collabcore/core/internal/storage"
)

func newTestEngine(t *testing.T, peerID string) *Engine {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.ApplySchema(Schema))

	eng := New(db, peerID, nil, nil, nil, nil, nil)
	require.NoError(t, eng.Restore(context.Background()))
	return eng
}

func TestTrackOperationRejectsNonSyncableTable(t *testing.T) {
	eng := newTestEngine(t, "AAAA")
	_, err := eng.TrackOperation(context.Background(), "secret_table", OpInsert, "row1", map[string]any{"x": 1}, nil)
	require.ErrorIs(t, err, ErrNotSyncable)
}

func TestTrackOperationPersistsAndReplaysAfterRestart(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.ApplySchema(Schema))

	eng := New(db, "AAAA", nil, nil, nil, nil, nil)
	require.NoError(t, eng.Restore(context.Background()))

	_, err = eng.TrackOperation(context.Background(), "chat_messages", OpInsert, "m1", map[string]any{"content": "hi"}, nil)
	require.NoError(t, err)
	_, err = eng.TrackOperation(context.Background(), "chat_messages", OpInsert, "m2", map[string]any{"content": "there"}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, eng.PendingCount())

	// Simulate a process restart: fresh Engine over the same db.
	restarted := New(db, "AAAA", nil, nil, nil, nil, nil)
	require.NoError(t, restarted.Restore(context.Background()))
	require.Equal(t, 2, restarted.PendingCount())
	require.Equal(t, int64(2), restarted.clock)

	// A new tracked op must continue the vector clock, not restart it.
	op, err := restarted.TrackOperation(context.Background(), "chat_messages", OpInsert, "m3", map[string]any{"content": "again"}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), op.Version)
}

func TestApplyOperationsRejectsNonSyncableTableButAppliesOthers(t *testing.T) {
	eng := newTestEngine(t, "local")
	require.NoError(t, eng.store.db.ApplySchema(`CREATE TABLE IF NOT EXISTS chat_messages (id TEXT PRIMARY KEY, content TEXT)`))

	ops := []SyncOperation{
		{OpID: "op1", TableName: "secret_table", Operation: OpInsert, RowID: "r1", Data: map[string]any{"x": 1}, Timestamp: time.Now(), PeerID: "remote"},
		{OpID: "op2", TableName: "chat_messages", Operation: OpInsert, RowID: "m1", Data: map[string]any{"content": "hello"}, Timestamp: time.Now(), PeerID: "remote"},
	}
	results, err := eng.ApplyOperations(context.Background(), ops)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, results[0].Applied)
	require.Equal(t, ErrNotSyncable.Error(), results[0].Reason)
	require.True(t, results[1].Applied)

	var content string
	require.NoError(t, eng.store.db.QueryRow(`SELECT content FROM chat_messages WHERE id = ?`, "m1").Scan(&content))
	require.Equal(t, "hello", content)
}

// TestApplyOperationsLWWTiebreakAgainstSelfPeerID pins the local peer id to
// "MMMM", lexicographically between the two remote peers exercised below,
// so the tiebreak can only pass by consulting e.localPeer and not by
// comparing the two remote peer ids against each other (spec §4.3, §8:
// "op.peer_id > self.peer_id").
func TestApplyOperationsLWWTiebreakAgainstSelfPeerID(t *testing.T) {
	eng := newTestEngine(t, "MMMM")
	require.NoError(t, eng.store.db.ApplySchema(`CREATE TABLE IF NOT EXISTS chat_messages (id TEXT PRIMARY KEY, content TEXT)`))

	ts := time.Now().UTC().Truncate(time.Millisecond)
	first := SyncOperation{OpID: "op-a", TableName: "chat_messages", Operation: OpInsert, RowID: "m1", Data: map[string]any{"content": "from AAAA"}, Timestamp: ts, PeerID: "AAAA"}
	results, err := eng.ApplyOperations(context.Background(), []SyncOperation{first})
	require.NoError(t, err)
	require.True(t, results[0].Applied)

	// BBBB < local peer "MMMM": loses the tie even though BBBB > AAAA.
	loses := SyncOperation{OpID: "op-b", TableName: "chat_messages", Operation: OpUpdate, RowID: "m1", Data: map[string]any{"content": "from BBBB"}, Timestamp: ts, PeerID: "BBBB"}
	results2, err := eng.ApplyOperations(context.Background(), []SyncOperation{loses})
	require.NoError(t, err)
	require.False(t, results2[0].Applied)
	require.Equal(t, ErrStaleOperation.Error(), results2[0].Reason)

	var content string
	require.NoError(t, eng.store.db.QueryRow(`SELECT content FROM chat_messages WHERE id = ?`, "m1").Scan(&content))
	require.Equal(t, "from AAAA", content)

	// ZZZZ > local peer "MMMM": wins the tie.
	wins := SyncOperation{OpID: "op-c", TableName: "chat_messages", Operation: OpUpdate, RowID: "m1", Data: map[string]any{"content": "from ZZZZ"}, Timestamp: ts, PeerID: "ZZZZ"}
	results3, err := eng.ApplyOperations(context.Background(), []SyncOperation{wins})
	require.NoError(t, err)
	require.True(t, results3[0].Applied)
	require.NoError(t, eng.store.db.QueryRow(`SELECT content FROM chat_messages WHERE id = ?`, "m1").Scan(&content))
	require.Equal(t, "from ZZZZ", content)
}

// TestApplyOperationsLWWEqualToSelfPeerIDLoses covers the boundary case:
// an incoming op whose peer_id is lexicographically equal to the local
// peer's own id does not apply on a timestamp tie (spec §8: self wins).
func TestApplyOperationsLWWEqualToSelfPeerIDLoses(t *testing.T) {
	eng := newTestEngine(t, "mmmm")
	require.NoError(t, eng.store.db.ApplySchema(`CREATE TABLE IF NOT EXISTS chat_messages (id TEXT PRIMARY KEY, content TEXT)`))

	ts := time.Now().UTC().Truncate(time.Millisecond)
	first := SyncOperation{OpID: "op-a", TableName: "chat_messages", Operation: OpInsert, RowID: "m1", Data: map[string]any{"content": "original"}, Timestamp: ts, PeerID: "AAAA"}
	_, err := eng.ApplyOperations(context.Background(), []SyncOperation{first})
	require.NoError(t, err)

	selfTie := SyncOperation{OpID: "op-self", TableName: "chat_messages", Operation: OpUpdate, RowID: "m1", Data: map[string]any{"content": "from mmmm"}, Timestamp: ts, PeerID: "mmmm"}
	results, err := eng.ApplyOperations(context.Background(), []SyncOperation{selfTie})
	require.NoError(t, err)
	require.False(t, results[0].Applied)
	require.Equal(t, ErrStaleOperation.Error(), results[0].Reason)
}

// fakePeerTransport routes HTTP exchange requests directly to another
// in-process Engine's HandleExchange, letting two-peer exchange scenarios
// run without a real network listener.
type fakePeerTransport struct {
	target *Engine
}

func (f fakePeerTransport) Do(req *http.Request) (*http.Response, error) {
	var parsed exchangeRequest
	if err := json.NewDecoder(req.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	resp, err := f.target.HandleExchange(req.Context(), parsed)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}, nil
}

func TestMutualExchangeConverges(t *testing.T) {
	dbA, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbA.Close() })
	require.NoError(t, dbA.ApplySchema(Schema))
	require.NoError(t, dbA.ApplySchema(`CREATE TABLE IF NOT EXISTS chat_messages (id TEXT PRIMARY KEY, content TEXT)`))

	dbB, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbB.Close() })
	require.NoError(t, dbB.ApplySchema(Schema))
	require.NoError(t, dbB.ApplySchema(`CREATE TABLE IF NOT EXISTS chat_messages (id TEXT PRIMARY KEY, content TEXT)`))

	engA := New(dbA, "AAAA", nil, nil, nil, nil, nil)
	require.NoError(t, engA.Restore(context.Background()))
	engB := New(dbB, "BBBB", nil, nil, nil, nil, nil)
	require.NoError(t, engB.Restore(context.Background()))

	engA.httpClient = fakePeerTransport{target: engB}

	_, err = engA.TrackOperation(context.Background(), "chat_messages", OpInsert, "m1", map[string]any{"content": "from A"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, engA.PendingCount())

	err = engA.ExchangeWithPeer(context.Background(), Peer{PeerID: "BBBB", IP: "127.0.0.1", Port: 9000}, nil)
	require.NoError(t, err)

	// A's op must now be marked synced and removed from its pending queue.
	require.Equal(t, 0, engA.PendingCount())

	var content string
	require.NoError(t, dbB.QueryRow(`SELECT content FROM chat_messages WHERE id = ?`, "m1").Scan(&content))
	require.Equal(t, "from A", content)

	stA, err := engA.PeerSyncState(context.Background(), "BBBB")
	require.NoError(t, err)
	require.Equal(t, StatusIdle, stA.Status)
	require.Equal(t, 1, stA.OperationsSent)
	require.Nil(t, stA.LastError)
}

func TestPruneSyncedOperationsRemovesOldRowsOnly(t *testing.T) {
	eng := newTestEngine(t, "AAAA")
	require.NoError(t, eng.store.db.ApplySchema(`CREATE TABLE IF NOT EXISTS chat_messages (id TEXT PRIMARY KEY, content TEXT)`))

	_, err := eng.TrackOperation(context.Background(), "chat_messages", OpInsert, "m1", map[string]any{"content": "old"}, nil)
	require.NoError(t, err)
	require.NoError(t, eng.store.markSynced(context.Background(), []string{eng.pending[0].OpID}))

	// A negative window means "older than one hour from now", which is
	// always true yet, so it prunes the synced row unconditionally.
	n, err := eng.PruneSyncedOperations(context.Background(), -time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
