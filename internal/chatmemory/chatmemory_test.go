package chatmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/collabcore/core/internal/cache"
	"github.com/collabcore/core/internal/embedding"
	"github.com/collabcore/core/internal/principal"
	"github.com/collabcore/core/internal/storage"
	"github.com/collabcore/core/internal/sync"
)

// fakeTracker is an in-memory sync.Tracker recording every call, for
// asserting that chatmemory's write paths wire into the sync tracker
// without needing a real sync.Engine and its own databases.
type fakeTracker struct {
	calls []trackedCall
}

type trackedCall struct {
	table string
	op    sync.Operation
	rowID string
	data  map[string]any
}

func (f *fakeTracker) TrackOperation(ctx context.Context, table string, op sync.Operation, rowID string, data map[string]any, teamID *string) (sync.SyncOperation, error) {
	f.calls = append(f.calls, trackedCall{table: table, op: op, rowID: rowID, data: data})
	return sync.SyncOperation{OpID: "fake", TableName: table, Operation: op, RowID: rowID, Data: data}, nil
}

type countingModel struct {
	calls int
	inner embedding.Model
}

func (m *countingModel) Create(ctx context.Context, text string) ([]float64, error) {
	m.calls++
	return m.inner.Create(ctx, text)
}

func newTestMemory(t *testing.T) (*Memory, *countingModel) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.ApplySchema(Schema))

	model := &countingModel{inner: embedding.NewStubModel()}
	mem := New(db, model, cache.NewTTLCache(), nil, nil)
	return mem, model
}

// newTestMemoryWithTracker is like newTestMemory but wires a fakeTracker so
// sync-tracking tests can assert on recorded calls.
func newTestMemoryWithTracker(t *testing.T) (*Memory, *fakeTracker) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.ApplySchema(Schema))

	tracker := &fakeTracker{}
	mem := New(db, embedding.NewStubModel(), cache.NewTTLCache(), tracker, nil)
	return mem, tracker
}

func alice() principal.Context { return principal.Context{UserID: "alice"} }

func TestSessionVisibilityOwnerOnly(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()

	sess, err := mem.CreateSession(ctx, CreateSessionRequest{Title: "t", UserID: "alice"})
	require.NoError(t, err)

	_, err = mem.GetSession(ctx, alice(), sess.ID)
	require.NoError(t, err)

	_, err = mem.GetSession(ctx, principal.Context{UserID: "bob"}, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionVisibilityTeamScoped(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	team := "T1"

	sess, err := mem.CreateSession(ctx, CreateSessionRequest{Title: "t", UserID: "alice", TeamID: &team})
	require.NoError(t, err)

	// Owner without matching team context cannot see it (team_id present -> team must match).
	_, err = mem.GetSession(ctx, alice(), sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	other := "T2"
	_, err = mem.GetSession(ctx, principal.Context{UserID: "carol", TeamID: &other}, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = mem.GetSession(ctx, principal.Context{UserID: "carol", TeamID: &team}, sess.ID)
	require.NoError(t, err)
}

func TestInsertMessageTenantInheritedFromSession(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	team := "T1"
	sess, err := mem.CreateSession(ctx, CreateSessionRequest{Title: "t", UserID: "alice", TeamID: &team})
	require.NoError(t, err)

	msg, err := mem.InsertMessage(ctx, InsertMessageRequest{SessionID: sess.ID, Role: RoleUser, Content: "hello there"})
	require.NoError(t, err)
	require.Equal(t, "alice", msg.UserID)
	require.Equal(t, &team, msg.TeamID)
}

func TestEmbeddingBoundary(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	sess, err := mem.CreateSession(ctx, CreateSessionRequest{Title: "t", UserID: "alice"})
	require.NoError(t, err)

	exactly20 := "12345678901234567890" // len 20
	require.Len(t, exactly20, 20)
	msg20, err := mem.InsertMessage(ctx, InsertMessageRequest{SessionID: sess.ID, Role: RoleUser, Content: exactly20})
	require.NoError(t, err)
	_, ok, err := mem.store.getEmbedding(ctx, msg20.ID)
	require.NoError(t, err)
	require.False(t, ok, "len==20 must not get a precomputed embedding")

	exactly21 := exactly20 + "1"
	msg21, err := mem.InsertMessage(ctx, InsertMessageRequest{SessionID: sess.ID, Role: RoleUser, Content: exactly21})
	require.NoError(t, err)
	_, ok, err = mem.store.getEmbedding(ctx, msg21.ID)
	require.NoError(t, err)
	require.True(t, ok, "len==21 must get a precomputed embedding")
}

func TestDeleteSessionCascades(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	sess, err := mem.CreateSession(ctx, CreateSessionRequest{Title: "t", UserID: "alice"})
	require.NoError(t, err)
	_, err = mem.InsertMessage(ctx, InsertMessageRequest{SessionID: sess.ID, Role: RoleUser, Content: "a message long enough to embed"})
	require.NoError(t, err)
	_, err = mem.UpdateSummary(ctx, alice(), sess.ID)
	require.NoError(t, err)

	ok, err := mem.DeleteSession(ctx, alice(), sess.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = mem.GetSession(ctx, alice(), sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	msgs, err := mem.store.getMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)

	_, found, err := mem.store.getSummary(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeleteSessionDeniedForNonOwner(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	sess, err := mem.CreateSession(ctx, CreateSessionRequest{Title: "t", UserID: "alice"})
	require.NoError(t, err)

	ok, err := mem.DeleteSession(ctx, principal.Context{UserID: "bob"}, sess.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// god_rights bypasses ownership.
	ok, err = mem.DeleteSession(ctx, principal.Context{UserID: "bob", Role: principal.RoleGodRights}, sess.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSummaryIdempotentAndBounded(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	sess, err := mem.CreateSession(ctx, CreateSessionRequest{Title: "t", UserID: "alice"})
	require.NoError(t, err)

	for i := 0; i < 35; i++ {
		_, err := mem.InsertMessage(ctx, InsertMessageRequest{SessionID: sess.ID, Role: RoleUser, Content: "message number for padding purposes"})
		require.NoError(t, err)
	}

	s1, err := mem.UpdateSummary(ctx, alice(), sess.ID)
	require.NoError(t, err)
	s2, err := mem.UpdateSummary(ctx, alice(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, s1.Summary, s2.Summary)
	require.LessOrEqual(t, len(s1.Summary), maxSummaryChars)
}

func TestSemanticSearchCacheHit(t *testing.T) {
	mem, model := newTestMemory(t)
	ctx := context.Background()
	sess, err := mem.CreateSession(ctx, CreateSessionRequest{Title: "t", UserID: "alice"})
	require.NoError(t, err)

	for _, content := range []string{
		"Alpha beta gamma delta",
		"Epsilon zeta eta theta",
		"Iota kappa lambda mu",
	} {
		_, err := mem.InsertMessage(ctx, InsertMessageRequest{SessionID: sess.ID, Role: RoleUser, Content: content})
		require.NoError(t, err)
	}

	callsBefore := model.calls
	hits, err := mem.Search(ctx, alice(), "gamma", 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Contains(t, hits[0].Content, "Alpha")
	callsAfterFirst := model.calls
	require.Greater(t, callsAfterFirst, callsBefore)

	hits2, err := mem.Search(ctx, alice(), "gamma", 2)
	require.NoError(t, err)
	require.Equal(t, hits, hits2)
	require.Equal(t, callsAfterFirst, model.calls, "second identical search must be served from cache")
}

func TestSyncableWritesTrackOperations(t *testing.T) {
	mem, tracker := newTestMemoryWithTracker(t)
	ctx := context.Background()

	sess, err := mem.CreateSession(ctx, CreateSessionRequest{Title: "t", UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, tracker.calls, 1)
	require.Equal(t, "chat_sessions", tracker.calls[0].table)
	require.Equal(t, sync.OpInsert, tracker.calls[0].op)
	require.Equal(t, sess.ID, tracker.calls[0].rowID)

	_, err = mem.InsertMessage(ctx, InsertMessageRequest{SessionID: sess.ID, Role: RoleUser, Content: "hello there"})
	require.NoError(t, err)
	require.Len(t, tracker.calls, 2)
	require.Equal(t, "chat_messages", tracker.calls[1].table)
	require.Equal(t, sync.OpInsert, tracker.calls[1].op)

	require.NoError(t, mem.UpdateTitle(ctx, alice(), sess.ID, "new title", false))
	require.Len(t, tracker.calls, 3)
	require.Equal(t, "chat_sessions", tracker.calls[2].table)
	require.Equal(t, sync.OpUpdate, tracker.calls[2].op)
	require.Equal(t, "new title", tracker.calls[2].data["title"])

	ok, err := mem.DeleteSession(ctx, alice(), sess.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, tracker.calls, 4)
	require.Equal(t, "chat_sessions", tracker.calls[3].table)
	require.Equal(t, sync.OpDelete, tracker.calls[3].op)
	require.Equal(t, sess.ID, tracker.calls[3].rowID)
}
