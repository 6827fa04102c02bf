package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collabcore/core/internal/principal"
	"github.com/collabcore/core/internal/storage"
	"github.com/collabcore/core/internal/sync"
)

// fakeTracker is an in-memory stand-in for sync.Engine, mirroring the
// fakeTracker in internal/chatmemory's test suite.
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

// fakeRoles is an in-memory stand-in for internal/permission.Engine,
// mirroring the package-internal fake style used by fakeTracker in
// internal/chatmemory and fakePeerTransport in internal/sync. order lists
// user IDs in join order (assigned by each test; set does not append to
// it) so SeniorAdmin can deterministically pick the earliest-joined admin,
// the way permission.Engine reads joined_at ASC.
type fakeRoles struct {
	roles map[string]map[string]string // teamID -> userID -> role
	order []string
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{roles: map[string]map[string]string{}}
}

func (f *fakeRoles) set(teamID, userID, role string) {
	if f.roles[teamID] == nil {
		f.roles[teamID] = map[string]string{}
	}
	f.roles[teamID][userID] = role
}

func (f *fakeRoles) MemberRole(ctx context.Context, teamID, userID string) (string, bool, error) {
	role, found := f.roles[teamID][userID]
	return role, found, nil
}

func (f *fakeRoles) ChangeRole(ctx context.Context, teamID, userID, newRole string) error {
	if _, found := f.roles[teamID][userID]; !found {
		return ErrNotFound
	}
	f.set(teamID, userID, newRole)
	return nil
}

func (f *fakeRoles) SeniorAdmin(ctx context.Context, teamID string) (string, bool, error) {
	for _, id := range f.order {
		if f.roles[teamID][id] == "admin" {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeRoles) HasSuperAdmin(ctx context.Context, teamID string) (bool, error) {
	for _, role := range f.roles[teamID] {
		if role == "super_admin" {
			return true, nil
		}
	}
	return false, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.ApplySchema(Schema))
	return New(db, nil, nil, nil, nil)
}

func newTestStoreWithRoles(t *testing.T, roles TeamRoles) *Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.ApplySchema(Schema))
	return New(db, nil, roles, nil, nil)
}

func alice() principal.Context { return principal.Context{UserID: "alice"} }

func TestCreateWorkflowRequiresAtLeastOneStage(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateWorkflow(context.Background(), CreateWorkflowRequest{OwnerID: "alice", Name: "review"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestTemplateWorkflowsNeverTrigger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateWorkflow(ctx, CreateWorkflowRequest{
		OwnerID:    "alice",
		Name:       "file review template",
		IsTemplate: true,
		Stages:     []Stage{{Name: "intake", Order: 0}},
		Triggers:   []Trigger{{Type: TriggerFile, Pattern: "*.go"}},
	})
	require.NoError(t, err)

	items, err := s.MatchTriggers(ctx, TriggerEvent{Type: TriggerFile, Pattern: "main.go", OwnerID: "alice"})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestFileTriggerSpawnsWorkItemAtFirstStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateWorkflow(ctx, CreateWorkflowRequest{
		OwnerID: "alice",
		Name:    "go file review",
		Stages:  []Stage{{Name: "triage", Order: 1}, {Name: "intake", Order: 0}, {Name: "done", Order: 2}},
		Triggers: []Trigger{
			{Type: TriggerFile, Pattern: "*.go"},
		},
	})
	require.NoError(t, err)

	items, err := s.MatchTriggers(ctx, TriggerEvent{Type: TriggerFile, Pattern: "main.go", OwnerID: "alice", Title: "review main.go"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "intake", items[0].Stage) // lowest Order, not declaration order
	require.Equal(t, StatusPending, items[0].Status)
	require.Equal(t, PriorityNormal, items[0].Priority)

	// Non-matching extension must not trigger.
	none, err := s.MatchTriggers(ctx, TriggerEvent{Type: TriggerFile, Pattern: "README.md", OwnerID: "alice"})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStageTransitionHistoryDurationsAndLastIsNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf, err := s.CreateWorkflow(ctx, CreateWorkflowRequest{
		OwnerID: "alice",
		Name:    "pipeline",
		Stages:  []Stage{{Name: "intake", Order: 0}, {Name: "review", Order: 1}, {Name: "done", Order: 2}},
	})
	require.NoError(t, err)

	item := &WorkItem{ID: "item1", WorkflowID: wf.ID, OwnerID: "alice", Title: "t", Status: StatusPending, Priority: PriorityNormal, Stage: "intake"}
	require.NoError(t, s.SaveWorkItem(ctx, item, nil))

	got, err := s.TransitionStage(ctx, alice(), "item1", "review")
	require.NoError(t, err)
	require.Equal(t, "review", got.Stage)

	_, err = s.TransitionStage(ctx, alice(), "item1", "nonexistent-stage")
	require.ErrorIs(t, err, ErrInvalidTransition)

	final, err := s.GetWorkItem(ctx, alice(), "item1")
	require.NoError(t, err)
	require.Len(t, final.Transitions, 2)
	require.Equal(t, "intake", final.Transitions[0].Stage)
	require.NotNil(t, final.Transitions[0].Duration)
	require.Equal(t, "review", final.Transitions[1].Stage)
	require.Nil(t, final.Transitions[1].Duration, "the latest transition has no successor yet")
}

func TestDelayedPromotionOnePerTeamUser(t *testing.T) {
	roles := newFakeRoles()
	roles.set("team1", "alice", "member")
	s := newTestStoreWithRoles(t, roles)
	ctx := context.Background()

	_, err := s.RequestDelayedPromotion(ctx, "team1", "alice", "admin", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = s.RequestDelayedPromotion(ctx, "team1", "alice", "super_admin", time.Now().Add(2*time.Hour))
	require.ErrorIs(t, err, ErrPromotionExists)
}

func TestApplyDuePromotionsChangesRole(t *testing.T) {
	roles := newFakeRoles()
	roles.set("team1", "alice", "member")
	s := newTestStoreWithRoles(t, roles)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := s.RequestDelayedPromotion(ctx, "team1", "alice", "admin", past)
	require.NoError(t, err)

	applied, err := s.ApplyDuePromotions(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	role, found, err := roles.MemberRole(ctx, "team1", "alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "admin", role)

	// A second sweep must not double-apply.
	applied2, err := s.ApplyDuePromotions(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, applied2)
}

func TestTempPromotionOneActivePerTeamThenRevert(t *testing.T) {
	roles := newFakeRoles()
	roles.order = []string{"super1", "admin1"}
	roles.set("team1", "super1", "super_admin")
	roles.set("team1", "admin1", "admin")
	s := newTestStoreWithRoles(t, roles)
	ctx := context.Background()

	promo, err := s.GrantTempPromotion(ctx, "team1", "super1")
	require.NoError(t, err)
	require.Equal(t, "admin1", promo.PromotedAdminID)

	role, _, err := roles.MemberRole(ctx, "team1", "admin1")
	require.NoError(t, err)
	require.Equal(t, "super_admin", role)

	_, err = s.GrantTempPromotion(ctx, "team1", "super1")
	require.ErrorIs(t, err, ErrPromotionExists)

	require.NoError(t, s.RevertTempPromotion(ctx, promo.ID))

	role, _, err = roles.MemberRole(ctx, "team1", "admin1")
	require.NoError(t, err)
	require.Equal(t, "admin", role)

	// After revert, a new temp promotion must be grantable again.
	_, err = s.GrantTempPromotion(ctx, "team1", "super1")
	require.NoError(t, err)
}

func TestApproveTempPromotionRequiresOriginalSuperAdmin(t *testing.T) {
	roles := newFakeRoles()
	roles.order = []string{"super1", "admin1"}
	roles.set("team1", "super1", "super_admin")
	roles.set("team1", "admin1", "admin")
	s := newTestStoreWithRoles(t, roles)
	ctx := context.Background()

	promo, err := s.GrantTempPromotion(ctx, "team1", "super1")
	require.NoError(t, err)

	err = s.ApproveTempPromotion(ctx, principal.Context{UserID: "admin1"}, promo.ID)
	require.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, s.ApproveTempPromotion(ctx, principal.Context{UserID: "super1"}, promo.ID))
}

func TestSaveWorkItemAndCreateWorkflowTrackSyncOperations(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.ApplySchema(Schema))

	tracker := &fakeTracker{}
	s := New(db, nil, nil, tracker, nil)
	ctx := context.Background()

	wf, err := s.CreateWorkflow(ctx, CreateWorkflowRequest{OwnerID: "alice", Name: "wf", Stages: []Stage{{Name: "a", Order: 0}}})
	require.NoError(t, err)

	item := &WorkItem{ID: "item1", WorkflowID: wf.ID, OwnerID: "alice", Title: "t", Status: StatusPending, Priority: PriorityNormal, Stage: "a"}
	require.NoError(t, s.SaveWorkItem(ctx, item, nil))

	require.Len(t, tracker.calls, 2)
	require.Equal(t, "workflows", tracker.calls[0].table)
	require.Equal(t, "work_items", tracker.calls[1].table)
}

func TestQueueAccessDenyOverridesAllow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q, err := s.CreateQueue(ctx, "team1", "incoming", "owner1")
	require.NoError(t, err)

	require.NoError(t, s.GrantQueueAccess(ctx, q.ID, GrantRole, string(principal.RoleMember), AccessRead))
	require.NoError(t, s.GrantQueueAccess(ctx, q.ID, GrantDeny, "bob", AccessRead))

	carol := principal.Context{UserID: "carol", Role: principal.RoleMember}
	ok, _ := s.CheckQueueAccess(ctx, carol, q.ID, AccessRead)
	require.True(t, ok, "carol matches the role grant and has no deny entry")

	bob := principal.Context{UserID: "bob", Role: principal.RoleMember}
	ok, reason := s.CheckQueueAccess(ctx, bob, q.ID, AccessRead)
	require.False(t, ok, "bob's explicit deny overrides the role-based allow")
	require.Equal(t, "explicitly denied", reason)
}

func strPtr(s string) *string { return &s }
