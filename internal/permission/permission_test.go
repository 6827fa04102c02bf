package permission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collabcore/core/internal/cache"
	"github.com/collabcore/core/internal/corerr"
	"github.com/collabcore/core/internal/storage"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.ApplySchema(Schema))
	return New(db, nil, cache.NewTTLCache(), nil)
}

func TestAssignProfileIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	p, err := e.CreateProfile(ctx, CreateProfileRequest{
		Name:   "reviewer",
		Grants: []Grant{{PermissionKey: "workflow.create", IsGranted: true}},
	})
	require.NoError(t, err)

	require.NoError(t, e.AssignProfile(ctx, p.ID, "alice"))
	require.NoError(t, e.AssignProfile(ctx, p.ID, "alice"))

	profiles, err := e.ProfilesForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
}

func TestCreateProfileRejectsUnknownPermission(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateProfile(context.Background(), CreateProfileRequest{
		Name:   "bogus",
		Grants: []Grant{{PermissionKey: "not.a.real.permission", IsGranted: true}},
	})
	require.ErrorIs(t, err, ErrUnknownPermission)
}

func TestUnexpiredSetFiltering(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	set, err := e.CreateSet(ctx, CreateSetRequest{
		Name:   "temp-access",
		Grants: []Grant{{PermissionKey: "chat.search", IsGranted: true}},
	})
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, e.AssignSet(ctx, set.ID, "bob", &past))

	sets, err := e.UnexpiredSetsForUser(ctx, "bob", time.Now())
	require.NoError(t, err)
	require.Empty(t, sets, "expired assignment must be excluded")

	future := time.Now().Add(time.Hour)
	require.NoError(t, e.AssignSet(ctx, set.ID, "carol", &future))
	sets, err = e.UnexpiredSetsForUser(ctx, "carol", time.Now())
	require.NoError(t, err)
	require.Len(t, sets, 1)
}

func TestEffectivePermissionsDenyOverridesAllow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	profile, err := e.CreateProfile(ctx, CreateProfileRequest{
		Name:   "base",
		Grants: []Grant{{PermissionKey: "workflow.create", IsGranted: true}, {PermissionKey: "chat.read", IsGranted: true}},
	})
	require.NoError(t, err)
	require.NoError(t, e.AssignProfile(ctx, profile.ID, "dave"))

	set, err := e.CreateSet(ctx, CreateSetRequest{
		Name:   "restriction",
		Grants: []Grant{{PermissionKey: "workflow.create", IsGranted: false}},
	})
	require.NoError(t, err)
	require.NoError(t, e.AssignSet(ctx, set.ID, "dave", nil))

	eff, err := e.EffectivePermissions(ctx, "dave", time.Now())
	require.NoError(t, err)
	require.False(t, eff["workflow.create"].Granted, "explicit deny in the set must override the profile's allow")
	require.True(t, eff["chat.read"].Granted)

	// Cached result must reflect the same merge on a second call.
	eff2, err := e.EffectivePermissions(ctx, "dave", time.Now())
	require.NoError(t, err)
	require.Equal(t, eff, eff2)
}

func TestEffectivePermissionsCacheInvalidatedOnNewAssignment(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	profile, err := e.CreateProfile(ctx, CreateProfileRequest{
		Name:   "base",
		Grants: []Grant{{PermissionKey: "chat.read", IsGranted: true}},
	})
	require.NoError(t, err)
	require.NoError(t, e.AssignProfile(ctx, profile.ID, "erin"))

	ok, err := e.HasPermission(ctx, "erin", "chat.write")
	require.NoError(t, err)
	require.False(t, ok)

	second, err := e.CreateProfile(ctx, CreateProfileRequest{
		Name:   "extra",
		Grants: []Grant{{PermissionKey: "chat.write", IsGranted: true}},
	})
	require.NoError(t, err)
	require.NoError(t, e.AssignProfile(ctx, second.ID, "erin"))

	ok, err = e.HasPermission(ctx, "erin", "chat.write")
	require.NoError(t, err)
	require.True(t, ok, "assigning a new profile must invalidate the cached effective view")
}

func TestFounderRightsGrantRevokeReactivateHistory(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.GrantFounderRights(ctx, "founder1", "s3cr3t", nil, "initial grant")
	require.NoError(t, err)

	active, err := e.CheckGodRights(ctx, "founder1")
	require.NoError(t, err)
	require.True(t, active)

	_, err = e.GrantFounderRights(ctx, "founder1", "s3cr3t", nil, "")
	require.ErrorIs(t, err, ErrFounderRightsActive)

	require.NoError(t, e.RevokeFounderRights(ctx, "founder1", "admin1"))

	active, err = e.CheckGodRights(ctx, "founder1")
	require.NoError(t, err)
	require.False(t, active)

	_, err = e.ReactivateFounderRights(ctx, "founder1", "admin1")
	require.NoError(t, err)

	active, err = e.CheckGodRights(ctx, "founder1")
	require.NoError(t, err)
	require.True(t, active, "reactivation restores the same history-preserving row")

	all, err := e.ListFounderRights(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1, "revoke/reactivate must never create a second row")
}

func TestInviteCodeOneActivePerTeamNewInvalidatesOld(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.CreateInviteCode(ctx, "team1", 0)
	require.NoError(t, err)

	second, err := e.CreateInviteCode(ctx, "team1", 0)
	require.NoError(t, err)

	firstRow, found, err := e.store.getInviteCode(ctx, first.Code)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, firstRow.Active, "issuing a new code must invalidate the prior active code")

	secondRow, found, err := e.store.getInviteCode(ctx, second.Code)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, secondRow.Active)
}

func TestRedeemInviteRateLimitedAfterRepeatedFailures(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	ic, err := e.CreateInviteCode(ctx, "team1", 0)
	require.NoError(t, err)

	_, err = e.RedeemInvite(ctx, ic.Code, "10.0.0.1")
	require.NoError(t, err)

	var lastErr error
	for i := 0; i < inviteMaxFailures; i++ {
		_, lastErr = e.RedeemInvite(ctx, ic.Code, "10.0.0.1")
		require.ErrorIs(t, lastErr, ErrInviteUsed)
	}

	_, err = e.RedeemInvite(ctx, ic.Code, "10.0.0.1")
	require.True(t, corerr.Is(err, corerr.RateLimited), "must reject further attempts once the failure count trips the limiter")

	// A different IP is not subject to the same (code, ip) failure count.
	_, err = e.RedeemInvite(ctx, ic.Code, "10.0.0.2")
	require.ErrorIs(t, err, ErrInviteUsed)
}

func TestJoinTeamRejectsDuplicateMembership(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.JoinTeam(ctx, "team1", "alice", "member")
	require.NoError(t, err)

	_, err = e.JoinTeam(ctx, "team1", "alice", "admin")
	require.ErrorIs(t, err, ErrAlreadyMember)

	members, err := e.Members(ctx, "team1")
	require.NoError(t, err)
	require.Len(t, members, 1)

	require.NoError(t, e.LeaveTeam(ctx, "team1", "alice"))
	members, err = e.Members(ctx, "team1")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestHasSuperAdmin(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.JoinTeam(ctx, "team1", "alice", "member")
	require.NoError(t, err)

	has, err := e.HasSuperAdmin(ctx, "team1")
	require.NoError(t, err)
	require.False(t, has)

	_, err = e.JoinTeam(ctx, "team1", "bob", "super_admin")
	require.NoError(t, err)

	has, err = e.HasSuperAdmin(ctx, "team1")
	require.NoError(t, err)
	require.True(t, has)
}
