package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/collabcore/core/internal/principal"
)

// JoinTeam adds userID to teamID with the given role (spec §3.1
// TeamMember). Joining a team the user already belongs to is rejected —
// use ChangeRole to alter an existing membership.
func (e *Engine) JoinTeam(ctx context.Context, teamID, userID, role string) (*TeamMember, error) {
	_, found, err := e.store.getMember(ctx, teamID, userID)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, ErrAlreadyMember
	}

	m := TeamMember{TeamID: teamID, UserID: userID, Role: role, JoinedAt: time.Now()}
	if err := e.store.addMember(ctx, m); err != nil {
		return nil, fmt.Errorf("joining team: %w", err)
	}
	e.recordAudit(ctx, userID, "team.join", "team", teamID, role)
	return &m, nil
}

// LeaveTeam removes userID from teamID.
func (e *Engine) LeaveTeam(ctx context.Context, teamID, userID string) error {
	if err := e.store.removeMember(ctx, teamID, userID); err != nil {
		return fmt.Errorf("leaving team: %w", err)
	}
	e.recordAudit(ctx, userID, "team.leave", "team", teamID, "")
	return nil
}

// Members returns teamID's membership roster, oldest joined first.
func (e *Engine) Members(ctx context.Context, teamID string) ([]TeamMember, error) {
	return e.store.membersOfTeam(ctx, teamID)
}

// IsMember reports whether userID belongs to teamID.
func (e *Engine) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	_, found, err := e.store.getMember(ctx, teamID, userID)
	return found, err
}

// MemberRole returns userID's current role within teamID, or found=false
// if userID is not a member. It satisfies internal/workflow.TeamRoles.
func (e *Engine) MemberRole(ctx context.Context, teamID, userID string) (string, bool, error) {
	m, found, err := e.store.getMember(ctx, teamID, userID)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	return m.Role, true, nil
}

// ChangeRole sets userID's role within teamID to newRole, recording the
// change in the audit log (spec §4.4's delayed/temporary promotion flows
// are the primary callers; it satisfies internal/workflow.TeamRoles).
func (e *Engine) ChangeRole(ctx context.Context, teamID, userID, newRole string) error {
	_, found, err := e.store.getMember(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if err := e.store.updateMemberRole(ctx, teamID, userID, newRole); err != nil {
		return fmt.Errorf("changing role: %w", err)
	}
	e.recordAudit(ctx, userID, "team.role_change", "team", teamID, newRole)
	return nil
}

// SeniorAdmin returns teamID's most senior (earliest joined_at) member
// holding the admin role, for break-glass promotion (spec §4.4: "the most
// senior (earliest joined_at) admin of the team may be promoted"). It
// satisfies internal/workflow.TeamRoles.
func (e *Engine) SeniorAdmin(ctx context.Context, teamID string) (string, bool, error) {
	members, err := e.store.membersOfTeam(ctx, teamID)
	if err != nil {
		return "", false, err
	}
	for _, m := range members {
		if m.Role == "admin" {
			return m.UserID, true, nil
		}
	}
	return "", false, nil
}

// MembershipView adapts Engine to internal/teamcrypto.Membership, which
// names its lookup method IsMember — distinct from Engine's own
// bool-returning IsMember above, hence the separate adapter type rather
// than a method rename.
type MembershipView struct{ engine *Engine }

// AsMembership returns the internal/teamcrypto.Membership view of e, wired
// into internal/sync's peer exchange so it can reject team-scoped
// operations from non-members (spec §4.3) using this engine's own
// team_members table.
func (e *Engine) AsMembership() MembershipView { return MembershipView{engine: e} }

// IsMember returns userID's role within teamID, or "" if they are not a
// member (internal/teamcrypto.Membership's contract).
func (v MembershipView) IsMember(ctx context.Context, teamID, userID string) principal.Role {
	m, found, err := v.engine.store.getMember(ctx, teamID, userID)
	if err != nil || !found {
		return ""
	}
	return principal.Role(m.Role)
}

// HasSuperAdmin reports whether teamID currently has at least one
// super_admin member (spec §3.1 Team invariant: "A team with zero
// super_admin members is invalid except transiently during promotion").
// Callers performing a role change that would drop the last super_admin
// must check this first and refuse the change outside of an in-flight
// promotion.
func (e *Engine) HasSuperAdmin(ctx context.Context, teamID string) (bool, error) {
	members, err := e.store.membersOfTeam(ctx, teamID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.Role == "super_admin" {
			return true, nil
		}
	}
	return false, nil
}
