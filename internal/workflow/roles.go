package workflow

import "context"

// TeamRoles is the narrow collaborator interface the promotion flows use
// to read and change a team member's role, without Store depending on
// the concrete internal/permission package directly (spec §2's
// dependency order: "permission engine -> chat/workflow stores" is
// expressed here as workflow consuming permission through an interface
// it owns, the same shape as cache.Cache/audit.Log/embedding.Model).
// *permission.Engine satisfies this interface.
type TeamRoles interface {
	// MemberRole returns userID's current role on teamID, or found=false
	// if userID is not a member of teamID.
	MemberRole(ctx context.Context, teamID, userID string) (role string, found bool, err error)

	// ChangeRole sets userID's role on teamID to newRole.
	ChangeRole(ctx context.Context, teamID, userID, newRole string) error

	// SeniorAdmin returns the team's most senior (earliest joined_at)
	// member holding the admin role, or found=false if none exists.
	SeniorAdmin(ctx context.Context, teamID string) (userID string, found bool, err error)

	// HasSuperAdmin reports whether teamID currently has a member holding
	// the super_admin role.
	HasSuperAdmin(ctx context.Context, teamID string) (bool, error)
}
