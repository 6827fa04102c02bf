// Package principal defines the authenticated-caller context threaded
// through every core operation, and the visibility predicates that
// subsystems share to decide what a given caller may see.
package principal

// Role is a user's global role (spec §3.1 User.role).
type Role string

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	RoleGodRights  Role = "god_rights"
)

// Context is the (user_id, role, team_id?) tuple external callers resolve
// via auth middleware (out of scope here) and pass into every core
// operation.
type Context struct {
	UserID string
	Role   Role
	TeamID *string // nil when the caller is not acting within a team
}

// HasTeam reports whether the caller is operating in team scope.
func (c Context) HasTeam() bool {
	return c.TeamID != nil && *c.TeamID != ""
}

// Team returns the team id, or "" if the caller has none.
func (c Context) Team() string {
	if c.TeamID == nil {
		return ""
	}
	return *c.TeamID
}

// IsGodRights reports whether this caller's role allows admin-only
// (Founder Rights) bypass endpoints. This checks only the coarse role
// field; §4.5's check_god_rights is the authoritative, revocable check
// against god_rights_auth and must also be consulted before granting any
// bypass in practice.
func (c Context) IsGodRights() bool {
	return c.Role == RoleGodRights
}

// VisibleToOwnerOrTeam implements the canonical ownership/team visibility
// rule shared by chat sessions and other owner-or-team-scoped entities
// (spec §4.2): if the entity has a team, the caller's team must match;
// otherwise the caller must be the owner.
func VisibleToOwnerOrTeam(caller Context, ownerUserID string, entityTeamID *string) bool {
	if entityTeamID != nil && *entityTeamID != "" {
		return caller.HasTeam() && caller.Team() == *entityTeamID
	}
	return caller.UserID == ownerUserID
}
