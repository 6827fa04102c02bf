// Package permission implements the Permission & Team Boundary Engine
// (spec §4.5): a permission registry, profile and permission-set
// assignment, deny-precedence effective-permission computation, Founder
// Rights (break-glass) administration, invite codes, and team membership.
//
// Like chatmemory, sync, and workflow before it, the package exposes one
// façade (Engine) over a store and small per-concern files, composed
// explicitly in the composition root (spec §9).
package permission

import "time"

// Type classifies how a permission's grant is interpreted (spec §4.5
// registry row's permission_type).
type Type string

const (
	TypeBoolean Type = "boolean"
	TypeLevel   Type = "level"
	TypeScope   Type = "scope"
)

// Permission is one declared, checkable capability. The registry is the
// compile-time source of truth (registry.go), mirroring the
// internal/sync.AllowedTables shape: a fixed set of known keys consulted
// by every assignment and check operation, rather than a free-form string.
type Permission struct {
	Key         string
	Category    string
	Subcategory string
	Type        Type
	IsSystem    bool
}

// Grant is one (permission, granted?) pair carried by a profile or
// permission set. IsGranted=false is an explicit deny, not an absence —
// deny always takes precedence over any positive grant for the same key
// (spec §4.5 step 4), the same rule already used for queue grants in
// internal/workflow/queues.go.
type Grant struct {
	PermissionKey string
	IsGranted     bool
	Level         *string
	Scope         *string
}

// Profile binds a name to a set of grants and is assigned to users
// (spec §4.5). Re-assigning the same profile to the same user is a no-op
// (idempotent assignment, enforced in profiles.go).
type Profile struct {
	ID          string
	Name        string
	Description string
	TeamID      *string
	AppliesTo   *string // optional role this profile is meant for
	IsActive    bool
	Grants      []Grant
	CreatedAt   time.Time
}

// ProfileAssignment records that a user carries a profile.
type ProfileAssignment struct {
	ProfileID string
	UserID    string
	CreatedAt time.Time
}

// PermissionSet is a time-bounded assignment layer over profiles: its
// grants apply only while the assignment to a given user is unexpired
// (spec §4.5).
type PermissionSet struct {
	ID        string
	Name      string
	TeamID    *string
	IsActive  bool
	Grants    []Grant
	CreatedAt time.Time
}

// SetAssignment binds a PermissionSet to a user, optionally expiring.
type SetAssignment struct {
	SetID     string
	UserID    string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Unexpired reports whether this assignment is still in effect as of now.
func (a SetAssignment) Unexpired(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// Effective is the resolved permission view callers query by key (spec
// §4.5 step 5 result shape).
type Effective struct {
	Granted bool
	Level   *string
	Scope   *string
}

// FounderRights is a history-preserving record of "god rights" (break
// glass) authorization for one user (spec §3.1 FounderRightsRecord). At
// most one row is ever active per user at a time; revoking never deletes
// the row, and reactivate flips an existing revoked row back on, the same
// revoked_at-preserving shape already used for sync.PeerSyncState.LastError
// and workflow's append-only stage-transition history.
type FounderRights struct {
	UserID      string
	AuthKeyHash string
	DelegatedBy *string
	IsActive    bool
	CreatedAt   time.Time
	RevokedAt   *time.Time
	RevokedBy   *string
	Notes       string
}

// InviteCode is a team's current (or superseded) join code (spec §3.1).
// Only one code is active per team at a time; issuing a new one
// invalidates the prior active code.
type InviteCode struct {
	Code      string
	TeamID    string
	ExpiresAt *time.Time
	Used      bool
	Active    bool
	CreatedAt time.Time
}

// InviteAttempt is one redemption attempt against a code, recorded for
// rate limiting (spec §4.5: "rate-limited by failure count per
// (code, ip)"). Persistent and restart-surviving, unlike an in-memory
// token bucket — an attempt recorded here must still count against the
// limit after a process restart.
type InviteAttempt struct {
	ID        int64
	Code      string
	IP        string
	Succeeded bool
	At        time.Time
}

// TeamMember is a (team, user) membership row (spec §3.1 TeamMember).
type TeamMember struct {
	TeamID   string
	UserID   string
	Role     string
	JobRole  *string
	JoinedAt time.Time
	LastSeen *time.Time
}
