package permission

import "errors"

var (
	ErrUnknownPermission   = errors.New("permission: unknown permission key")
	ErrNotFound            = errors.New("permission: not found")
	ErrInvalidInput        = errors.New("permission: invalid input")
	ErrFounderRightsActive = errors.New("permission: founder rights already active for this user")
	ErrNotActive           = errors.New("permission: record is not active")
	ErrRateLimited         = errors.New("permission: too many invite attempts")
	ErrInviteExpired       = errors.New("permission: invite code expired")
	ErrInviteUsed          = errors.New("permission: invite code already used")
	ErrInviteInactive      = errors.New("permission: invite code is no longer active")
	ErrAlreadyMember       = errors.New("permission: user is already a team member")
)
