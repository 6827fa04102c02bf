package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSetRequest describes a new permission set (spec §4.5).
type CreateSetRequest struct {
	Name   string
	TeamID *string
	Grants []Grant
}

// CreateSet registers a new permission set.
func (e *Engine) CreateSet(ctx context.Context, req CreateSetRequest) (*PermissionSet, error) {
	if req.Name == "" {
		return nil, ErrInvalidInput
	}
	if err := validateGrants(req.Grants); err != nil {
		return nil, err
	}

	set := PermissionSet{
		ID:        uuid.NewString(),
		Name:      req.Name,
		TeamID:    req.TeamID,
		IsActive:  true,
		Grants:    req.Grants,
		CreatedAt: time.Now(),
	}
	if err := e.store.createSet(ctx, set); err != nil {
		return nil, fmt.Errorf("creating permission set: %w", err)
	}
	return &set, nil
}

// AssignSet binds setID to userID, optionally expiring at expiresAt
// (spec §4.5: "a time-bounded assignment layer over profiles"). Passing
// the same (set, user) pair again updates the expiry rather than
// duplicating the assignment.
func (e *Engine) AssignSet(ctx context.Context, setID, userID string, expiresAt *time.Time) error {
	a := SetAssignment{SetID: setID, UserID: userID, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	if err := e.store.assignSet(ctx, a); err != nil {
		return fmt.Errorf("assigning permission set: %w", err)
	}
	e.invalidateUser(userID)
	e.recordAudit(ctx, userID, "permission_set.assign", "permission_set", setID, "")
	return nil
}

// UnexpiredSetsForUser returns every permission set currently in effect
// for userID as of now (spec §4.5 step 3: "unexpired permission-set
// assignments").
func (e *Engine) UnexpiredSetsForUser(ctx context.Context, userID string, now time.Time) ([]PermissionSet, error) {
	return e.store.unexpiredSetsForUser(ctx, userID, now)
}
