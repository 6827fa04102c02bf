package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateProfileRequest describes a new permission profile (spec §4.5).
type CreateProfileRequest struct {
	Name        string
	Description string
	TeamID      *string
	AppliesTo   *string
	Grants      []Grant
}

// CreateProfile registers a new profile. Every grant's key must be a
// known permission (registry.go).
func (e *Engine) CreateProfile(ctx context.Context, req CreateProfileRequest) (*Profile, error) {
	if req.Name == "" {
		return nil, ErrInvalidInput
	}
	if err := validateGrants(req.Grants); err != nil {
		return nil, err
	}

	p := Profile{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		TeamID:      req.TeamID,
		AppliesTo:   req.AppliesTo,
		IsActive:    true,
		Grants:      req.Grants,
		CreatedAt:   time.Now(),
	}
	if err := e.store.createProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	return &p, nil
}

// AssignProfile assigns profileID to userID. Re-assignment is a no-op
// (spec §4.5: "same user + same profile re-assigned does not duplicate").
func (e *Engine) AssignProfile(ctx context.Context, profileID, userID string) error {
	if err := e.store.assignProfile(ctx, profileID, userID, time.Now()); err != nil {
		return fmt.Errorf("assigning profile: %w", err)
	}
	e.invalidateUser(userID)
	e.recordAudit(ctx, userID, "profile.assign", "permission_profile", profileID, "")
	return nil
}

// GetProfile returns a profile by id.
func (e *Engine) GetProfile(ctx context.Context, id string) (*Profile, error) {
	p, found, err := e.store.getProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ProfilesForUser returns every active profile assigned to userID.
func (e *Engine) ProfilesForUser(ctx context.Context, userID string) ([]Profile, error) {
	return e.store.profilesForUser(ctx, userID)
}
