package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/collabcore/core/internal/principal"
)

// RequestDelayedPromotion schedules a future team-role change for userID,
// enforcing spec §4.4's "at most one pending promotion per (team, user)"
// invariant. fromRole is recorded as userID's role at request time, read
// fresh from roles rather than trusted from the caller.
func (s *Store) RequestDelayedPromotion(ctx context.Context, teamID, userID, toRole string, executeAt time.Time) (*DelayedPromotion, error) {
	if s.roles == nil {
		return nil, ErrRolesUnavailable
	}
	_, found, err := s.store.pendingDelayedPromotion(ctx, teamID, userID)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, ErrPromotionExists
	}

	fromRole, found, err := s.roles.MemberRole(ctx, teamID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving current role: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: user is not a member of this team", ErrNotFound)
	}

	p := DelayedPromotion{
		ID:          uuid.NewString(),
		TeamID:      teamID,
		UserID:      userID,
		FromRole:    fromRole,
		ToRole:      toRole,
		ScheduledAt: time.Now(),
		ExecuteAt:   executeAt,
	}
	if err := s.store.insertDelayedPromotion(ctx, p); err != nil {
		return nil, fmt.Errorf("requesting delayed promotion: %w", err)
	}
	return &p, nil
}

// ApplyDuePromotions sweeps unexecuted delayed promotions whose ExecuteAt
// has passed and applies the team-role change (spec §4.4). Intended to be
// registered as a periodic job with internal/scheduler. Each promotion's
// failure is logged and does not block the rest of the sweep.
func (s *Store) ApplyDuePromotions(ctx context.Context, asOf time.Time) (applied int, err error) {
	due, err := s.store.duePromotions(ctx, asOf)
	if err != nil {
		return 0, err
	}
	for _, p := range due {
		if err := s.applyOnePromotion(ctx, p); err != nil {
			s.logger.Error("apply delayed promotion", "promotion_id", p.ID, "error", err)
			continue
		}
		applied++
	}
	return applied, nil
}

func (s *Store) applyOnePromotion(ctx context.Context, p DelayedPromotion) error {
	if s.roles == nil {
		return ErrRolesUnavailable
	}
	if err := s.roles.ChangeRole(ctx, p.TeamID, p.UserID, p.ToRole); err != nil {
		return fmt.Errorf("applying role change: %w", err)
	}
	if err := s.store.markPromotionExecuted(ctx, p.ID, time.Now()); err != nil {
		return fmt.Errorf("marking promotion executed: %w", err)
	}
	return nil
}

// GrantTempPromotion issues a break-glass elevation of teamID's most
// senior (earliest joined_at) admin to super_admin, enforcing spec
// §4.4's "at most one active temp promotion per team" invariant.
// originalSuperAdminID identifies the super_admin this promotion stands
// in for. Callers are expected to have already established that teamID's
// sole active super_admin is unavailable; Store does not itself judge
// availability and does not call roles.HasSuperAdmin.
func (s *Store) GrantTempPromotion(ctx context.Context, teamID, originalSuperAdminID string) (*TempPromotion, error) {
	if s.roles == nil {
		return nil, ErrRolesUnavailable
	}
	_, found, err := s.store.activeTempPromotion(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, ErrPromotionExists
	}

	seniorAdmin, found, err := s.roles.SeniorAdmin(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("finding senior admin: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: team has no admin to promote", ErrNotFound)
	}

	if err := s.roles.ChangeRole(ctx, teamID, seniorAdmin, string(principal.RoleSuperAdmin)); err != nil {
		return nil, fmt.Errorf("promoting senior admin: %w", err)
	}

	p := TempPromotion{
		ID:                   uuid.NewString(),
		TeamID:               teamID,
		OriginalSuperAdminID: originalSuperAdminID,
		PromotedAdminID:      seniorAdmin,
		Status:               TempPromotionActive,
		CreatedAt:            time.Now(),
	}
	if err := s.store.insertTempPromotion(ctx, p); err != nil {
		return nil, fmt.Errorf("granting temp promotion: %w", err)
	}
	return &p, nil
}

// ApproveTempPromotion confirms a break-glass promotion as permanent
// (spec §4.4: "active -> approved (confirmed by original super_admin)").
// Only the original super_admin being covered for may confirm it.
func (s *Store) ApproveTempPromotion(ctx context.Context, caller principal.Context, id string) error {
	p, found, err := s.store.getTempPromotion(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if caller.UserID != p.OriginalSuperAdminID {
		return ErrAccessDenied
	}
	return s.store.resolveTempPromotion(ctx, id, TempPromotionApproved, time.Now())
}

// RevertTempPromotion reverses a break-glass promotion, restoring the
// promoted admin back to the admin role, and marks it reverted.
func (s *Store) RevertTempPromotion(ctx context.Context, id string) error {
	p, found, err := s.store.getTempPromotion(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if s.roles != nil {
		if err := s.roles.ChangeRole(ctx, p.TeamID, p.PromotedAdminID, string(principal.RoleAdmin)); err != nil {
			return fmt.Errorf("reverting promoted admin role: %w", err)
		}
	}
	return s.store.resolveTempPromotion(ctx, id, TempPromotionReverted, time.Now())
}
