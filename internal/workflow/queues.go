package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/collabcore/core/internal/principal"
)

// CreateQueue creates a team-scoped work item queue.
func (s *Store) CreateQueue(ctx context.Context, teamID, name, ownerID string) (*Queue, error) {
	q := Queue{ID: uuid.NewString(), TeamID: teamID, Name: name, OwnerID: ownerID}
	if err := s.store.createQueue(ctx, q); err != nil {
		return nil, fmt.Errorf("creating queue: %w", err)
	}
	return &q, nil
}

// GrantQueueAccess adds a grant (or, for GrantDeny, an explicit denial —
// SPEC_FULL §3 supplement) to a queue.
func (s *Store) GrantQueueAccess(ctx context.Context, queueID string, grantType GrantType, principalID string, access AccessType) error {
	g := QueueGrant{ID: uuid.NewString(), QueueID: queueID, GrantType: grantType, PrincipalID: principalID, Access: access}
	if err := s.store.addQueueGrant(ctx, g); err != nil {
		return fmt.Errorf("granting queue access: %w", err)
	}
	return nil
}

// CheckQueueAccess reports whether caller may perform access on queueID,
// and a human-readable reason for the result (spec §4.4
// check_queue_access). Explicit GrantDeny entries take precedence over any
// matching allow grant for the same principal, regardless of grant order
// (SPEC_FULL §3 supplement).
func (s *Store) CheckQueueAccess(ctx context.Context, caller principal.Context, queueID string, access AccessType) (bool, string) {
	queue, found, err := s.store.getQueue(ctx, queueID)
	if err != nil {
		return false, fmt.Sprintf("loading queue: %v", err)
	}
	if !found {
		return false, "queue not found"
	}
	if queue.OwnerID == caller.UserID {
		return true, "caller owns the queue"
	}

	grants, err := s.store.queueGrants(ctx, queueID)
	if err != nil {
		return false, fmt.Sprintf("loading grants: %v", err)
	}

	allowed := false
	for _, g := range grants {
		if g.Access != access || !grantMatches(caller, g) {
			continue
		}
		if g.GrantType == GrantDeny {
			return false, "explicitly denied"
		}
		allowed = true
	}
	if allowed {
		return true, "granted"
	}
	return false, "no matching grant"
}

func grantMatches(caller principal.Context, g QueueGrant) bool {
	switch g.GrantType {
	case GrantUser, GrantDeny:
		return g.PrincipalID == caller.UserID
	case GrantRole:
		return g.PrincipalID == string(caller.Role)
	case GrantTeam:
		return caller.HasTeam() && caller.Team() == g.PrincipalID
	default:
		return false
	}
}
