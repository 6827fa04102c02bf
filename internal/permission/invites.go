package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/collabcore/core/internal/corerr"
)

const (
	// inviteAttemptWindow is how far back recentFailedAttempts looks.
	inviteAttemptWindow = 15 * time.Minute
	// inviteMaxFailures is the failure count per (code, ip) that trips the
	// limiter (spec §4.5: "rate-limited by failure count per (code, ip)").
	// Grounded conceptually on erauner12-toolbridge-api's per-principal
	// token bucket, but implemented as persistent row-counting against
	// invite_attempts rather than an in-memory bucket, since the limit
	// must survive a process restart and be independently auditable.
	inviteMaxFailures = 5
)

// CreateInviteCode issues a new invite code for teamID, invalidating any
// prior active code for that team (spec §4.5: "new codes invalidate older
// active codes for that team"). ttl of zero means the code never expires.
func (e *Engine) CreateInviteCode(ctx context.Context, teamID string, ttl time.Duration) (*InviteCode, error) {
	if teamID == "" {
		return nil, ErrInvalidInput
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	ic := InviteCode{
		Code:      uuid.NewString(),
		TeamID:    teamID,
		ExpiresAt: expiresAt,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := e.store.createInviteCode(ctx, ic); err != nil {
		return nil, fmt.Errorf("creating invite code: %w", err)
	}
	e.recordAudit(ctx, "", "invite.create", "invite_code", ic.Code, teamID)
	return &ic, nil
}

// RedeemInvite validates and consumes code, recording every attempt
// against (code, ip) for rate limiting (spec §4.5). A successful redemption
// marks the code used; a caller is still responsible for creating the
// resulting TeamMember via JoinTeam.
func (e *Engine) RedeemInvite(ctx context.Context, code, ip string) (*InviteCode, error) {
	failures, err := e.store.recentFailedAttempts(ctx, code, ip, time.Now().Add(-inviteAttemptWindow))
	if err != nil {
		return nil, err
	}
	if failures >= inviteMaxFailures {
		return nil, corerr.Wrap(corerr.RateLimited, "too many failed invite attempts", ErrRateLimited)
	}

	ic, found, err := e.store.getInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !found {
		e.recordFailedInviteAttempt(ctx, code, ip)
		return nil, ErrNotFound
	}
	if !ic.Active {
		e.recordFailedInviteAttempt(ctx, code, ip)
		return nil, ErrInviteInactive
	}
	if ic.Used {
		e.recordFailedInviteAttempt(ctx, code, ip)
		return nil, ErrInviteUsed
	}
	if ic.ExpiresAt != nil && ic.ExpiresAt.Before(time.Now()) {
		e.recordFailedInviteAttempt(ctx, code, ip)
		return nil, ErrInviteExpired
	}

	if err := e.store.markInviteUsed(ctx, code); err != nil {
		return nil, fmt.Errorf("marking invite used: %w", err)
	}
	if err := e.store.recordInviteAttempt(ctx, InviteAttempt{Code: code, IP: ip, Succeeded: true, At: time.Now()}); err != nil {
		e.logger.Warn("record invite attempt", "error", err)
	}
	ic.Used = true
	e.recordAudit(ctx, "", "invite.redeem", "invite_code", code, ip)
	return &ic, nil
}

func (e *Engine) recordFailedInviteAttempt(ctx context.Context, code, ip string) {
	if err := e.store.recordInviteAttempt(ctx, InviteAttempt{Code: code, IP: ip, Succeeded: false, At: time.Now()}); err != nil {
		e.logger.Warn("record invite attempt", "error", err)
	}
}
