package permission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

func hashAuthKey(authKey string) string {
	sum := sha256.Sum256([]byte(authKey))
	return hex.EncodeToString(sum[:])
}

// GrantFounderRights authorizes userID for Founder Rights ("god rights",
// break-glass) given an out-of-band authKey, which is hashed before
// storage — the raw key is never persisted (spec §4.5: "grant requires
// an out-of-band auth_key that is hashed and stored"). Re-granting an
// already-active user is rejected. Granting to a user whose grant was
// revoked overwrites that user's single row with the new key, keeping its
// original CreatedAt; no second row is created.
func (e *Engine) GrantFounderRights(ctx context.Context, userID, authKey string, delegatedBy *string, notes string) (*FounderRights, error) {
	existing, found, err := e.store.getFounderRights(ctx, userID)
	if err != nil {
		return nil, err
	}
	if found && existing.IsActive {
		return nil, ErrFounderRightsActive
	}

	fr := FounderRights{
		UserID:      userID,
		AuthKeyHash: hashAuthKey(authKey),
		DelegatedBy: delegatedBy,
		IsActive:    true,
		CreatedAt:   time.Now(),
		Notes:       notes,
	}
	if found {
		fr.CreatedAt = existing.CreatedAt // preserve original grant time across reactivation-by-grant
	}
	if err := e.store.upsertFounderRights(ctx, fr); err != nil {
		return nil, fmt.Errorf("granting founder rights: %w", err)
	}
	e.recordAudit(ctx, userID, "founder_rights.grant", "god_rights_auth", userID, notes)
	return &fr, nil
}

// RevokeFounderRights deactivates userID's Founder Rights. The row is
// preserved (revoked_at/revoked_by set, never deleted) so the grant's
// history remains auditable and reactivation is possible (spec §4.5).
func (e *Engine) RevokeFounderRights(ctx context.Context, userID, revokedBy string) error {
	fr, found, err := e.store.getFounderRights(ctx, userID)
	if err != nil {
		return err
	}
	if !found || !fr.IsActive {
		return ErrNotActive
	}

	now := time.Now()
	fr.IsActive = false
	fr.RevokedAt = &now
	fr.RevokedBy = &revokedBy
	if err := e.store.upsertFounderRights(ctx, fr); err != nil {
		return fmt.Errorf("revoking founder rights: %w", err)
	}
	e.recordAudit(ctx, revokedBy, "founder_rights.revoke", "god_rights_auth", userID, "")
	return nil
}

// ReactivateFounderRights flips a previously revoked row back to active,
// without requiring authKey again (spec §4.5: "reactivate flips is_active=1
// on an existing revoked row").
func (e *Engine) ReactivateFounderRights(ctx context.Context, userID, reactivatedBy string) (*FounderRights, error) {
	fr, found, err := e.store.getFounderRights(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if fr.IsActive {
		return nil, ErrFounderRightsActive
	}

	fr.IsActive = true
	fr.RevokedAt = nil
	fr.RevokedBy = nil
	if err := e.store.upsertFounderRights(ctx, fr); err != nil {
		return nil, fmt.Errorf("reactivating founder rights: %w", err)
	}
	e.recordAudit(ctx, reactivatedBy, "founder_rights.reactivate", "god_rights_auth", userID, "")
	return &fr, nil
}

// CheckGodRights tests whether userID currently holds active Founder
// Rights (spec §4.5 check_god_rights). This is the authoritative,
// revocable check — principal.Context.IsGodRights only inspects the
// coarse role field and must not be relied on alone.
func (e *Engine) CheckGodRights(ctx context.Context, userID string) (bool, error) {
	fr, found, err := e.store.getFounderRights(ctx, userID)
	if err != nil {
		return false, err
	}
	return found && fr.IsActive, nil
}

// ListFounderRights returns every Founder Rights record, optionally
// restricted to active-only (spec §4.5: "Admin listings can request
// active-only or include-revoked").
func (e *Engine) ListFounderRights(ctx context.Context, activeOnly bool) ([]FounderRights, error) {
	return e.store.listFounderRights(ctx, activeOnly)
}
