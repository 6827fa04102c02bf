package permission

import (
	"context"
	"time"
)

// EffectivePermissions computes the resolved permission view for userID
// (spec §4.5 steps 2-5): load active profile grants, layer unexpired
// permission-set grants over them, then union the positive grants minus
// any explicit negative grant — deny always wins regardless of which
// layer or order it came from, the same precedence rule already used for
// queue grants in internal/workflow/queues.go's CheckQueueAccess. Results
// are cached per user and invalidated on any profile/set change
// (permission.go's invalidateUser).
func (e *Engine) EffectivePermissions(ctx context.Context, userID string, now time.Time) (map[string]Effective, error) {
	key := effectiveCacheKey(userID)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if eff, ok := cached.(map[string]Effective); ok {
				return eff, nil
			}
		}
	}

	profiles, err := e.store.profilesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sets, err := e.store.unexpiredSetsForUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	granted := make(map[string]Effective)
	denied := make(map[string]bool)
	apply := func(grants []Grant) {
		for _, g := range grants {
			if !g.IsGranted {
				denied[g.PermissionKey] = true
				continue
			}
			granted[g.PermissionKey] = Effective{Granted: true, Level: g.Level, Scope: g.Scope}
		}
	}
	for _, p := range profiles {
		apply(p.Grants)
	}
	for _, s := range sets {
		apply(s.Grants)
	}

	result := make(map[string]Effective, len(granted)+len(denied))
	for k, eff := range granted {
		if denied[k] {
			result[k] = Effective{Granted: false}
			continue
		}
		result[k] = eff
	}
	for k := range denied {
		if _, ok := result[k]; !ok {
			result[k] = Effective{Granted: false}
		}
	}

	if e.cache != nil {
		e.cache.Set(key, result, effectiveCacheTTL)
	}
	return result, nil
}

const effectiveCacheTTL = 2 * time.Minute

// HasPermission is the narrow convenience callers typically want: does
// userID currently have key granted.
func (e *Engine) HasPermission(ctx context.Context, userID, key string) (bool, error) {
	eff, err := e.EffectivePermissions(ctx, userID, time.Now())
	if err != nil {
		return false, err
	}
	return eff[key].Granted, nil
}
