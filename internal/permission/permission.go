package permission

import (
	"context"
	"log/slog"

	"github.com/collabcore/core/internal/audit"
	"github.com/collabcore/core/internal/cache"
	"github.com/collabcore/core/internal/storage"
)

// Engine is the Permission & Team Boundary Engine façade (spec §4.5). It
// holds the store and external collaborators and delegates to small
// per-concern files — the same "one façade, many modules" shape as
// chatmemory.Memory, sync.Engine, and workflow.Store (spec §9).
type Engine struct {
	store  *store
	audit  audit.Log
	cache  cache.Cache
	logger *slog.Logger
}

// New constructs an Engine over db. auditLog receives a record for every
// permission mutation (spec §4.5); c, if non-nil, caches effective
// permission lookups and is invalidated on every profile/set change for
// the affected user (spec §4.5: "the external permission engine's
// per-user cache is invalidated").
func New(db *storage.DB, auditLog audit.Log, c cache.Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  &store{db: db},
		audit:  auditLog,
		cache:  c,
		logger: logger,
	}
}

func effectiveCacheKey(userID string) string { return "permission:effective:" + userID }

func (e *Engine) invalidateUser(userID string) {
	if e.cache != nil {
		e.cache.InvalidatePrefix(effectiveCacheKey(userID))
	}
}

func (e *Engine) recordAudit(ctx context.Context, who, what, resourceType, resourceID, details string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, audit.Record{
		Who:          who,
		What:         what,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		DetailsJSON:  details,
	})
}
