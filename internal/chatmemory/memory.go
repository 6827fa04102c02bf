package chatmemory

import (
	"log/slog"

	"github.com/collabcore/core/internal/cache"
	"github.com/collabcore/core/internal/embedding"
	"github.com/collabcore/core/internal/storage"
	"github.com/collabcore/core/internal/sync"
)

// Memory is the Chat Memory Engine façade (spec §4.2). It holds the
// connection and the external collaborators, and delegates to small
// per-concern helpers rather than growing one monolithic type (spec §9:
// "one façade, many modules").
type Memory struct {
	store   *store
	model   embedding.Model
	cache   cache.Cache
	tracker sync.Tracker
	logger  *slog.Logger
}

// New constructs a Memory over db, using model for embeddings, c for
// search-result caching, and tracker to record sync operations for
// syncable writes (spec §2). tracker may be nil, in which case writes
// simply produce no sync operations. Construction happens once,
// explicitly, in the composition root (spec §9: singletons replaced by
// explicit construction and passed-in references).
func New(db *storage.DB, model embedding.Model, c cache.Cache, tracker sync.Tracker, logger *slog.Logger) *Memory {
	return &Memory{
		store:   &store{db: db},
		model:   model,
		cache:   c,
		tracker: tracker,
		logger:  logger,
	}
}
