package workflow

import (
	"log/slog"

	"github.com/collabcore/core/internal/audit"
	"github.com/collabcore/core/internal/storage"
	"github.com/collabcore/core/internal/sync"
)

// Store is the Workflow / Work-Item Store façade (spec §4.4), composing
// the sqlite-backed repository and delegating to small per-concern files:
// definitions.go, items.go, triggers.go, promotions.go, queues.go. It
// mirrors chatmemory.Memory's composition shape and is constructed
// explicitly in the composition root.
type Store struct {
	store   *store
	audit   audit.Log
	roles   TeamRoles
	tracker sync.Tracker
	logger  *slog.Logger
}

// New builds a Store bound to db (expected to already carry Schema).
// roles backs the delayed/temporary team-role promotion flows (spec
// §3.1, §4.4) and may be nil if those flows are not needed; tracker
// records sync operations for syncable writes (spec §2) and may also be
// nil.
func New(db *storage.DB, auditLog audit.Log, roles TeamRoles, tracker sync.Tracker, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{store: &store{db: db}, audit: auditLog, roles: roles, tracker: tracker, logger: logger}
}
