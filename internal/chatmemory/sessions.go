package chatmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/collabcore/core/internal/principal"
	"github.com/collabcore/core/internal/sync"
)

// CreateSessionRequest describes a new chat session.
type CreateSessionRequest struct {
	Title        string
	DefaultModel string
	UserID       string
	TeamID       *string
}

// CreateSession creates a new session owned by req.UserID (and, if set,
// scoped to req.TeamID).
func (m *Memory) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	if req.UserID == "" {
		return nil, ErrInvalidInput
	}
	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		Title:        req.Title,
		DefaultModel: req.DefaultModel,
		UserID:       req.UserID,
		TeamID:       req.TeamID,
		SelectedMode: ModeIntelligent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.createSession(ctx, sess); err != nil {
		return nil, err
	}
	m.trackSessionSync(ctx, sync.OpInsert, sess)
	return sess, nil
}

// trackSessionSync records a committed chat_sessions mutation as a sync
// operation (spec §2). Best-effort: failures are logged and swallowed,
// never surfaced to the caller.
func (m *Memory) trackSessionSync(ctx context.Context, op sync.Operation, sess *Session) {
	if m.tracker == nil {
		return
	}
	data := map[string]any{
		"title":         sess.Title,
		"default_model": sess.DefaultModel,
		"user_id":       sess.UserID,
		"summary":       sess.Summary,
		"archived":      sess.Archived,
		"auto_titled":   sess.AutoTitled,
		"selected_mode": string(sess.SelectedMode),
		"message_count": sess.MessageCount,
		"updated_at":    sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if sess.SelectedModelID != nil {
		data["selected_model_id"] = *sess.SelectedModelID
	}
	if op == sync.OpInsert {
		data["created_at"] = sess.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if _, err := m.tracker.TrackOperation(ctx, "chat_sessions", op, sess.ID, data, sess.TeamID); err != nil && m.logger != nil {
		m.logger.WarnContext(ctx, "track chat_sessions sync operation failed", "error", err, "session_id", sess.ID)
	}
}

// visible applies spec §4.2's visibility rule: team_id present -> caller's
// team must match; otherwise caller must be the owner.
func visible(caller principal.Context, sess *Session) bool {
	return principal.VisibleToOwnerOrTeam(caller, sess.UserID, sess.TeamID)
}

// GetSession returns sess if visible to caller, else ErrSessionNotFound
// (spec §7: read access-control failures are reported as NotFound to
// avoid leaking existence).
func (m *Memory) GetSession(ctx context.Context, caller principal.Context, id string) (*Session, error) {
	sess, err := m.store.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(caller, sess) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns the caller's visible sessions: team-scoped if
// caller.TeamID is set, else personal.
func (m *Memory) ListSessions(ctx context.Context, caller principal.Context) ([]Session, error) {
	if caller.HasTeam() {
		return m.store.listSessionsByTeam(ctx, caller.Team())
	}
	return m.store.listSessionsByUser(ctx, caller.UserID)
}

// ListAllSessionsAdmin is an admin-only method (spec §4.2): only callers
// whose role is god_rights may invoke it, and it bypasses the ordinary
// visibility filter entirely. It is a distinct endpoint from ListSessions;
// ListSessions never honors role escalation.
func (m *Memory) ListAllSessionsAdmin(ctx context.Context, caller principal.Context) ([]Session, error) {
	if !caller.IsGodRights() {
		return nil, ErrAccessDenied
	}
	return m.store.listAllSessionsAdmin(ctx)
}

// ListUserSessionsAdmin is an admin-only method returning every session for
// a given user, regardless of team.
func (m *Memory) ListUserSessionsAdmin(ctx context.Context, caller principal.Context, userID string) ([]Session, error) {
	if !caller.IsGodRights() {
		return nil, ErrAccessDenied
	}
	return m.store.listUserSessionsAdmin(ctx, userID)
}

// DeleteSession deletes sess and everything that belongs to it, if caller
// owns it or holds god_rights. Returns (true, nil) if deleted, (false,
// nil) if the caller lacks access to an existing session — deletion is a
// mutation, so access failures are reported as an explicit boolean rather
// than folded into NotFound (spec §4.2: "Returns a boolean indicating
// access decision").
func (m *Memory) DeleteSession(ctx context.Context, caller principal.Context, id string) (bool, error) {
	sess, err := m.store.getSession(ctx, id)
	if err != nil {
		return false, err
	}
	if sess.UserID != caller.UserID && !caller.IsGodRights() {
		return false, nil
	}
	if err := m.store.deleteSessionCascade(ctx, id); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if m.tracker != nil {
		if _, err := m.tracker.TrackOperation(ctx, "chat_sessions", sync.OpDelete, sess.ID, nil, sess.TeamID); err != nil && m.logger != nil {
			m.logger.WarnContext(ctx, "track chat_sessions sync operation failed", "error", err, "session_id", sess.ID)
		}
	}
	if m.cache != nil {
		m.cache.InvalidatePrefix(searchCachePrefix(sess.UserID, sess.TeamID))
	}
	return true, nil
}

// UpdateTitle sets sess's title, marking it auto-generated when autoTitled
// is true.
func (m *Memory) UpdateTitle(ctx context.Context, caller principal.Context, id, title string, autoTitled bool) error {
	sess, err := m.store.getSession(ctx, id)
	if err != nil {
		return err
	}
	if !visible(caller, sess) {
		return ErrSessionNotFound
	}
	if err := m.store.updateTitle(ctx, id, title, autoTitled); err != nil {
		return err
	}
	if m.tracker != nil {
		data := map[string]any{"title": title, "auto_titled": autoTitled}
		if _, err := m.tracker.TrackOperation(ctx, "chat_sessions", sync.OpUpdate, id, data, sess.TeamID); err != nil && m.logger != nil {
			m.logger.WarnContext(ctx, "track chat_sessions sync operation failed", "error", err, "session_id", id)
		}
	}
	return nil
}

// UpdateModelPreferences stores the session's model-selection mode and
// optional pinned model id.
func (m *Memory) UpdateModelPreferences(ctx context.Context, caller principal.Context, id string, mode Mode, modelID *string) error {
	sess, err := m.store.getSession(ctx, id)
	if err != nil {
		return err
	}
	if !visible(caller, sess) {
		return ErrSessionNotFound
	}
	if err := m.store.updateModelPreferences(ctx, id, mode, modelID); err != nil {
		return err
	}
	if m.tracker != nil {
		data := map[string]any{"selected_mode": string(mode)}
		if modelID != nil {
			data["selected_model_id"] = *modelID
		}
		if _, err := m.tracker.TrackOperation(ctx, "chat_sessions", sync.OpUpdate, id, data, sess.TeamID); err != nil && m.logger != nil {
			m.logger.WarnContext(ctx, "track chat_sessions sync operation failed", "error", err, "session_id", id)
		}
	}
	return nil
}
