package chatmemory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/collabcore/core/internal/principal"
	"github.com/collabcore/core/internal/sync"
)

// InsertMessageRequest describes a new conversation event. It carries no
// UserID/TeamID: the session's own (user_id, team_id) is resolved and used
// for tenant scoping instead (spec §4.2 step 2, invariant 1 in spec §8).
type InsertMessageRequest struct {
	SessionID string
	Role      Role
	Content   string
	Model     *string
	Tokens    *int
	Files     []string
}

// InsertMessage performs the composite message-insertion operation (spec
// §4.2): resolve the session's tenant identifiers, insert the message
// under those identifiers, best-effort compute an embedding, and update
// session bookkeeping (updated_at, message_count, models_used).
func (m *Memory) InsertMessage(ctx context.Context, req InsertMessageRequest) (*Message, error) {
	if req.SessionID == "" || req.Content == "" {
		return nil, ErrInvalidInput
	}

	sess, err := m.store.getSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		SessionID: req.SessionID,
		Timestamp: time.Now(),
		Role:      req.Role,
		Content:   req.Content,
		Model:     req.Model,
		Tokens:    req.Tokens,
		Files:     req.Files,
		UserID:    sess.UserID,
		TeamID:    sess.TeamID,
	}

	var modelValue string
	if req.Model != nil {
		modelValue = *req.Model
	}

	err = m.store.db.WriteTx(ctx, func(tx *sql.Tx) error {
		id, err := m.store.insertMessageTx(ctx, tx, msg)
		if err != nil {
			return err
		}
		msg.ID = id
		return m.store.touchSessionAfterMessage(ctx, tx, req.SessionID, modelValue)
	})
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	m.trackMessageSync(ctx, msg)

	// Embedding computation is best-effort: failures are logged and
	// swallowed so the message write always succeeds (spec §4.2 step 3,
	// §7 propagation policy).
	if len(req.Content) > minEmbeddableLen && m.model != nil {
		m.computeAndStoreEmbedding(ctx, msg)
	}

	if m.cache != nil {
		m.cache.InvalidatePrefix(searchCachePrefix(sess.UserID, sess.TeamID))
	}

	return msg, nil
}

// trackMessageSync records the committed message row as a sync operation
// (spec §2: "writes to syncable tables go through the Sync Log
// Tracker"). Tracking is invoked immediately after the row's own
// transaction commits and is best-effort: a tracking failure is logged
// and swallowed, never surfaced to the caller of InsertMessage.
func (m *Memory) trackMessageSync(ctx context.Context, msg *Message) {
	if m.tracker == nil {
		return
	}
	var modelValue string
	if msg.Model != nil {
		modelValue = *msg.Model
	}
	var tokens int
	if msg.Tokens != nil {
		tokens = *msg.Tokens
	}
	data := map[string]any{
		"session_id": msg.SessionID,
		"timestamp":  msg.Timestamp.UTC().Format(time.RFC3339Nano),
		"role":       string(msg.Role),
		"content":    msg.Content,
		"model":      modelValue,
		"tokens":     tokens,
		"user_id":    msg.UserID,
	}
	rowID := strconv.FormatInt(msg.ID, 10)
	if _, err := m.tracker.TrackOperation(ctx, "chat_messages", sync.OpInsert, rowID, data, msg.TeamID); err != nil && m.logger != nil {
		m.logger.WarnContext(ctx, "track chat_messages sync operation failed", "error", err, "message_id", msg.ID)
	}
}

func (m *Memory) computeAndStoreEmbedding(ctx context.Context, msg *Message) {
	vec, err := m.model.Create(ctx, msg.Content)
	if err != nil {
		if m.logger != nil {
			m.logger.WarnContext(ctx, "embedding computation failed", "error", err, "message_id", msg.ID)
		}
		return
	}
	b, err := json.Marshal(vec)
	if err != nil {
		if m.logger != nil {
			m.logger.WarnContext(ctx, "embedding marshal failed", "error", err, "message_id", msg.ID)
		}
		return
	}
	err = m.store.db.WriteTx(ctx, func(tx *sql.Tx) error {
		return m.store.upsertEmbeddingTx(ctx, tx, &MessageEmbedding{
			MessageID:     msg.ID,
			SessionID:     msg.SessionID,
			EmbeddingJSON: string(b),
			TeamID:        msg.TeamID,
		})
	})
	if err != nil && m.logger != nil {
		m.logger.WarnContext(ctx, "embedding persist failed", "error", err, "message_id", msg.ID)
	}
}

// GetMessages returns the full history of a session visible to caller.
func (m *Memory) GetMessages(ctx context.Context, caller principal.Context, sessionID string) ([]Message, error) {
	sess, err := m.store.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !visible(caller, sess) {
		return nil, ErrSessionNotFound
	}
	return m.store.getMessages(ctx, sessionID)
}

// GetRecentMessages returns the last limit messages, in chronological
// order, for a session visible to caller.
func (m *Memory) GetRecentMessages(ctx context.Context, caller principal.Context, sessionID string, limit int) ([]Message, error) {
	sess, err := m.store.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !visible(caller, sess) {
		return nil, ErrSessionNotFound
	}
	return m.store.getRecentMessages(ctx, sessionID, limit)
}
