package chatmemory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (s *store) upsertSummaryTx(ctx context.Context, tx *sql.Tx, summ *ConversationSummary) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_summaries (session_id, summary, events_json, models_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			summary = excluded.summary,
			events_json = excluded.events_json,
			models_used = excluded.models_used,
			updated_at = excluded.updated_at`,
		summ.SessionID, summ.Summary, summ.EventsJSON, modelsUsedToColumn(summ.ModelsUsed), summ.CreatedAt, summ.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

func (s *store) mirrorSessionSummaryTx(ctx context.Context, tx *sql.Tx, sessionID, summary string) error {
	_, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("mirror summary onto session: %w", err)
	}
	return nil
}

func (s *store) getSummary(ctx context.Context, sessionID string) (*ConversationSummary, bool, error) {
	var summ ConversationSummary
	var modelsUsed string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, summary, events_json, models_used, created_at, updated_at
		FROM conversation_summaries WHERE session_id = ?`, sessionID,
	).Scan(&summ.SessionID, &summ.Summary, &summ.EventsJSON, &modelsUsed, &summ.CreatedAt, &summ.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get summary: %w", err)
	}
	summ.ModelsUsed = modelsUsedFromColumn(modelsUsed)
	return &summ, true, nil
}
