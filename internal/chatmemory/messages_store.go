package chatmemory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const messageColumns = `id, session_id, timestamp, role, content, model, tokens, files_json, user_id, team_id`

func scanMessage(row interface{ Scan(dest ...any) error }) (*Message, error) {
	var msg Message
	var model sql.NullString
	var tokens sql.NullInt64
	var filesJSON sql.NullString
	var teamID sql.NullString
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Timestamp, &msg.Role, &msg.Content,
		&model, &tokens, &filesJSON, &msg.UserID, &teamID)
	if err != nil {
		return nil, err
	}
	msg.Model = stringPtrFromNullable(model)
	msg.Tokens = intPtrFromNullable(tokens)
	msg.TeamID = stringPtrFromNullable(teamID)
	if filesJSON.Valid && filesJSON.String != "" {
		_ = json.Unmarshal([]byte(filesJSON.String), &msg.Files)
	}
	return &msg, nil
}

func (s *store) insertMessageTx(ctx context.Context, tx *sql.Tx, msg *Message) (int64, error) {
	var filesJSON sql.NullString
	if len(msg.Files) > 0 {
		b, err := json.Marshal(msg.Files)
		if err != nil {
			return 0, fmt.Errorf("marshal files: %w", err)
		}
		filesJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, timestamp, role, content, model, tokens, files_json, user_id, team_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Timestamp, string(msg.Role), msg.Content,
		nullableString(msg.Model), nullableInt(msg.Tokens), filesJSON, msg.UserID, nullableString(msg.TeamID))
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return res.LastInsertId()
}

func (s *store) upsertEmbeddingTx(ctx context.Context, tx *sql.Tx, e *MessageEmbedding) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_embeddings (message_id, session_id, embedding_json, team_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET embedding_json = excluded.embedding_json`,
		e.MessageID, e.SessionID, e.EmbeddingJSON, nullableString(e.TeamID))
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

func (s *store) getEmbedding(ctx context.Context, messageID int64) (*MessageEmbedding, bool, error) {
	var e MessageEmbedding
	var teamID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, session_id, embedding_json, team_id FROM message_embeddings WHERE message_id = ?`,
		messageID).Scan(&e.MessageID, &e.SessionID, &e.EmbeddingJSON, &teamID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embedding: %w", err)
	}
	e.TeamID = stringPtrFromNullable(teamID)
	return &e, true, nil
}

func (s *store) getMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// getRecentMessages returns the last limit messages in chronological order
// (DESC fetch, then reversed), per spec §4.2.
func (s *store) getRecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// getCandidateMessages scopes search candidates to the caller's visibility,
// the most recent 200 messages, with content long enough to be meaningful
// (spec §4.2 step 2).
func (s *store) getCandidateMessages(ctx context.Context, userID string, teamID *string) ([]Message, error) {
	var rows *sql.Rows
	var err error
	if teamID != nil && *teamID != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM chat_messages
			WHERE team_id = ? AND length(content) > ?
			ORDER BY id DESC LIMIT 200`, *teamID, minEmbeddableLen)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM chat_messages
			WHERE user_id = ? AND team_id IS NULL AND length(content) > ?
			ORDER BY id DESC LIMIT 200`, userID, minEmbeddableLen)
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func searchCachePrefix(userID string, teamID *string) string {
	if teamID != nil && *teamID != "" {
		return "search:team:" + *teamID
	}
	return "search:user:" + userID
}
