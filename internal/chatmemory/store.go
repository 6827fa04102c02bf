package chatmemory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/collabcore/core/internal/storage"
)

// Schema is the idempotent DDL for chat_memory.db (spec §6.1). Additive
// migrations for this table set, if any, belong in a separate ordered
// slice passed to storage.DB.ApplyColumnMigrations rather than edited in
// place here.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	default_model TEXT NOT NULL DEFAULT '',
	models_used TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	team_id TEXT,
	summary TEXT NOT NULL DEFAULT '',
	archived INTEGER NOT NULL DEFAULT 0,
	auto_titled INTEGER NOT NULL DEFAULT 0,
	selected_mode TEXT NOT NULL DEFAULT 'intelligent',
	selected_model_id TEXT,
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_id ON chat_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_team_id ON chat_sessions(team_id);

CREATE TABLE IF NOT EXISTS chat_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	model TEXT,
	tokens INTEGER,
	files_json TEXT,
	user_id TEXT NOT NULL,
	team_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id ON chat_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_chat_messages_timestamp ON chat_messages(timestamp);
CREATE INDEX IF NOT EXISTS idx_chat_messages_team_id ON chat_messages(team_id);

CREATE TABLE IF NOT EXISTS message_embeddings (
	message_id INTEGER PRIMARY KEY,
	session_id TEXT NOT NULL,
	embedding_json TEXT NOT NULL,
	team_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_message_embeddings_session_id ON message_embeddings(session_id);

CREATE TABLE IF NOT EXISTS conversation_summaries (
	session_id TEXT PRIMARY KEY,
	summary TEXT NOT NULL,
	events_json TEXT NOT NULL,
	models_used TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	file_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding_json TEXT NOT NULL,
	team_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_document_chunks_session_id ON document_chunks(session_id);
CREATE INDEX IF NOT EXISTS idx_document_chunks_file_id ON document_chunks(file_id);
`

// store wraps the chat_memory.db connection; all sub-stores share it.
type store struct {
	db *storage.DB
}

func modelsUsedToColumn(models []string) string {
	set := make(map[string]struct{}, len(models))
	for _, m := range models {
		if strings.TrimSpace(m) != "" {
			set[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func modelsUsedFromColumn(col string) []string {
	if strings.TrimSpace(col) == "" {
		return nil
	}
	return strings.Split(col, ",")
}

func unionModel(existing []string, model string) []string {
	if model == "" {
		return existing
	}
	for _, m := range existing {
		if m == model {
			return existing
		}
	}
	return append(append([]string{}, existing...), model)
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtrFromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtrFromNullable(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanSession(row interface {
	Scan(dest ...any) error
}) (*Session, error) {
	var s Session
	var teamID, selectedModelID, modelsUsed sql.NullString
	var archived, autoTitled int
	err := row.Scan(
		&s.ID, &s.Title, &s.DefaultModel, &modelsUsed, &s.UserID, &teamID,
		&s.Summary, &archived, &autoTitled, &s.SelectedMode, &selectedModelID,
		&s.MessageCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.TeamID = stringPtrFromNullable(teamID)
	s.SelectedModelID = stringPtrFromNullable(selectedModelID)
	s.ModelsUsed = modelsUsedFromColumn(modelsUsed.String)
	s.Archived = archived != 0
	s.AutoTitled = autoTitled != 0
	return &s, nil
}

const sessionColumns = `id, title, default_model, models_used, user_id, team_id,
		summary, archived, auto_titled, selected_mode, selected_model_id,
		message_count, created_at, updated_at`

func (s *store) getSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *store) createSession(ctx context.Context, sess *Session) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chat_sessions (
				id, title, default_model, models_used, user_id, team_id,
				summary, archived, auto_titled, selected_mode, selected_model_id,
				message_count, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.Title, sess.DefaultModel, modelsUsedToColumn(sess.ModelsUsed),
			sess.UserID, nullableString(sess.TeamID), sess.Summary, boolToInt(sess.Archived),
			boolToInt(sess.AutoTitled), string(sess.SelectedMode), nullableString(sess.SelectedModelID),
			sess.MessageCount, sess.CreatedAt, sess.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
}

func (s *store) listSessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	return s.listSessions(ctx, `WHERE user_id = ? AND team_id IS NULL ORDER BY updated_at DESC`, userID)
}

func (s *store) listSessionsByTeam(ctx context.Context, teamID string) ([]Session, error) {
	return s.listSessions(ctx, `WHERE team_id = ? ORDER BY updated_at DESC`, teamID)
}

func (s *store) listAllSessionsAdmin(ctx context.Context) ([]Session, error) {
	return s.listSessions(ctx, `ORDER BY updated_at DESC`)
}

func (s *store) listUserSessionsAdmin(ctx context.Context, userID string) ([]Session, error) {
	return s.listSessions(ctx, `WHERE user_id = ? ORDER BY updated_at DESC`, userID)
}

func (s *store) listSessions(ctx context.Context, whereOrderBy string, args ...any) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions `+whereOrderBy, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *store) updateTitle(ctx context.Context, id, title string, autoTitled bool) error {
	return s.db.Write(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE chat_sessions SET title = ?, auto_titled = ?, updated_at = ? WHERE id = ?`,
			title, boolToInt(autoTitled), time.Now(), id)
		if err != nil {
			return fmt.Errorf("update title: %w", err)
		}
		return checkRowsAffected(res)
	})
}

func (s *store) updateModelPreferences(ctx context.Context, id string, mode Mode, modelID *string) error {
	return s.db.Write(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE chat_sessions SET selected_mode = ?, selected_model_id = ?, updated_at = ? WHERE id = ?`,
			string(mode), nullableString(modelID), time.Now(), id)
		if err != nil {
			return fmt.Errorf("update model preferences: %w", err)
		}
		return checkRowsAffected(res)
	})
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// deleteSessionCascade deletes a session and every row that logically
// belongs to it, explicitly (spec §4.2: "no foreign-key cascade
// reliance").
func (s *store) deleteSessionCascade(ctx context.Context, id string) error {
	return s.db.WriteTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM message_embeddings WHERE session_id = ?`,
			`DELETE FROM document_chunks WHERE session_id = ?`,
			`DELETE FROM conversation_summaries WHERE session_id = ?`,
			`DELETE FROM chat_messages WHERE session_id = ?`,
			`DELETE FROM chat_sessions WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("cascade delete (%s): %w", stmt, err)
			}
		}
		return nil
	})
}

func (s *store) touchSessionAfterMessage(ctx context.Context, tx *sql.Tx, sessionID string, model string) error {
	sess, err := s.getSessionTx(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	merged := unionModel(sess.ModelsUsed, model)
	_, err = tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ?, message_count = message_count + 1, models_used = ? WHERE id = ?`,
		time.Now(), modelsUsedToColumn(merged), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *store) getSessionTx(ctx context.Context, tx *sql.Tx, id string) (*Session, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}
