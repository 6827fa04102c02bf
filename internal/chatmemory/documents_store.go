package chatmemory

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *store) insertChunksTx(ctx context.Context, tx *sql.Tx, chunks []DocumentChunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (session_id, file_id, filename, chunk_index, total_chunks, content, embedding_json, team_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.SessionID, c.FileID, c.Filename, c.ChunkIndex,
			c.TotalChunks, c.Content, c.EmbeddingJSON, nullableString(c.TeamID)); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return nil
}

func (s *store) getChunks(ctx context.Context, sessionID string, fileID string) ([]DocumentChunk, error) {
	query := `SELECT id, session_id, file_id, filename, chunk_index, total_chunks, content, embedding_json, team_id
		FROM document_chunks WHERE session_id = ?`
	args := []any{sessionID}
	if fileID != "" {
		query += ` AND file_id = ?`
		args = append(args, fileID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var out []DocumentChunk
	for rows.Next() {
		var c DocumentChunk
		var teamID sql.NullString
		if err := rows.Scan(&c.ID, &c.SessionID, &c.FileID, &c.Filename, &c.ChunkIndex,
			&c.TotalChunks, &c.Content, &c.EmbeddingJSON, &teamID); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.TeamID = stringPtrFromNullable(teamID)
		out = append(out, c)
	}
	return out, rows.Err()
}
