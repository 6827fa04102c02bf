package chatmemory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/collabcore/core/internal/embedding"
	"github.com/collabcore/core/internal/principal"
)

// ChunkInput is one chunk to attach to a session's uploaded file.
type ChunkInput struct {
	FileID      string
	Filename    string
	ChunkIndex  int
	TotalChunks int
	Content     string
	Embedding   []float64
}

// InsertChunks bulk-inserts chunks atomically per batch (spec §4.2).
func (m *Memory) InsertChunks(ctx context.Context, caller principal.Context, sessionID string, chunks []ChunkInput) error {
	sess, err := m.store.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !visible(caller, sess) {
		return ErrSessionNotFound
	}

	rows := make([]DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		b, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("marshal chunk embedding: %w", err)
		}
		rows = append(rows, DocumentChunk{
			SessionID:     sessionID,
			FileID:        c.FileID,
			Filename:      c.Filename,
			ChunkIndex:    c.ChunkIndex,
			TotalChunks:   c.TotalChunks,
			Content:       c.Content,
			EmbeddingJSON: string(b),
			TeamID:        sess.TeamID,
		})
	}

	return m.store.db.WriteTx(ctx, func(tx *sql.Tx) error {
		return m.store.insertChunksTx(ctx, tx, rows)
	})
}

// ChunkMatch is a document chunk ranked by similarity to a query embedding.
type ChunkMatch struct {
	Chunk      DocumentChunk
	Similarity float64
}

// SearchChunks loads all chunks for sessionID (optionally scoped to a
// single fileID per SPEC_FULL §3), computes cosine similarity against
// queryEmbedding, and returns the top-k.
func (m *Memory) SearchChunks(ctx context.Context, caller principal.Context, sessionID, fileID string, queryEmbedding []float64, topK int) ([]ChunkMatch, error) {
	sess, err := m.store.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !visible(caller, sess) {
		return nil, ErrSessionNotFound
	}

	chunks, err := m.store.getChunks(ctx, sessionID, fileID)
	if err != nil {
		return nil, err
	}

	matches := make([]ChunkMatch, 0, len(chunks))
	for _, c := range chunks {
		var vec []float64
		if err := json.Unmarshal([]byte(c.EmbeddingJSON), &vec); err != nil {
			continue
		}
		matches = append(matches, ChunkMatch{Chunk: c, Similarity: embedding.CosineSimilarity(queryEmbedding, vec)})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
