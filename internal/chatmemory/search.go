package chatmemory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/collabcore/core/internal/embedding"
	"github.com/collabcore/core/internal/principal"
)

const (
	searchCacheTTL       = 5 * time.Minute
	similarityThreshold  = 0.3
	searchContentPreview = 200
)

func searchCacheKey(query string, userID string, teamID *string, limit int) string {
	h := sha256.Sum256([]byte(query))
	team := ""
	if teamID != nil {
		team = *teamID
	}
	return fmt.Sprintf("%s:%s|%s|%s|%d", searchCachePrefix(userID, teamID), hex.EncodeToString(h[:]), userID, team, limit)
}

// Search performs cross-session semantic search (spec §4.2):
//  1. build a cache key and consult the cache (5 min TTL)
//  2. scope candidates to the last 200 visible messages with content > 20 chars
//  3. use precomputed embeddings where present, else compute on the fly
//  4. keep similarity > 0.3, sort desc, take top limit, cache it
func (m *Memory) Search(ctx context.Context, caller principal.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}

	key := searchCacheKey(query, caller.UserID, caller.TeamID, limit)
	if m.cache != nil {
		if cached, ok := m.cache.Get(key); ok {
			if hits, ok := cached.([]SearchHit); ok {
				return hits, nil
			}
		}
	}

	candidates, err := m.store.getCandidateMessages(ctx, caller.UserID, caller.TeamID)
	if err != nil {
		return nil, fmt.Errorf("load search candidates: %w", err)
	}

	queryVec, err := m.model.Create(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("compute query embedding: %w", err)
	}

	sessionTitles := make(map[string]string)
	var hits []SearchHit
	for _, msg := range candidates {
		vec, err := m.resolveEmbedding(ctx, msg)
		if err != nil {
			if m.logger != nil {
				m.logger.WarnContext(ctx, "on-the-fly embedding failed", "error", err, "message_id", msg.ID)
			}
			continue
		}

		sim := embedding.CosineSimilarity(queryVec, vec)
		if sim <= similarityThreshold {
			continue
		}

		title, ok := sessionTitles[msg.SessionID]
		if !ok {
			if sess, err := m.store.getSession(ctx, msg.SessionID); err == nil {
				title = sess.Title
			}
			sessionTitles[msg.SessionID] = title
		}

		hits = append(hits, SearchHit{
			SessionID:    msg.SessionID,
			SessionTitle: title,
			Role:         msg.Role,
			Content:      truncate(msg.Content, searchContentPreview),
			Timestamp:    msg.Timestamp,
			Model:        derefString(msg.Model),
			Similarity:   sim,
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	if m.cache != nil {
		m.cache.Set(key, hits, searchCacheTTL)
	}
	return hits, nil
}

// resolveEmbedding returns msg's precomputed embedding if present,
// otherwise computes it on the fly (spec §4.2 step 3).
func (m *Memory) resolveEmbedding(ctx context.Context, msg Message) ([]float64, error) {
	if e, ok, err := m.store.getEmbedding(ctx, msg.ID); err == nil && ok {
		var vec []float64
		if err := json.Unmarshal([]byte(e.EmbeddingJSON), &vec); err == nil {
			return vec, nil
		}
	}
	return m.model.Create(ctx, msg.Content)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
