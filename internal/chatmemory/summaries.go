package chatmemory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/collabcore/core/internal/principal"
)

const (
	maxSummaryEvents = 30
	maxSummaryChars  = 1200
	summaryPrefix    = "Recent conversation:"
	eventContentCap  = 100
)

// RenderSummary builds the deterministic rolling-summary string for events
// (spec §4.2): each event rendered as "- {role}[{model}]: {content}"
// (content truncated to 100 chars), prefixed, and the whole thing
// truncated to 1200 chars with an ellipsis. Summarizing the same events
// twice is guaranteed to produce the same string (spec §8 round-trip law)
// since this function is pure.
func RenderSummary(events []Message) string {
	if len(events) > maxSummaryEvents {
		events = events[len(events)-maxSummaryEvents:]
	}

	var b strings.Builder
	b.WriteString(summaryPrefix)
	for _, e := range events {
		model := ""
		if e.Model != nil {
			model = *e.Model
		}
		b.WriteString("\n- ")
		b.WriteString(string(e.Role))
		b.WriteString("[")
		b.WriteString(model)
		b.WriteString("]: ")
		b.WriteString(truncate(e.Content, eventContentCap))
	}

	out := b.String()
	if len(out) > maxSummaryChars {
		out = out[:maxSummaryChars-len("…")] + "…"
	}
	return out
}

// UpdateSummary regenerates and persists the rolling summary for a
// session from its last events (bounded to 30), upserting
// conversation_summaries and mirroring the text onto chat_sessions.summary.
func (m *Memory) UpdateSummary(ctx context.Context, caller principal.Context, sessionID string) (*ConversationSummary, error) {
	sess, err := m.store.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !visible(caller, sess) {
		return nil, ErrSessionNotFound
	}

	events, err := m.store.getRecentMessages(ctx, sessionID, maxSummaryEvents)
	if err != nil {
		return nil, fmt.Errorf("load events for summary: %w", err)
	}

	summaryText := RenderSummary(events)
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("marshal events snapshot: %w", err)
	}

	var modelsUsed []string
	for _, e := range events {
		if e.Model != nil {
			modelsUsed = unionModel(modelsUsed, *e.Model)
		}
	}

	existing, ok, err := m.store.getSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	createdAt := now
	if ok {
		createdAt = existing.CreatedAt
	}

	summ := &ConversationSummary{
		SessionID:  sessionID,
		Summary:    summaryText,
		EventsJSON: string(eventsJSON),
		ModelsUsed: modelsUsed,
		CreatedAt:  createdAt,
		UpdatedAt:  now,
	}

	err = m.store.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if err := m.store.upsertSummaryTx(ctx, tx, summ); err != nil {
			return err
		}
		return m.store.mirrorSessionSummaryTx(ctx, tx, sessionID, summaryText)
	})
	if err != nil {
		return nil, fmt.Errorf("persist summary: %w", err)
	}
	return summ, nil
}
