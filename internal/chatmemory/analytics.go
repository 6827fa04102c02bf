package chatmemory

import (
	"context"
	"fmt"

	"github.com/collabcore/core/internal/principal"
)

// GetAnalytics returns caller-scoped usage analytics (spec §4.2),
// distinct from any admin-wide analytics which would live outside this
// engine. The daily token breakdown is a SPEC_FULL §3 supplement.
func (m *Memory) GetAnalytics(ctx context.Context, caller principal.Context) (*Analytics, error) {
	sessCount, err := m.store.countSessions(ctx, caller.UserID, caller.TeamID)
	if err != nil {
		return nil, err
	}
	msgCount, tokenSum, err := m.store.countMessagesAndTokens(ctx, caller.UserID, caller.TeamID)
	if err != nil {
		return nil, err
	}
	hist, err := m.store.modelHistogram(ctx, caller.UserID, caller.TeamID)
	if err != nil {
		return nil, err
	}
	daily, err := m.store.dailyTokenUsage(ctx, caller.UserID, caller.TeamID)
	if err != nil {
		return nil, fmt.Errorf("daily token usage: %w", err)
	}

	return &Analytics{
		SessionCount: sessCount,
		MessageCount: msgCount,
		TokenSum:     tokenSum,
		ModelUsage:   hist,
		DailyTokens:  daily,
	}, nil
}
