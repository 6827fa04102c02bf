package chatmemory

import (
	"context"
	"fmt"
)

func (s *store) countSessions(ctx context.Context, userID string, teamID *string) (int, error) {
	var n int
	var err error
	if teamID != nil && *teamID != "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE team_id = ?`, *teamID).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE user_id = ? AND team_id IS NULL`, userID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (s *store) messageScope(teamID *string) (string, string) {
	if teamID != nil && *teamID != "" {
		return `team_id = ?`, *teamID
	}
	return `user_id = ? AND team_id IS NULL`, ""
}

func (s *store) countMessagesAndTokens(ctx context.Context, userID string, teamID *string) (count, tokenSum int, err error) {
	where, teamVal := s.messageScope(teamID)
	arg := userID
	if teamVal != "" {
		arg = teamVal
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens), 0) FROM chat_messages WHERE `+where, arg,
	).Scan(&count, &tokenSum)
	if err != nil {
		return 0, 0, fmt.Errorf("count messages: %w", err)
	}
	return count, tokenSum, nil
}

func (s *store) modelHistogram(ctx context.Context, userID string, teamID *string) ([]ModelUsage, error) {
	where, teamVal := s.messageScope(teamID)
	arg := userID
	if teamVal != "" {
		arg = teamVal
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, COUNT(*) FROM chat_messages WHERE `+where+` AND model IS NOT NULL AND model != ''
		 GROUP BY model ORDER BY COUNT(*) DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("model histogram: %w", err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var mu ModelUsage
		if err := rows.Scan(&mu.Model, &mu.Count); err != nil {
			return nil, err
		}
		out = append(out, mu)
	}
	return out, rows.Err()
}

func (s *store) dailyTokenUsage(ctx context.Context, userID string, teamID *string) ([]DailyTokenUsage, error) {
	where, teamVal := s.messageScope(teamID)
	arg := userID
	if teamVal != "" {
		arg = teamVal
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT date(timestamp) AS day, COALESCE(SUM(tokens), 0) FROM chat_messages
		 WHERE `+where+` GROUP BY day ORDER BY day ASC`, arg)
	if err != nil {
		return nil, fmt.Errorf("daily token usage: %w", err)
	}
	defer rows.Close()

	var out []DailyTokenUsage
	for rows.Next() {
		var d DailyTokenUsage
		if err := rows.Scan(&d.Day, &d.Tokens); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
