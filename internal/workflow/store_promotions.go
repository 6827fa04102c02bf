package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- delayed promotions ---

func (s *store) pendingDelayedPromotion(ctx context.Context, teamID, userID string) (DelayedPromotion, bool, error) {
	var p DelayedPromotion
	var scheduledAt, executeAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, user_id, from_role, to_role, scheduled_at, execute_at, executed
		 FROM delayed_promotions WHERE team_id = ? AND user_id = ? AND executed = 0`,
		teamID, userID,
	).Scan(&p.ID, &p.TeamID, &p.UserID, &p.FromRole, &p.ToRole, &scheduledAt, &executeAt, &p.Executed)
	if err == sql.ErrNoRows {
		return DelayedPromotion{}, false, nil
	}
	if err != nil {
		return DelayedPromotion{}, false, fmt.Errorf("get pending delayed promotion: %w", err)
	}
	p.ScheduledAt, err = time.Parse(timeLayout, scheduledAt)
	if err != nil {
		return DelayedPromotion{}, false, err
	}
	p.ExecuteAt, err = time.Parse(timeLayout, executeAt)
	if err != nil {
		return DelayedPromotion{}, false, err
	}
	return p, true, nil
}

func (s *store) insertDelayedPromotion(ctx context.Context, p DelayedPromotion) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO delayed_promotions (id, team_id, user_id, from_role, to_role, scheduled_at, execute_at, executed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.TeamID, p.UserID, p.FromRole, p.ToRole,
			p.ScheduledAt.UTC().Format(timeLayout), p.ExecuteAt.UTC().Format(timeLayout), boolToInt(p.Executed),
		)
		if err != nil {
			return fmt.Errorf("insert delayed promotion: %w", err)
		}
		return nil
	})
}

// duePromotions returns unexecuted delayed promotions whose ExecuteAt has
// passed asOf, for the sweep job to apply.
func (s *store) duePromotions(ctx context.Context, asOf time.Time) ([]DelayedPromotion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, user_id, from_role, to_role, scheduled_at, execute_at, executed
		 FROM delayed_promotions WHERE executed = 0 AND execute_at <= ?`,
		asOf.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("list due promotions: %w", err)
	}
	defer rows.Close()

	var out []DelayedPromotion
	for rows.Next() {
		var p DelayedPromotion
		var scheduledAt, executeAt string
		if err := rows.Scan(&p.ID, &p.TeamID, &p.UserID, &p.FromRole, &p.ToRole, &scheduledAt, &executeAt, &p.Executed); err != nil {
			return nil, err
		}
		if p.ScheduledAt, err = time.Parse(timeLayout, scheduledAt); err != nil {
			return nil, err
		}
		if p.ExecuteAt, err = time.Parse(timeLayout, executeAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *store) markPromotionExecuted(ctx context.Context, id string, executedAt time.Time) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE delayed_promotions SET executed = 1, executed_at = ? WHERE id = ?`,
			executedAt.UTC().Format(timeLayout), id)
		if err != nil {
			return fmt.Errorf("mark promotion executed: %w", err)
		}
		return nil
	})
}

// --- temp (break-glass) promotions ---

func scanTempPromotion(row interface{ Scan(...any) error }) (TempPromotion, error) {
	var p TempPromotion
	var createdAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&p.ID, &p.TeamID, &p.OriginalSuperAdminID, &p.PromotedAdminID, &p.Status, &createdAt, &resolvedAt); err != nil {
		return TempPromotion{}, err
	}
	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return TempPromotion{}, err
	}
	p.CreatedAt = created
	if resolvedAt.Valid {
		parsed, err := time.Parse(timeLayout, resolvedAt.String)
		if err != nil {
			return TempPromotion{}, err
		}
		p.ResolvedAt = &parsed
	}
	return p, nil
}

const tempPromotionColumns = `id, team_id, original_super_admin_id, promoted_admin_id, status, created_at, resolved_at`

func (s *store) activeTempPromotion(ctx context.Context, teamID string) (TempPromotion, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tempPromotionColumns+` FROM temp_promotions WHERE team_id = ? AND status = ?`,
		teamID, string(TempPromotionActive))
	p, err := scanTempPromotion(row)
	if err == sql.ErrNoRows {
		return TempPromotion{}, false, nil
	}
	if err != nil {
		return TempPromotion{}, false, fmt.Errorf("get active temp promotion: %w", err)
	}
	return p, true, nil
}

func (s *store) getTempPromotion(ctx context.Context, id string) (TempPromotion, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tempPromotionColumns+` FROM temp_promotions WHERE id = ?`, id)
	p, err := scanTempPromotion(row)
	if err == sql.ErrNoRows {
		return TempPromotion{}, false, nil
	}
	if err != nil {
		return TempPromotion{}, false, fmt.Errorf("get temp promotion: %w", err)
	}
	return p, true, nil
}

func (s *store) insertTempPromotion(ctx context.Context, p TempPromotion) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO temp_promotions (id, team_id, original_super_admin_id, promoted_admin_id, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.TeamID, p.OriginalSuperAdminID, p.PromotedAdminID, string(p.Status), p.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert temp promotion: %w", err)
		}
		return nil
	})
}

func (s *store) resolveTempPromotion(ctx context.Context, id string, status TempPromotionStatus, resolvedAt time.Time) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE temp_promotions SET status = ?, resolved_at = ? WHERE id = ?`,
			string(status), resolvedAt.UTC().Format(timeLayout), id)
		if err != nil {
			return fmt.Errorf("resolve temp promotion: %w", err)
		}
		return nil
	})
}

// --- queues ---

func (s *store) createQueue(ctx context.Context, q Queue) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO queues (id, team_id, name, owner_id) VALUES (?, ?, ?, ?)`,
			q.ID, q.TeamID, q.Name, q.OwnerID)
		if err != nil {
			return fmt.Errorf("insert queue: %w", err)
		}
		return nil
	})
}

func (s *store) addQueueGrant(ctx context.Context, g QueueGrant) error {
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO queue_grants (id, queue_id, grant_type, principal_id, access) VALUES (?, ?, ?, ?, ?)`,
			g.ID, g.QueueID, string(g.GrantType), g.PrincipalID, string(g.Access))
		if err != nil {
			return fmt.Errorf("insert queue grant: %w", err)
		}
		return nil
	})
}

func (s *store) queueGrants(ctx context.Context, queueID string) ([]QueueGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, queue_id, grant_type, principal_id, access FROM queue_grants WHERE queue_id = ?`, queueID)
	if err != nil {
		return nil, fmt.Errorf("list queue grants: %w", err)
	}
	defer rows.Close()

	var out []QueueGrant
	for rows.Next() {
		var g QueueGrant
		if err := rows.Scan(&g.ID, &g.QueueID, &g.GrantType, &g.PrincipalID, &g.Access); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *store) getQueue(ctx context.Context, id string) (Queue, bool, error) {
	var q Queue
	err := s.db.QueryRowContext(ctx, `SELECT id, team_id, name, owner_id FROM queues WHERE id = ?`, id).
		Scan(&q.ID, &q.TeamID, &q.Name, &q.OwnerID)
	if err == sql.ErrNoRows {
		return Queue{}, false, nil
	}
	if err != nil {
		return Queue{}, false, fmt.Errorf("get queue: %w", err)
	}
	return q, true, nil
}
