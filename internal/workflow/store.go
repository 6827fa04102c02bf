package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/collabcore/core/internal/storage"
)

// Schema is the idempotent DDL for the workflow database (spec §4.4,
// §6.1 "workflows.db").
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	team_id     TEXT,
	name        TEXT NOT NULL,
	visibility  TEXT,
	is_template INTEGER NOT NULL DEFAULT 0,
	stages      TEXT NOT NULL DEFAULT '[]',
	triggers    TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflows_owner ON workflows(owner_id);
CREATE INDEX IF NOT EXISTS idx_workflows_team ON workflows(team_id);

CREATE TABLE IF NOT EXISTS work_items (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	owner_id    TEXT NOT NULL,
	team_id     TEXT,
	title       TEXT NOT NULL,
	status      TEXT NOT NULL,
	priority    TEXT NOT NULL,
	stage       TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_work_items_workflow ON work_items(workflow_id);
CREATE INDEX IF NOT EXISTS idx_work_items_owner ON work_items(owner_id);
CREATE INDEX IF NOT EXISTS idx_work_items_team ON work_items(team_id);

CREATE TABLE IF NOT EXISTS stage_transitions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	work_item_id TEXT NOT NULL,
	stage        TEXT NOT NULL,
	at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stage_transitions_item ON stage_transitions(work_item_id, at);

CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	work_item_id TEXT NOT NULL,
	name         TEXT NOT NULL,
	url          TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attachments_item ON attachments(work_item_id);

CREATE TABLE IF NOT EXISTS starred_workflows (
	user_id     TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (user_id, workflow_id)
);

CREATE TABLE IF NOT EXISTS delayed_promotions (
	id           TEXT PRIMARY KEY,
	team_id      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	from_role    TEXT NOT NULL,
	to_role      TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	execute_at   TEXT NOT NULL,
	executed     INTEGER NOT NULL DEFAULT 0,
	executed_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_delayed_promotions_pending ON delayed_promotions(team_id, user_id, executed);

CREATE TABLE IF NOT EXISTS temp_promotions (
	id                      TEXT PRIMARY KEY,
	team_id                 TEXT NOT NULL,
	original_super_admin_id TEXT NOT NULL,
	promoted_admin_id       TEXT NOT NULL,
	status                  TEXT NOT NULL,
	created_at              TEXT NOT NULL,
	resolved_at             TEXT
);
CREATE INDEX IF NOT EXISTS idx_temp_promotions_team_status ON temp_promotions(team_id, status);

CREATE TABLE IF NOT EXISTS queues (
	id       TEXT PRIMARY KEY,
	team_id  TEXT NOT NULL,
	name     TEXT NOT NULL,
	owner_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queues_team ON queues(team_id);

CREATE TABLE IF NOT EXISTS queue_grants (
	id           TEXT PRIMARY KEY,
	queue_id     TEXT NOT NULL,
	grant_type   TEXT NOT NULL,
	principal_id TEXT NOT NULL,
	access       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_grants_queue ON queue_grants(queue_id);
`

type store struct {
	db *storage.DB
}

const timeLayout = time.RFC3339Nano

func nullableString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtrFromNullable(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- workflows ---

const workflowColumns = `id, owner_id, team_id, name, visibility, is_template, stages, triggers, created_at, updated_at`

func scanWorkflow(row interface{ Scan(...any) error }) (WorkflowDefinition, error) {
	var wf WorkflowDefinition
	var teamID, visibility sql.NullString
	var isTemplate int
	var stagesRaw, triggersRaw, createdAt, updatedAt string
	if err := row.Scan(&wf.ID, &wf.OwnerID, &teamID, &wf.Name, &visibility, &isTemplate, &stagesRaw, &triggersRaw, &createdAt, &updatedAt); err != nil {
		return WorkflowDefinition{}, err
	}
	stages, err := unmarshalStages(stagesRaw)
	if err != nil {
		return WorkflowDefinition{}, fmt.Errorf("unmarshal stages: %w", err)
	}
	triggers, err := unmarshalTriggers(triggersRaw)
	if err != nil {
		return WorkflowDefinition{}, fmt.Errorf("unmarshal triggers: %w", err)
	}
	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return WorkflowDefinition{}, err
	}
	updated, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return WorkflowDefinition{}, err
	}
	wf.TeamID = stringPtrFromNullable(teamID)
	wf.Visibility = effectiveVisibility(Visibility(visibility.String))
	wf.IsTemplate = isTemplate != 0
	wf.Stages = stages
	wf.Triggers = triggers
	wf.CreatedAt = created
	wf.UpdatedAt = updated
	return wf, nil
}

func (s *store) createWorkflow(ctx context.Context, wf *WorkflowDefinition) error {
	stagesRaw, err := marshalStages(wf.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	triggersRaw, err := marshalTriggers(wf.Triggers)
	if err != nil {
		return fmt.Errorf("marshal triggers: %w", err)
	}
	return s.db.Write(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			wf.ID, wf.OwnerID, nullableString(wf.TeamID), wf.Name, string(wf.Visibility),
			boolToInt(wf.IsTemplate), stagesRaw, triggersRaw,
			wf.CreatedAt.UTC().Format(timeLayout), wf.UpdatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		return nil
	})
}

func (s *store) getWorkflow(ctx context.Context, id string) (WorkflowDefinition, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return WorkflowDefinition{}, false, nil
	}
	if err != nil {
		return WorkflowDefinition{}, false, fmt.Errorf("get workflow: %w", err)
	}
	return wf, true, nil
}

// listTriggerableWorkflows returns every non-template workflow, for trigger
// matching (spec §4.4: templates are excluded from triggering).
func (s *store) listTriggerableWorkflows(ctx context.Context) ([]WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE is_template = 0`)
	if err != nil {
		return nil, fmt.Errorf("list triggerable workflows: %w", err)
	}
	defer rows.Close()

	var out []WorkflowDefinition
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *store) listWorkflowsVisibleTo(ctx context.Context, userID string, teamID *string) ([]WorkflowDefinition, error) {
	var rows *sql.Rows
	var err error
	if teamID != nil && *teamID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+workflowColumns+` FROM workflows
			 WHERE visibility = 'global' OR team_id = ? OR (owner_id = ? AND (visibility = 'personal' OR visibility IS NULL OR visibility = ''))`,
			*teamID, userID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+workflowColumns+` FROM workflows
			 WHERE visibility = 'global' OR (owner_id = ? AND (visibility = 'personal' OR visibility IS NULL OR visibility = ''))`,
			userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list visible workflows: %w", err)
	}
	defer rows.Close()

	var out []WorkflowDefinition
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// --- work items ---

const workItemColumns = `id, workflow_id, owner_id, team_id, title, status, priority, stage, created_at, updated_at`

func scanWorkItem(row interface{ Scan(...any) error }) (WorkItem, error) {
	var wi WorkItem
	var teamID sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&wi.ID, &wi.WorkflowID, &wi.OwnerID, &teamID, &wi.Title, &wi.Status, &wi.Priority, &wi.Stage, &createdAt, &updatedAt); err != nil {
		return WorkItem{}, err
	}
	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return WorkItem{}, err
	}
	updated, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return WorkItem{}, err
	}
	wi.TeamID = stringPtrFromNullable(teamID)
	wi.CreatedAt = created
	wi.UpdatedAt = updated
	return wi, nil
}

func (s *store) saveWorkItemTx(ctx context.Context, tx *sql.Tx, wi *WorkItem) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO work_items (`+workItemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, status = excluded.status, priority = excluded.priority,
			stage = excluded.stage, updated_at = excluded.updated_at`,
		wi.ID, wi.WorkflowID, wi.OwnerID, nullableString(wi.TeamID), wi.Title, string(wi.Status),
		string(wi.Priority), wi.Stage, wi.CreatedAt.UTC().Format(timeLayout), wi.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert work item: %w", err)
	}
	return nil
}

func (s *store) appendStageTransitionTx(ctx context.Context, tx *sql.Tx, workItemID, stage string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO stage_transitions (work_item_id, stage, at) VALUES (?, ?, ?)`,
		workItemID, stage, at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append stage transition: %w", err)
	}
	return nil
}

func (s *store) upsertAttachmentTx(ctx context.Context, tx *sql.Tx, a Attachment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO attachments (id, work_item_id, name, url, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = excluded.url`,
		a.ID, a.WorkItemID, a.Name, a.URL, a.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert attachment: %w", err)
	}
	return nil
}

func (s *store) getWorkItem(ctx context.Context, id string) (WorkItem, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id)
	wi, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return WorkItem{}, false, nil
	}
	if err != nil {
		return WorkItem{}, false, fmt.Errorf("get work item: %w", err)
	}
	return wi, true, nil
}

// stageTransitions returns a work item's transition history ordered by
// time ascending, with Duration computed as the delta to the next
// transition (nil for the last one) — spec §4 Open Question resolution,
// SPEC_FULL §4.
func (s *store) stageTransitions(ctx context.Context, workItemID string) ([]StageTransition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, work_item_id, stage, at FROM stage_transitions WHERE work_item_id = ? ORDER BY at ASC, id ASC`,
		workItemID)
	if err != nil {
		return nil, fmt.Errorf("list stage transitions: %w", err)
	}
	defer rows.Close()

	var out []StageTransition
	for rows.Next() {
		var t StageTransition
		var at string
		if err := rows.Scan(&t.ID, &t.WorkItemID, &t.Stage, &at); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, err
		}
		t.At = parsed
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if i+1 < len(out) {
			d := out[i+1].At.Sub(out[i].At)
			out[i].Duration = &d
		}
	}
	return out, nil
}

func (s *store) attachments(ctx context.Context, workItemID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, work_item_id, name, url, created_at FROM attachments WHERE work_item_id = ? ORDER BY created_at ASC`,
		workItemID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		var createdAt string
		if err := rows.Scan(&a.ID, &a.WorkItemID, &a.Name, &a.URL, &createdAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, err
		}
		a.CreatedAt = parsed
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *store) listWorkItemsVisibleTo(ctx context.Context, userID string, teamID *string) ([]WorkItem, error) {
	var rows *sql.Rows
	var err error
	if teamID != nil && *teamID != "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE team_id = ? ORDER BY updated_at DESC`, *teamID)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE owner_id = ? AND team_id IS NULL ORDER BY updated_at DESC`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var out []WorkItem
	for rows.Next() {
		wi, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wi)
	}
	return out, rows.Err()
}
