package workflow

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// TriggerEvent is an incoming signal that may match one or more
// WorkflowDefinition triggers (spec §4.4): an agent invocation, a file
// change, or an explicit manual request.
type TriggerEvent struct {
	Type    TriggerType
	Pattern string // agent name or file path, matched against each trigger
	OwnerID string
	TeamID  *string
	Title   string
}

func matches(t Trigger, ev TriggerEvent) bool {
	if t.Type != ev.Type {
		return false
	}
	switch t.Type {
	case TriggerManual:
		return true
	case TriggerFile:
		ok, err := filepath.Match(t.Pattern, ev.Pattern)
		return err == nil && ok
	default: // TriggerAgent
		return t.Pattern == ev.Pattern
	}
}

// MatchTriggers scans every non-template workflow definition for a trigger
// matching ev and spawns a pending WorkItem from each match. Spec §4.4:
// templates are excluded ahead of time by the listTriggerableWorkflows
// query, matching failures on one definition are logged and do not block
// the others (the same per-item error isolation style used in
// internal/sync's apply loop).
func (s *Store) MatchTriggers(ctx context.Context, ev TriggerEvent) ([]WorkItem, error) {
	defs, err := s.store.listTriggerableWorkflows(ctx)
	if err != nil {
		return nil, err
	}

	var spawned []WorkItem
	for _, wf := range defs {
		matched := false
		for _, t := range wf.Triggers {
			if matches(t, ev) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		item, err := s.spawnWorkItem(ctx, wf, ev)
		if err != nil {
			s.logger.Error("spawn work item from trigger", "workflow_id", wf.ID, "error", err)
			continue
		}
		spawned = append(spawned, *item)
	}
	return spawned, nil
}

func (s *Store) spawnWorkItem(ctx context.Context, wf WorkflowDefinition, ev TriggerEvent) (*WorkItem, error) {
	now := time.Now()
	title := ev.Title
	if title == "" {
		title = wf.Name
	}
	item := &WorkItem{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		OwnerID:    ev.OwnerID,
		TeamID:     ev.TeamID,
		Title:      title,
		Status:     StatusPending,
		Priority:   PriorityNormal,
		Stage:      firstStage(wf.Stages),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.SaveWorkItem(ctx, item, nil); err != nil {
		return nil, err
	}
	return item, nil
}
