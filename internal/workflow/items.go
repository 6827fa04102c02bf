package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/collabcore/core/internal/principal"
	"github.com/collabcore/core/internal/sync"
)

// SaveWorkItem performs the composite, transactional save spec §4.4
// requires: upsert the work item row, append a stage-transition history
// entry iff the stage actually changed (or this is the item's first
// save), and upsert any given attachments — all in one WriteTx so a
// caller never observes a work item whose stage moved without a matching
// history entry.
func (s *Store) SaveWorkItem(ctx context.Context, item *WorkItem, attachments []Attachment) error {
	if item.ID == "" || item.WorkflowID == "" {
		return ErrInvalidInput
	}

	existing, found, err := s.store.getWorkItem(ctx, item.ID)
	if err != nil {
		return err
	}
	stageChanged := !found || existing.Stage != item.Stage
	item.UpdatedAt = time.Now()
	if !found {
		item.CreatedAt = item.UpdatedAt
	} else {
		item.CreatedAt = existing.CreatedAt
	}

	err = s.store.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.saveWorkItemTx(ctx, tx, item); err != nil {
			return err
		}
		if stageChanged {
			if err := s.store.appendStageTransitionTx(ctx, tx, item.ID, item.Stage, item.UpdatedAt); err != nil {
				return err
			}
		}
		for _, a := range attachments {
			if err := s.store.upsertAttachmentTx(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	op := sync.OpUpdate
	if !found {
		op = sync.OpInsert
	}
	s.trackWorkItemSync(ctx, item, op)
	return nil
}

// trackWorkItemSync records a committed work_items row as a sync
// operation (spec §2). Best-effort: failures are logged and swallowed,
// never surfaced to the caller of SaveWorkItem.
func (s *Store) trackWorkItemSync(ctx context.Context, item *WorkItem, op sync.Operation) {
	if s.tracker == nil {
		return
	}
	data := map[string]any{
		"workflow_id": item.WorkflowID,
		"owner_id":    item.OwnerID,
		"title":       item.Title,
		"status":      string(item.Status),
		"priority":    string(item.Priority),
		"stage":       item.Stage,
		"created_at":  item.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.tracker.TrackOperation(ctx, "work_items", op, item.ID, data, item.TeamID); err != nil {
		s.logger.Warn("track work_items sync operation failed", "error", err, "work_item_id", item.ID)
	}
}

func itemVisible(caller principal.Context, item WorkItem) bool {
	return principal.VisibleToOwnerOrTeam(caller, item.OwnerID, item.TeamID)
}

// GetWorkItem returns a work item with its stage-transition history and
// attachments hydrated, if caller can see it.
func (s *Store) GetWorkItem(ctx context.Context, caller principal.Context, id string) (*WorkItem, error) {
	item, found, err := s.store.getWorkItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting work item: %w", err)
	}
	if !found || !itemVisible(caller, item) {
		return nil, ErrNotFound
	}

	item.Transitions, err = s.store.stageTransitions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading stage transitions: %w", err)
	}
	item.Attachments, err = s.store.attachments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading attachments: %w", err)
	}
	return &item, nil
}

// ListWorkItems returns caller's team-scoped or personal work items
// (unhydrated — callers that need history should GetWorkItem individually).
func (s *Store) ListWorkItems(ctx context.Context, caller principal.Context) ([]WorkItem, error) {
	items, err := s.store.listWorkItemsVisibleTo(ctx, caller.UserID, caller.TeamID)
	if err != nil {
		return nil, fmt.Errorf("listing work items: %w", err)
	}
	return items, nil
}

// TransitionStage moves item to a new stage defined by its workflow,
// rejecting stages the workflow definition does not declare.
func (s *Store) TransitionStage(ctx context.Context, caller principal.Context, itemID, toStage string) (*WorkItem, error) {
	item, err := s.GetWorkItem(ctx, caller, itemID)
	if err != nil {
		return nil, err
	}
	wf, found, err := s.store.getWorkflow(ctx, item.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}

	validStage := false
	for _, st := range wf.Stages {
		if st.Name == toStage {
			validStage = true
			break
		}
	}
	if !validStage {
		return nil, ErrInvalidTransition
	}

	item.Stage = toStage
	if err := s.SaveWorkItem(ctx, item, nil); err != nil {
		return nil, fmt.Errorf("transitioning stage: %w", err)
	}
	return item, nil
}
