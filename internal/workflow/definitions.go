package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/collabcore/core/internal/principal"
	"github.com/collabcore/core/internal/sync"
)

// CreateWorkflowRequest describes a new WorkflowDefinition.
type CreateWorkflowRequest struct {
	OwnerID    string
	TeamID     *string
	Name       string
	Visibility Visibility
	IsTemplate bool
	Stages     []Stage
	Triggers   []Trigger
}

// CreateWorkflow validates and persists a new workflow definition.
func (s *Store) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*WorkflowDefinition, error) {
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, ErrInvalidInput
	}
	if len(req.Stages) == 0 {
		return nil, fmt.Errorf("%w: a workflow must define at least one stage", ErrInvalidInput)
	}

	now := time.Now()
	wf := &WorkflowDefinition{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		TeamID:     req.TeamID,
		Name:       req.Name,
		Visibility: effectiveVisibility(req.Visibility),
		IsTemplate: req.IsTemplate,
		Stages:     req.Stages,
		Triggers:   req.Triggers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.createWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("creating workflow: %w", err)
	}
	s.trackWorkflowSync(ctx, wf)
	return wf, nil
}

// trackWorkflowSync records a committed workflows row as a sync operation
// (spec §2). Best-effort: failures are logged and swallowed, never
// surfaced to the caller of CreateWorkflow.
func (s *Store) trackWorkflowSync(ctx context.Context, wf *WorkflowDefinition) {
	if s.tracker == nil {
		return
	}
	stagesJSON, err := marshalStages(wf.Stages)
	if err != nil {
		s.logger.Warn("marshal stages for sync tracking failed", "error", err, "workflow_id", wf.ID)
		return
	}
	triggersJSON, err := marshalTriggers(wf.Triggers)
	if err != nil {
		s.logger.Warn("marshal triggers for sync tracking failed", "error", err, "workflow_id", wf.ID)
		return
	}
	data := map[string]any{
		"owner_id":    wf.OwnerID,
		"name":        wf.Name,
		"visibility":  string(wf.Visibility),
		"is_template": wf.IsTemplate,
		"stages":      stagesJSON,
		"triggers":    triggersJSON,
		"created_at":  wf.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  wf.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.tracker.TrackOperation(ctx, "workflows", sync.OpInsert, wf.ID, data, wf.TeamID); err != nil {
		s.logger.Warn("track workflows sync operation failed", "error", err, "workflow_id", wf.ID)
	}
}

func visible(caller principal.Context, wf WorkflowDefinition) bool {
	switch wf.Visibility {
	case VisibilityGlobal:
		return true
	case VisibilityTeam:
		return wf.TeamID != nil && caller.HasTeam() && caller.Team() == *wf.TeamID
	default: // VisibilityPersonal and any legacy-normalized value
		return caller.UserID == wf.OwnerID
	}
}

// GetWorkflow returns a workflow definition if caller can see it.
func (s *Store) GetWorkflow(ctx context.Context, caller principal.Context, id string) (*WorkflowDefinition, error) {
	wf, found, err := s.store.getWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting workflow: %w", err)
	}
	if !found || !visible(caller, wf) {
		return nil, ErrNotFound
	}
	return &wf, nil
}

// ListWorkflows returns all workflows visible to caller: global ones, the
// caller's team's ones, and the caller's own personal ones.
func (s *Store) ListWorkflows(ctx context.Context, caller principal.Context) ([]WorkflowDefinition, error) {
	all, err := s.store.listWorkflowsVisibleTo(ctx, caller.UserID, caller.TeamID)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	return all, nil
}
