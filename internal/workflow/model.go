// Package workflow implements the Workflow / Work-Item Store (spec §4.4):
// reusable workflow definitions that match incoming triggers and spawn
// work items, an append-only stage-transition history per item, queues
// with per-access-type permission checks, and the delayed/temporary
// promotion flows that let a work item jump its normal queue order. It
// follows chatmemory.Memory's "one façade, many files" shape: Store
// composes the sqlite-backed repository and delegates to small per-concern
// files rather than exposing a package-level singleton.
package workflow

import (
	"encoding/json"
	"time"
)

// Visibility controls who can see a workflow or work item (spec §4.4).
// A NULL/empty visibility on a legacy row is treated as VisibilityPersonal
// (spec §4 Open Question resolution, SPEC_FULL §4).
type Visibility string

const (
	VisibilityPersonal Visibility = "personal"
	VisibilityTeam      Visibility = "team"
	VisibilityGlobal    Visibility = "global"
)

// TriggerType is how a workflow definition is matched against incoming
// events.
type TriggerType string

const (
	TriggerAgent   TriggerType = "agent"
	TriggerFile    TriggerType = "file"
	TriggerManual  TriggerType = "manual"
)

// Trigger is one matcher a WorkflowDefinition listens for. Pattern's
// meaning depends on Type: an agent name, a glob over file paths, or empty
// for manual triggers.
type Trigger struct {
	Type    TriggerType `json:"type"`
	Pattern string      `json:"pattern,omitempty"`
}

// Stage is one named step of a WorkflowDefinition's pipeline.
type Stage struct {
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// WorkflowDefinition is a reusable, named pipeline: a set of stages a
// WorkItem progresses through, and the triggers that spawn new items from
// it (spec §4.4).
type WorkflowDefinition struct {
	ID         string
	OwnerID    string
	TeamID     *string
	Name       string
	Visibility Visibility
	IsTemplate bool // templates never trigger automatically (spec §4.4)
	Stages     []Stage
	Triggers   []Trigger
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Status is a WorkItem's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Priority is a WorkItem's queue ordering hint.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// WorkItem is one instance of a WorkflowDefinition's pipeline in flight
// (spec §4.4).
type WorkItem struct {
	ID           string
	WorkflowID   string
	OwnerID      string
	TeamID       *string
	Title        string
	Status       Status
	Priority     Priority
	Stage        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Transitions  []StageTransition `json:"-"` // populated on hydrate
	Attachments  []Attachment      `json:"-"`
}

// StageTransition is one append-only entry in a WorkItem's stage history
// (spec §4.4). Duration is the time from this transition to the next one
// (how long the item stayed in Stage); it is nil for the most recent
// transition, which has no successor yet
// (SPEC_FULL §4 Open Question resolution).
type StageTransition struct {
	ID        int64
	WorkItemID string
	Stage     string
	At        time.Time
	Duration  *time.Duration `json:"duration_seconds,omitempty"`
}

// Attachment is a file or link associated with a WorkItem.
type Attachment struct {
	ID         string
	WorkItemID string
	Name       string
	URL        string
	CreatedAt  time.Time
}

// DelayedPromotion schedules a future team-role change for one member,
// applied by a periodic sweep once ExecuteAt has passed (spec §3.1, §4.4).
// At most one pending (Executed == false) promotion may exist per
// (TeamID, UserID) pair.
type DelayedPromotion struct {
	ID          string
	TeamID      string
	UserID      string
	FromRole    string
	ToRole      string
	ScheduledAt time.Time
	ExecuteAt   time.Time
	Executed    bool
	ExecutedAt  *time.Time
}

// TempPromotionStatus is a break-glass promotion's lifecycle state.
type TempPromotionStatus string

const (
	TempPromotionActive   TempPromotionStatus = "active"
	TempPromotionApproved TempPromotionStatus = "approved"
	TempPromotionReverted TempPromotionStatus = "reverted"
)

// TempPromotion is a break-glass elevation of a team's most senior admin
// to super_admin, granted when the team's sole active super_admin is
// unavailable (spec §3.1, §4.4). At most one TempPromotionActive record
// may exist per team at a time. A TempPromotionActive record transitions
// to TempPromotionApproved once the original super_admin confirms it, or
// to TempPromotionReverted if it is undone.
type TempPromotion struct {
	ID                   string
	TeamID               string
	OriginalSuperAdminID string
	PromotedAdminID      string
	Status               TempPromotionStatus
	CreatedAt            time.Time
	ResolvedAt           *time.Time
}

// AccessType is one of the operations a Queue grant can authorize.
type AccessType string

const (
	AccessRead    AccessType = "read"
	AccessWrite   AccessType = "write"
	AccessAdmin   AccessType = "admin"
	AccessExecute AccessType = "execute"
)

// GrantType is who a Queue grant's PrincipalID names.
type GrantType string

const (
	GrantUser GrantType = "user"
	GrantRole GrantType = "role"
	GrantTeam GrantType = "team"
	// GrantDeny is a SPEC_FULL §3 supplement recovered from the original
	// source's queue ACL model: an explicit denial that overrides any
	// matching allow grant for the same principal, regardless of order.
	GrantDeny GrantType = "deny"
)

// Queue is a named work item bucket with its own access grants (spec
// §4.4).
type Queue struct {
	ID      string
	TeamID  string
	Name    string
	OwnerID string
}

// QueueGrant authorizes (or, for GrantDeny, forbids) one principal one
// AccessType on a Queue.
type QueueGrant struct {
	ID          string
	QueueID     string
	GrantType   GrantType
	PrincipalID string // a user ID, a role name, or a team ID, per GrantType
	Access      AccessType
}

func marshalStages(stages []Stage) (string, error) {
	b, err := json.Marshal(stages)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStages(raw string) ([]Stage, error) {
	if raw == "" {
		return nil, nil
	}
	var stages []Stage
	if err := json.Unmarshal([]byte(raw), &stages); err != nil {
		return nil, err
	}
	return stages, nil
}

func marshalTriggers(triggers []Trigger) (string, error) {
	b, err := json.Marshal(triggers)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalTriggers(raw string) ([]Trigger, error) {
	if raw == "" {
		return nil, nil
	}
	var triggers []Trigger
	if err := json.Unmarshal([]byte(raw), &triggers); err != nil {
		return nil, err
	}
	return triggers, nil
}

// firstStage returns the lowest-Order stage's name, or "" if stages is
// empty.
func firstStage(stages []Stage) string {
	if len(stages) == 0 {
		return ""
	}
	first := stages[0]
	for _, st := range stages[1:] {
		if st.Order < first.Order {
			first = st
		}
	}
	return first.Name
}

// effectiveVisibility normalizes a possibly-legacy-null visibility value
// to VisibilityPersonal, per SPEC_FULL §4's resolution of spec §9's open
// question.
func effectiveVisibility(v Visibility) Visibility {
	if v == "" {
		return VisibilityPersonal
	}
	return v
}
