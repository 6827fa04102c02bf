package workflow

import "errors"

var (
	// ErrNotFound is returned when a workflow, work item, queue, or
	// promotion lookup finds nothing visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned when the caller lacks the queue access
	// type a requested operation requires.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidInput is returned for malformed requests (empty required
	// fields, a workflow with no stages).
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned when a WorkItem's requested stage is
	// not a stage its WorkflowDefinition defines.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrPromotionExists is returned when a second delayed or temporary
	// promotion is requested while one is already pending/active for the
	// same scope.
	ErrPromotionExists = errors.New("a promotion is already pending for this scope")
	// ErrTemplateNotTriggerable names the rule that a WorkflowDefinition
	// marked IsTemplate never triggers (spec §4.4). No Store method
	// returns it: MatchTriggers leaves templates out of matching instead.
	ErrTemplateNotTriggerable = errors.New("workflow templates cannot be triggered")
	// ErrRolesUnavailable is returned by the promotion flows when Store was
	// constructed without a TeamRoles collaborator.
	ErrRolesUnavailable = errors.New("team roles are not available")
)
