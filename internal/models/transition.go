package models

import "time"

// WorkflowRole is the relationship an actor holds towards a subject. It is
// resolved per subject, not globally: DIRECTOR means "the assigned director
// of this subject", never "any director".
type WorkflowRole string

const (
	WorkflowRoleOwner    WorkflowRole = "OWNER"
	WorkflowRoleDirector WorkflowRole = "DIRECTOR"
	WorkflowRoleAdmin    WorkflowRole = "ADMIN"
	WorkflowRoleSystem   WorkflowRole = "SYSTEM"
	WorkflowRoleNone     WorkflowRole = "NONE"
)

// Action enumerates the requestable workflow moves across all subject types.
type Action string

const (
	ActionSubmit                Action = "SUBMIT"
	ActionValidateAdmin         Action = "VALIDATE_ADMIN"
	ActionRejectAdmin           Action = "REJECT_ADMIN"
	ActionValidateDirector      Action = "VALIDATE_DIRECTOR"
	ActionRejectDirector        Action = "REJECT_DIRECTOR"
	ActionValidatePrerequisites Action = "VALIDATE_PREREQUISITES"
	ActionProposeJury           Action = "PROPOSE_JURY"
	ActionPlanDefense           Action = "PLAN_DEFENSE"
	ActionAuthorize             Action = "AUTHORIZE"
	ActionComplete              Action = "COMPLETE"
	ActionValidate              Action = "VALIDATE"
	ActionApprove               Action = "APPROVE"
	ActionRefuse                Action = "REFUSE"

	// ActionExpire is never requestable; it is recorded when the expiry
	// sweeper retires an overdue derogation.
	ActionExpire Action = "EXPIRE"
)

// TransitionRecord is an immutable audit entry: one applied transition on one
// subject. The ordered sequence per subject replays to its current status.
type TransitionRecord struct {
	ID           string       `db:"id" json:"id"`
	SubjectID    string       `db:"subject_id" json:"subject_id"`
	FromStatus   Status       `db:"from_status" json:"from_status"`
	ToStatus     Status       `db:"to_status" json:"to_status"`
	Action       Action       `db:"action" json:"action"`
	ActingRole   WorkflowRole `db:"acting_role" json:"acting_role"`
	ActingUserID *string      `db:"acting_user_id" json:"acting_user_id,omitempty"`
	Comment      *string      `db:"comment" json:"comment,omitempty"`
	OccurredAt   time.Time    `db:"occurred_at" json:"occurred_at"`
}
