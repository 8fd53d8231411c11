package models

import "time"

// SubjectType enumerates the record kinds that move through the approval
// workflow.
type SubjectType string

const (
	SubjectCandidacy   SubjectType = "CANDIDACY"
	SubjectInscription SubjectType = "INSCRIPTION"
	SubjectSoutenance  SubjectType = "SOUTENANCE"
	SubjectDerogation  SubjectType = "DEROGATION"
)

// Status is a workflow state. Each subject type has its own status set; the
// rule set in workflow.go is the single authority on which values are valid
// where.
type Status string

const (
	StatusDraft                  Status = "DRAFT"
	StatusSubmitted              Status = "SUBMITTED"
	StatusPendingDirector        Status = "PENDING_DIRECTOR"
	StatusPendingAdmin           Status = "PENDING_ADMIN"
	StatusAccepted               Status = "ACCEPTED"
	StatusAdmitted               Status = "ADMITTED"
	StatusRejected               Status = "REJECTED"
	StatusRejectedDirector       Status = "REJECTED_DIRECTOR"
	StatusRejectedAdmin          Status = "REJECTED_ADMIN"
	StatusPrerequisitesValidated Status = "PREREQUISITES_VALIDATED"
	StatusJuryProposed           Status = "JURY_PROPOSED"
	StatusPlanned                Status = "PLANNED"
	StatusAuthorized             Status = "AUTHORIZED"
	StatusCompleted              Status = "COMPLETED"
	StatusApproved               Status = "APPROVED"
	StatusRefused                Status = "REFUSED"
	StatusExpired                Status = "EXPIRED"
)

// Subject is a workflow-governed record. Status is mutated only through the
// workflow service's compare-and-swap path; justification fields and stage
// timestamps are written by the transition that produces them and never
// edited afterwards.
type Subject struct {
	ID         string      `db:"id" json:"id"`
	Type       SubjectType `db:"subject_type" json:"subject_type"`
	Status     Status      `db:"status" json:"status"`
	OwnerID    string      `db:"owner_id" json:"owner_id"`
	DirectorID *string     `db:"director_id" json:"director_id,omitempty"`
	Title      string      `db:"title" json:"title"`

	DirectorComment *string `db:"director_comment" json:"director_comment,omitempty"`
	AdminComment    *string `db:"admin_comment" json:"admin_comment,omitempty"`
	RejectionReason *string `db:"rejection_reason" json:"rejection_reason,omitempty"`

	SubmittedAt        *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	DirectorDecisionAt *time.Time `db:"director_decision_at" json:"director_decision_at,omitempty"`
	AdminDecisionAt    *time.Time `db:"admin_decision_at" json:"admin_decision_at,omitempty"`

	// Deadline applies to derogations only: past it, the expiry sweeper
	// moves the request to EXPIRED.
	Deadline *time.Time `db:"deadline" json:"deadline,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SubjectFilter constrains subject listing queries.
type SubjectFilter struct {
	Type       SubjectType
	Status     []Status
	OwnerID    string
	DirectorID string
	Limit      int
	Offset     int
}

// StatusCount aggregates subjects per type and status for the dashboard.
type StatusCount struct {
	Type   SubjectType `db:"subject_type" json:"subject_type"`
	Status Status      `db:"status" json:"status"`
	Count  int         `db:"count" json:"count"`
}
