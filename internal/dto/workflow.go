package dto

import (
	"time"

	"github.com/noah-isme/phd-adp-api/internal/models"
)

// CreateSubjectRequest opens a new workflow-governed record.
type CreateSubjectRequest struct {
	Type     models.SubjectType `json:"type" validate:"required"`
	Title    string             `json:"title" validate:"required"`
	OwnerID  string             `json:"owner_id"`
	Deadline *time.Time         `json:"deadline,omitempty"`
}

// AssignDirectorRequest attaches a director to a subject.
type AssignDirectorRequest struct {
	DirectorID string `json:"director_id" validate:"required"`
}

// TransitionRequest asks the engine to apply one workflow action.
// ExpectedStatus is optional: when set, a mismatch with the freshly loaded
// subject answers STALE_SUBJECT without touching the database.
type TransitionRequest struct {
	Action         models.Action `json:"action" validate:"required"`
	Comment        string        `json:"comment"`
	ExpectedStatus models.Status `json:"expected_status"`
}

// TransitionResponse reports the applied move.
type TransitionResponse struct {
	Subject *models.Subject          `json:"subject"`
	Record  *models.TransitionRecord `json:"record"`
}

// ActionOption is one legal move offered to the calling actor. Advisory
// only: the engine re-validates on submission.
type ActionOption struct {
	Action          models.Action `json:"action"`
	ToStatus        models.Status `json:"to_status"`
	RequiresComment bool          `json:"requires_comment"`
}

// SubjectQuery filters subject listings.
type SubjectQuery struct {
	Type   models.SubjectType
	Status []models.Status
	Limit  int
	Offset int
}
