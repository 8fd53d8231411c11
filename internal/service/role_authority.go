package service

import (
	"github.com/noah-isme/phd-adp-api/internal/models"
)

// ResolveRole answers which workflow role the actor holds towards the
// subject. Pure function of the claims and the subject's owner/director
// fields; admins are global, directors and owners are subject-scoped.
func ResolveRole(actor *models.JWTClaims, subject *models.Subject) models.WorkflowRole {
	if actor == nil || subject == nil {
		return models.WorkflowRoleNone
	}
	if actor.Role == models.RoleAdmin {
		return models.WorkflowRoleAdmin
	}
	if subject.DirectorID != nil && actor.UserID == *subject.DirectorID {
		return models.WorkflowRoleDirector
	}
	if actor.UserID == subject.OwnerID {
		return models.WorkflowRoleOwner
	}
	return models.WorkflowRoleNone
}

// Authorize reports whether the actor satisfies the role an edge requires.
// ADMIN is satisfied only by a global admin, DIRECTOR only by the assigned
// director, OWNER only by the subject's own owner. Roles never substitute
// for one another.
func Authorize(actor *models.JWTClaims, subject *models.Subject, required models.WorkflowRole) bool {
	if actor == nil || subject == nil {
		return false
	}
	switch required {
	case models.WorkflowRoleAdmin:
		return actor.Role == models.RoleAdmin
	case models.WorkflowRoleDirector:
		return subject.DirectorID != nil && actor.UserID == *subject.DirectorID
	case models.WorkflowRoleOwner:
		return actor.UserID == subject.OwnerID
	default:
		return false
	}
}

// canView gates read access: the owner, the assigned director and any admin
// may see a subject and its history.
func canView(actor *models.JWTClaims, subject *models.Subject) bool {
	return ResolveRole(actor, subject) != models.WorkflowRoleNone
}
