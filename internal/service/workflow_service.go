package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/phd-adp-api/internal/dto"
	"github.com/noah-isme/phd-adp-api/internal/models"
	"github.com/noah-isme/phd-adp-api/internal/repository"
	appErrors "github.com/noah-isme/phd-adp-api/pkg/errors"
)

type subjectStore interface {
	Create(ctx context.Context, subject *models.Subject) error
	GetByID(ctx context.Context, id string) (*models.Subject, error)
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, error)
	AssignDirector(ctx context.Context, id, directorID string) error
	ApplyTransition(ctx context.Context, expected models.Status, stage repository.StageUpdates, record *models.TransitionRecord) error
}

type transitionStore interface {
	HistoryFor(ctx context.Context, subjectID string) ([]models.TransitionRecord, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Notifier is informed of each successfully applied transition. Delivery is
// fire-and-forget: failures must never fail the transition.
type Notifier interface {
	Notify(event TransitionEvent)
}

// TransitionEvent describes an applied transition for downstream consumers.
type TransitionEvent struct {
	SubjectID   string             `json:"subject_id"`
	SubjectType models.SubjectType `json:"subject_type"`
	FromStatus  models.Status      `json:"from_status"`
	ToStatus    models.Status      `json:"to_status"`
	Action      models.Action      `json:"action"`
	OwnerID     string             `json:"owner_id"`
}

// WorkflowService is the single authority for moving subjects between
// statuses. Every transition attempt is re-validated here regardless of what
// the UI offered; UI action hints are advisory only.
type WorkflowService struct {
	subjects    subjectStore
	transitions transitionStore
	rules       *models.RuleSet
	notifier    Notifier
	audit       auditLogger
	metrics     *MetricsService
	logger      *zap.Logger
}

// WorkflowServiceOption configures the service.
type WorkflowServiceOption func(*WorkflowService)

// WithNotifier attaches a transition notifier.
func WithNotifier(n Notifier) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithWorkflowMetrics attaches transition counters.
func WithWorkflowMetrics(m *MetricsService) WorkflowServiceOption {
	return func(s *WorkflowService) { s.metrics = m }
}

// NewWorkflowService constructs the workflow engine service.
func NewWorkflowService(subjects subjectStore, transitions transitionStore, rules *models.RuleSet, audit auditLogger, logger *zap.Logger, opts ...WorkflowServiceOption) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rules == nil {
		rules = models.DefaultRuleSet()
	}
	svc := &WorkflowService{
		subjects:    subjects,
		transitions: transitions,
		rules:       rules,
		audit:       audit,
		logger:      logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreateSubject opens a new record in its type's initial status. Candidates
// and doctoral students create their own subjects; admins may create a
// candidacy on behalf of an applicant (the registration desk flow).
func (s *WorkflowService) CreateSubject(ctx context.Context, req dto.CreateSubjectRequest, actor *models.JWTClaims) (*models.Subject, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	initial, ok := s.rules.InitialStatus(req.Type)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported subject type")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}

	ownerID := actor.UserID
	if req.OwnerID != "" && req.OwnerID != actor.UserID {
		if actor.Role != models.RoleAdmin || req.Type != models.SubjectCandidacy {
			return nil, appErrors.ErrForbidden
		}
		ownerID = req.OwnerID
	}

	subject := &models.Subject{
		Type:     req.Type,
		Status:   initial,
		OwnerID:  ownerID,
		Title:    strings.TrimSpace(req.Title),
		Deadline: req.Deadline,
	}
	if initial == models.StatusSubmitted {
		now := time.Now().UTC()
		subject.SubmittedAt = &now
	}
	if err := s.subjects.Create(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to create subject")
	}

	s.emitAudit(ctx, actor.UserID, models.AuditActionSubjectCreate, subject.ID, map[string]interface{}{
		"subject_type": subject.Type,
		"status":       subject.Status,
		"owner_id":     subject.OwnerID,
	})
	return subject, nil
}

// Get returns a subject, enforcing read scope.
func (s *WorkflowService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Subject, error) {
	subject, err := s.loadSubject(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, subject) {
		return nil, appErrors.ErrForbidden
	}
	return subject, nil
}

// List returns subjects visible to the actor: admins see everything,
// directors their assigned subjects, everyone else their own.
func (s *WorkflowService) List(ctx context.Context, query dto.SubjectQuery, actor *models.JWTClaims) ([]models.Subject, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.SubjectFilter{
		Type:   query.Type,
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	switch actor.Role {
	case models.RoleAdmin:
		// full access
	case models.RoleDirector:
		filter.DirectorID = actor.UserID
	default:
		filter.OwnerID = actor.UserID
	}
	subjects, err := s.subjects.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list subjects")
	}
	return subjects, nil
}

// AssignDirector attaches a director to a subject that has none. Admin only;
// changing an assigned director is not supported through this path.
func (s *WorkflowService) AssignDirector(ctx context.Context, id string, req dto.AssignDirectorRequest, actor *models.JWTClaims) (*models.Subject, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if strings.TrimSpace(req.DirectorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "director_id is required")
	}
	if err := s.subjects.AssignDirector(ctx, id, req.DirectorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "subject not found or director already assigned")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to assign director")
	}
	subject, err := s.loadSubject(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionDirectorAssign, id, map[string]interface{}{
		"director_id": req.DirectorID,
	})
	return subject, nil
}

// Attempt applies one workflow action to a subject. Precondition order:
// edge exists for (type, status, action) → actor holds the required role →
// director assigned where the edge needs one → rejection carries a motive.
// The status swap is a compare-and-swap; a lost race surfaces as
// STALE_SUBJECT and is never retried here, so the notifier fires at most
// once per applied transition.
func (s *WorkflowService) Attempt(ctx context.Context, subjectID string, req dto.TransitionRequest, actor *models.JWTClaims) (*dto.TransitionResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	subject, err := s.loadSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	record, stage, aerr := s.evaluate(subject, req, actor)
	if aerr != nil {
		s.observeOutcome(subject.Type, req.Action, aerr)
		s.emitAudit(ctx, actor.UserID, models.AuditActionTransitionRejected, subject.ID, map[string]interface{}{
			"action": req.Action,
			"status": subject.Status,
			"error":  aerr.Code,
		})
		return nil, aerr
	}

	if err := s.subjects.ApplyTransition(ctx, subject.Status, stage, record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			stale := appErrors.ErrStaleSubject
			s.observeOutcome(subject.Type, req.Action, stale)
			return nil, stale
		}
		s.observeOutcome(subject.Type, req.Action, appErrors.ErrStorage)
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to apply transition")
	}

	subject.Status = record.ToStatus
	subject.UpdatedAt = record.OccurredAt
	applyStageToSubject(subject, stage)

	s.observeOutcome(subject.Type, req.Action, nil)
	s.notify(TransitionEvent{
		SubjectID:   subject.ID,
		SubjectType: subject.Type,
		FromStatus:  record.FromStatus,
		ToStatus:    record.ToStatus,
		Action:      record.Action,
		OwnerID:     subject.OwnerID,
	})
	s.emitAudit(ctx, actor.UserID, models.AuditActionTransitionApplied, subject.ID, map[string]interface{}{
		"action":      record.Action,
		"from_status": record.FromStatus,
		"to_status":   record.ToStatus,
	})

	return &dto.TransitionResponse{Subject: subject, Record: record}, nil
}

// evaluate runs the pure decision part of a transition attempt against a
// freshly loaded subject. No side effects.
func (s *WorkflowService) evaluate(subject *models.Subject, req dto.TransitionRequest, actor *models.JWTClaims) (*models.TransitionRecord, repository.StageUpdates, *appErrors.Error) {
	var stage repository.StageUpdates

	if !s.rules.Supports(subject.Type, req.Action) {
		return nil, stage, appErrors.Clone(appErrors.ErrInvalidTransition, "action not supported for this record")
	}
	rule, ok := s.rules.Lookup(subject.Type, subject.Status, req.Action)
	if !ok {
		return nil, stage, appErrors.ErrInvalidTransition
	}
	if rule.Role == models.WorkflowRoleDirector && subject.DirectorID == nil {
		return nil, stage, appErrors.ErrDirectorNotAssigned
	}
	if !Authorize(actor, subject, rule.Role) {
		return nil, stage, appErrors.ErrForbidden
	}
	comment := strings.TrimSpace(req.Comment)
	if rule.RequiresComment && comment == "" {
		return nil, stage, appErrors.ErrMissingJustification
	}
	if req.ExpectedStatus != "" && req.ExpectedStatus != subject.Status {
		return nil, stage, appErrors.ErrStaleSubject
	}

	now := time.Now().UTC()
	record := &models.TransitionRecord{
		SubjectID:    subject.ID,
		FromStatus:   subject.Status,
		ToStatus:     rule.To,
		Action:       rule.Action,
		ActingRole:   rule.Role,
		ActingUserID: &actor.UserID,
		OccurredAt:   now,
	}
	if comment != "" {
		record.Comment = &comment
	}

	// Stage fields are written exactly once, by the transition that fires
	// them.
	switch rule.Role {
	case models.WorkflowRoleOwner:
		if subject.SubmittedAt == nil {
			stage.SubmittedAt = &now
		}
	case models.WorkflowRoleDirector:
		if subject.DirectorDecisionAt == nil {
			stage.DirectorDecisionAt = &now
		}
		if rule.RequiresComment {
			stage.RejectionReason = &comment
		} else if comment != "" {
			stage.DirectorComment = &comment
		}
	case models.WorkflowRoleAdmin:
		if subject.AdminDecisionAt == nil {
			stage.AdminDecisionAt = &now
		}
		if rule.RequiresComment {
			stage.RejectionReason = &comment
		} else if comment != "" {
			stage.AdminComment = &comment
		}
	}

	return record, stage, nil
}

// LegalActions lists the moves the actor could request right now. Advisory:
// the engine re-validates on submission.
func (s *WorkflowService) LegalActions(ctx context.Context, subjectID string, actor *models.JWTClaims) ([]dto.ActionOption, error) {
	subject, err := s.loadSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, subject) {
		return nil, appErrors.ErrForbidden
	}
	rules := s.rules.OutgoingRules(subject.Type, subject.Status)
	options := make([]dto.ActionOption, 0, len(rules))
	for _, rule := range rules {
		if rule.Role == models.WorkflowRoleDirector && subject.DirectorID == nil {
			continue
		}
		if !Authorize(actor, subject, rule.Role) {
			continue
		}
		options = append(options, dto.ActionOption{
			Action:          rule.Action,
			ToStatus:        rule.To,
			RequiresComment: rule.RequiresComment,
		})
	}
	return options, nil
}

// History returns the ordered transition log of a subject.
func (s *WorkflowService) History(ctx context.Context, subjectID string, actor *models.JWTClaims) ([]models.TransitionRecord, error) {
	subject, err := s.loadSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, subject) {
		return nil, appErrors.ErrForbidden
	}
	records, err := s.transitions.HistoryFor(ctx, subjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load history")
	}
	return records, nil
}

// Rules exposes the rule set for read-side consumers.
func (s *WorkflowService) Rules() *models.RuleSet {
	return s.rules
}

func (s *WorkflowService) loadSubject(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.subjects.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load subject")
	}
	return subject, nil
}

func (s *WorkflowService) notify(event TransitionEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(event)
}

func (s *WorkflowService) observeOutcome(t models.SubjectType, action models.Action, err *appErrors.Error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveTransition(t, action, err)
}

func (s *WorkflowService) emitAudit(ctx context.Context, userID, action, resourceID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	values, _ := json.Marshal(payload)
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "subject",
		ResourceID: &resourceID,
		NewValues:  values,
		IPAddress:  "system",
		UserAgent:  "workflow-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func applyStageToSubject(subject *models.Subject, stage repository.StageUpdates) {
	if stage.SubmittedAt != nil {
		subject.SubmittedAt = stage.SubmittedAt
	}
	if stage.DirectorDecisionAt != nil {
		subject.DirectorDecisionAt = stage.DirectorDecisionAt
	}
	if stage.AdminDecisionAt != nil {
		subject.AdminDecisionAt = stage.AdminDecisionAt
	}
	if stage.DirectorComment != nil {
		subject.DirectorComment = stage.DirectorComment
	}
	if stage.AdminComment != nil {
		subject.AdminComment = stage.AdminComment
	}
	if stage.RejectionReason != nil {
		subject.RejectionReason = stage.RejectionReason
	}
}
