package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/phd-adp-api/internal/dto"
	"github.com/noah-isme/phd-adp-api/internal/models"
	"github.com/noah-isme/phd-adp-api/internal/repository"
	appErrors "github.com/noah-isme/phd-adp-api/pkg/errors"
)

// fakeStore backs both the subject and transition store interfaces with an
// in-memory map. ApplyTransition honours the compare-and-swap contract so
// race scenarios behave like the real repository.
type fakeStore struct {
	subjects map[string]*models.Subject
	records  []models.TransitionRecord
	loseCAS  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{subjects: make(map[string]*models.Subject)}
}

func (f *fakeStore) Create(_ context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	copied := *subject
	f.subjects[subject.ID] = &copied
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*models.Subject, error) {
	subject, ok := f.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *subject
	return &copied, nil
}

func (f *fakeStore) List(_ context.Context, filter models.SubjectFilter) ([]models.Subject, error) {
	var out []models.Subject
	for _, s := range f.subjects {
		if filter.OwnerID != "" && s.OwnerID != filter.OwnerID {
			continue
		}
		if filter.DirectorID != "" && (s.DirectorID == nil || *s.DirectorID != filter.DirectorID) {
			continue
		}
		if filter.Type != "" && s.Type != filter.Type {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) AssignDirector(_ context.Context, id, directorID string) error {
	subject, ok := f.subjects[id]
	if !ok || subject.DirectorID != nil {
		return sql.ErrNoRows
	}
	subject.DirectorID = &directorID
	return nil
}

func (f *fakeStore) ApplyTransition(_ context.Context, expected models.Status, stage repository.StageUpdates, record *models.TransitionRecord) error {
	if f.loseCAS {
		f.loseCAS = false
		return sql.ErrNoRows
	}
	subject, ok := f.subjects[record.SubjectID]
	if !ok || subject.Status != expected {
		return sql.ErrNoRows
	}
	subject.Status = record.ToStatus
	applyStageToSubject(subject, stage)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeStore) HistoryFor(_ context.Context, subjectID string) ([]models.TransitionRecord, error) {
	var out []models.TransitionRecord
	for _, r := range f.records {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	events []TransitionEvent
}

func (f *fakeNotifier) Notify(event TransitionEvent) {
	f.events = append(f.events, event)
}

type fakeAudit struct {
	logs []models.AuditLog
}

func (f *fakeAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	f.logs = append(f.logs, *log)
	return nil
}

func claimsFor(userID string, role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: role}
}

func newTestWorkflow(t *testing.T, store *fakeStore, opts ...WorkflowServiceOption) *WorkflowService {
	t.Helper()
	return NewWorkflowService(store, store, models.DefaultRuleSet(), &fakeAudit{}, zap.NewNop(), opts...)
}

func seedSubject(store *fakeStore, subjectType models.SubjectType, status models.Status, ownerID string, directorID *string) *models.Subject {
	subject := &models.Subject{
		ID:         uuid.NewString(),
		Type:       subjectType,
		Status:     status,
		OwnerID:    ownerID,
		DirectorID: directorID,
		Title:      "Test dossier",
		CreatedAt:  time.Now().UTC(),
	}
	copied := *subject
	store.subjects[subject.ID] = &copied
	return subject
}

func TestCreateSubjectStartsInInitialStatus(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	owner := claimsFor("student-1", models.RoleDoctoralStudent)

	subject, err := svc.CreateSubject(context.Background(), dto.CreateSubjectRequest{
		Type:  models.SubjectInscription,
		Title: "Registration 2026",
	}, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, subject.Status)
	assert.Equal(t, "student-1", subject.OwnerID)
	assert.Nil(t, subject.SubmittedAt)

	candidacy, err := svc.CreateSubject(context.Background(), dto.CreateSubjectRequest{
		Type:  models.SubjectCandidacy,
		Title: "Application",
	}, claimsFor("candidate-1", models.RoleCandidate))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, candidacy.Status)
	assert.NotNil(t, candidacy.SubmittedAt)
}

func TestCreateSubjectOnBehalf(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)

	// Admins may open a candidacy for an applicant.
	subject, err := svc.CreateSubject(context.Background(), dto.CreateSubjectRequest{
		Type:    models.SubjectCandidacy,
		Title:   "Walk-in application",
		OwnerID: "candidate-9",
	}, claimsFor("admin-1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, "candidate-9", subject.OwnerID)

	// Nobody else may create records for other users.
	_, err = svc.CreateSubject(context.Background(), dto.CreateSubjectRequest{
		Type:    models.SubjectInscription,
		Title:   "Someone else's registration",
		OwnerID: "student-2",
	}, claimsFor("student-1", models.RoleDoctoralStudent))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestOwnerSubmitStampsSubmission(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	seeded := seedSubject(store, models.SubjectInscription, models.StatusDraft, "student-1", nil)

	res, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action: models.ActionSubmit,
	}, claimsFor("student-1", models.RoleDoctoralStudent))
	require.NoError(t, err)

	assert.Equal(t, models.StatusSubmitted, res.Subject.Status)
	require.NotNil(t, res.Subject.SubmittedAt)
	assert.Equal(t, models.WorkflowRoleOwner, res.Record.ActingRole)
	assert.Equal(t, models.StatusDraft, res.Record.FromStatus)
	assert.Equal(t, models.StatusSubmitted, res.Record.ToStatus)
	require.NotNil(t, res.Record.ActingUserID)
	assert.Equal(t, "student-1", *res.Record.ActingUserID)
}

func TestDirectorValidationRequiresAssignment(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	seeded := seedSubject(store, models.SubjectInscription, models.StatusSubmitted, "student-1", nil)

	_, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action: models.ActionValidateDirector,
	}, claimsFor("director-1", models.RoleDirector))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDirectorNotAssigned.Code, appErrors.FromError(err).Code)
}

func TestDirectorValidationScopedToAssignedDirector(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	director := "director-1"
	seeded := seedSubject(store, models.SubjectInscription, models.StatusSubmitted, "student-1", &director)

	// A different director holds no authority over this record.
	_, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action: models.ActionValidateDirector,
	}, claimsFor("director-2", models.RoleDirector))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	res, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action:  models.ActionValidateDirector,
		Comment: "OK",
	}, claimsFor("director-1", models.RoleDirector))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingAdmin, res.Subject.Status)
	require.NotNil(t, res.Subject.DirectorComment)
	assert.Equal(t, "OK", *res.Subject.DirectorComment)
	require.NotNil(t, res.Subject.DirectorDecisionAt)
}

func TestRejectionDemandsJustification(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	seeded := seedSubject(store, models.SubjectInscription, models.StatusPendingAdmin, "student-1", nil)
	admin := claimsFor("admin-1", models.RoleAdmin)

	_, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action: models.ActionRejectAdmin,
	}, admin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMissingJustification.Code, appErrors.FromError(err).Code)

	// Whitespace is not a motive.
	_, err = svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action:  models.ActionRejectAdmin,
		Comment: "   ",
	}, admin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMissingJustification.Code, appErrors.FromError(err).Code)

	res, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action:  models.ActionRejectAdmin,
		Comment: "Incomplete file",
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejectedAdmin, res.Subject.Status)
	require.NotNil(t, res.Subject.RejectionReason)
	assert.Equal(t, "Incomplete file", *res.Subject.RejectionReason)

	// The record is terminal now; nothing further applies.
	_, err = svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action:  models.ActionValidateAdmin,
		Comment: "changed my mind",
	}, admin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestUnsupportedActionAnswersInvalidTransition(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	seeded := seedSubject(store, models.SubjectInscription, models.StatusDraft, "student-1", nil)

	_, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action: models.ActionProposeJury,
	}, claimsFor("student-1", models.RoleDoctoralStudent))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestStaleExpectedStatus(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	director := "director-1"
	seeded := seedSubject(store, models.SubjectDerogation, models.StatusPendingDirector, "student-1", &director)

	// The caller's screen shows a different status than the database holds.
	_, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action:         models.ActionValidate,
		ExpectedStatus: models.StatusPendingAdmin,
	}, claimsFor("director-1", models.RoleDirector))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStaleSubject.Code, appErrors.FromError(err).Code)
}

func TestLostRaceSurfacesAsStale(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	svc := newTestWorkflow(t, store, WithNotifier(notifier))
	seeded := seedSubject(store, models.SubjectDerogation, models.StatusPendingAdmin, "student-1", nil)
	admin := claimsFor("admin-1", models.RoleAdmin)

	store.loseCAS = true
	_, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action: models.ActionApprove,
	}, admin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStaleSubject.Code, appErrors.FromError(err).Code)
	assert.Empty(t, notifier.events, "a lost race must not notify")

	res, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{
		Action: models.ActionApprove,
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, res.Subject.Status)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, seeded.ID, notifier.events[0].SubjectID)
	assert.Equal(t, models.ActionApprove, notifier.events[0].Action)
}

func TestSoutenanceFullChain(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	director := "director-1"
	seeded := seedSubject(store, models.SubjectSoutenance, models.StatusDraft, "student-1", &director)

	owner := claimsFor("student-1", models.RoleDoctoralStudent)
	dir := claimsFor("director-1", models.RoleDirector)
	admin := claimsFor("admin-1", models.RoleAdmin)

	steps := []struct {
		actor  *models.JWTClaims
		action models.Action
		to     models.Status
	}{
		{owner, models.ActionSubmit, models.StatusSubmitted},
		{dir, models.ActionValidatePrerequisites, models.StatusPrerequisitesValidated},
		{dir, models.ActionProposeJury, models.StatusJuryProposed},
		{admin, models.ActionPlanDefense, models.StatusPlanned},
		{admin, models.ActionAuthorize, models.StatusAuthorized},
		{admin, models.ActionComplete, models.StatusCompleted},
	}
	for _, step := range steps {
		res, err := svc.Attempt(context.Background(), seeded.ID, dto.TransitionRequest{Action: step.action}, step.actor)
		require.NoError(t, err, "action %s", step.action)
		assert.Equal(t, step.to, res.Subject.Status)
	}

	history, err := svc.History(context.Background(), seeded.ID, admin)
	require.NoError(t, err)
	require.Len(t, history, len(steps))

	// Replaying the log from the initial status lands on the final status.
	status := models.StatusDraft
	for _, record := range history {
		require.Equal(t, status, record.FromStatus)
		status = record.ToStatus
	}
	assert.Equal(t, models.StatusCompleted, status)
}

func TestLegalActionsFilterByActor(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	director := "director-1"
	seeded := seedSubject(store, models.SubjectDerogation, models.StatusPendingDirector, "student-1", &director)

	// The assigned director sees both the validation and the refusal.
	actions, err := svc.LegalActions(context.Background(), seeded.ID, claimsFor("director-1", models.RoleDirector))
	require.NoError(t, err)
	require.Len(t, actions, 2)

	// The owner can watch but holds no move at this stage.
	actions, err = svc.LegalActions(context.Background(), seeded.ID, claimsFor("student-1", models.RoleDoctoralStudent))
	require.NoError(t, err)
	assert.Empty(t, actions)

	// Strangers cannot even look.
	_, err = svc.LegalActions(context.Background(), seeded.ID, claimsFor("student-2", models.RoleDoctoralStudent))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestLegalActionsHideDirectorMovesUntilAssigned(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	seeded := seedSubject(store, models.SubjectDerogation, models.StatusPendingDirector, "student-1", nil)

	actions, err := svc.LegalActions(context.Background(), seeded.ID, claimsFor("admin-1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestListScopes(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	director := "director-1"
	seedSubject(store, models.SubjectInscription, models.StatusSubmitted, "student-1", &director)
	seedSubject(store, models.SubjectInscription, models.StatusDraft, "student-2", nil)

	all, err := svc.List(context.Background(), dto.SubjectQuery{}, claimsFor("admin-1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := svc.List(context.Background(), dto.SubjectQuery{}, claimsFor("student-1", models.RoleDoctoralStudent))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "student-1", mine[0].OwnerID)

	assigned, err := svc.List(context.Background(), dto.SubjectQuery{}, claimsFor("director-1", models.RoleDirector))
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	require.NotNil(t, assigned[0].DirectorID)
	assert.Equal(t, "director-1", *assigned[0].DirectorID)
}

func TestAssignDirector(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)
	seeded := seedSubject(store, models.SubjectInscription, models.StatusSubmitted, "student-1", nil)

	_, err := svc.AssignDirector(context.Background(), seeded.ID, dto.AssignDirectorRequest{DirectorID: "director-1"},
		claimsFor("director-1", models.RoleDirector))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	subject, err := svc.AssignDirector(context.Background(), seeded.ID, dto.AssignDirectorRequest{DirectorID: "director-1"},
		claimsFor("admin-1", models.RoleAdmin))
	require.NoError(t, err)
	require.NotNil(t, subject.DirectorID)
	assert.Equal(t, "director-1", *subject.DirectorID)

	// Reassignment through this path is a conflict.
	_, err = svc.AssignDirector(context.Background(), seeded.ID, dto.AssignDirectorRequest{DirectorID: "director-2"},
		claimsFor("admin-1", models.RoleAdmin))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestGetNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newTestWorkflow(t, store)

	_, err := svc.Get(context.Background(), "missing", claimsFor("admin-1", models.RoleAdmin))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
