package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuleSetBuilds(t *testing.T) {
	require.NotPanics(t, func() { DefaultRuleSet() })
}

func TestInitialStatuses(t *testing.T) {
	rs := DefaultRuleSet()

	cases := map[SubjectType]Status{
		SubjectCandidacy:   StatusSubmitted,
		SubjectInscription: StatusDraft,
		SubjectSoutenance:  StatusDraft,
		SubjectDerogation:  StatusPendingDirector,
	}
	for subjectType, want := range cases {
		got, ok := rs.InitialStatus(subjectType)
		require.True(t, ok, "missing initial status for %s", subjectType)
		assert.Equal(t, want, got)
	}

	_, ok := rs.InitialStatus(SubjectType("UNKNOWN"))
	assert.False(t, ok)
}

func TestCandidacyEdges(t *testing.T) {
	rs := DefaultRuleSet()

	rule, ok := rs.Lookup(SubjectCandidacy, StatusSubmitted, ActionValidateAdmin)
	require.True(t, ok)
	assert.Equal(t, StatusPendingDirector, rule.To)
	assert.Equal(t, WorkflowRoleAdmin, rule.Role)
	assert.False(t, rule.RequiresComment)

	rule, ok = rs.Lookup(SubjectCandidacy, StatusPendingDirector, ActionRejectDirector)
	require.True(t, ok)
	assert.Equal(t, StatusRejected, rule.To)
	assert.True(t, rule.RequiresComment)

	// Accepted is terminal for a candidacy.
	assert.True(t, rs.IsTerminal(SubjectCandidacy, StatusAccepted))
	assert.True(t, rs.IsTerminal(SubjectCandidacy, StatusRejected))

	// A director cannot act before the admin screening.
	_, ok = rs.Lookup(SubjectCandidacy, StatusSubmitted, ActionValidateDirector)
	assert.False(t, ok)
}

func TestInscriptionEdges(t *testing.T) {
	rs := DefaultRuleSet()

	path := []struct {
		from   Status
		action Action
		to     Status
		role   WorkflowRole
	}{
		{StatusDraft, ActionSubmit, StatusSubmitted, WorkflowRoleOwner},
		{StatusSubmitted, ActionValidateDirector, StatusPendingAdmin, WorkflowRoleDirector},
		{StatusPendingAdmin, ActionValidateAdmin, StatusAdmitted, WorkflowRoleAdmin},
	}
	for _, step := range path {
		rule, ok := rs.Lookup(SubjectInscription, step.from, step.action)
		require.True(t, ok, "missing edge %s/%s", step.from, step.action)
		assert.Equal(t, step.to, rule.To)
		assert.Equal(t, step.role, rule.Role)
	}

	rule, ok := rs.Lookup(SubjectInscription, StatusSubmitted, ActionRejectDirector)
	require.True(t, ok)
	assert.Equal(t, StatusRejectedDirector, rule.To)
	assert.True(t, rule.RequiresComment)

	rule, ok = rs.Lookup(SubjectInscription, StatusPendingAdmin, ActionRejectAdmin)
	require.True(t, ok)
	assert.Equal(t, StatusRejectedAdmin, rule.To)
	assert.True(t, rule.RequiresComment)

	assert.True(t, rs.IsTerminal(SubjectInscription, StatusAdmitted))
	assert.True(t, rs.IsTerminal(SubjectInscription, StatusRejectedDirector))
	assert.True(t, rs.IsTerminal(SubjectInscription, StatusRejectedAdmin))
}

func TestSoutenanceChain(t *testing.T) {
	rs := DefaultRuleSet()

	path := []struct {
		from   Status
		action Action
		to     Status
		role   WorkflowRole
	}{
		{StatusDraft, ActionSubmit, StatusSubmitted, WorkflowRoleOwner},
		{StatusSubmitted, ActionValidatePrerequisites, StatusPrerequisitesValidated, WorkflowRoleDirector},
		{StatusPrerequisitesValidated, ActionProposeJury, StatusJuryProposed, WorkflowRoleDirector},
		{StatusJuryProposed, ActionPlanDefense, StatusPlanned, WorkflowRoleAdmin},
		{StatusPlanned, ActionAuthorize, StatusAuthorized, WorkflowRoleAdmin},
		{StatusAuthorized, ActionComplete, StatusCompleted, WorkflowRoleAdmin},
	}
	for _, step := range path {
		rule, ok := rs.Lookup(SubjectSoutenance, step.from, step.action)
		require.True(t, ok, "missing edge %s/%s", step.from, step.action)
		assert.Equal(t, step.to, rule.To)
		assert.Equal(t, step.role, rule.Role)
		assert.False(t, rule.RequiresComment)
	}

	assert.True(t, rs.IsTerminal(SubjectSoutenance, StatusCompleted))
}

func TestDerogationEdges(t *testing.T) {
	rs := DefaultRuleSet()

	rule, ok := rs.Lookup(SubjectDerogation, StatusPendingDirector, ActionValidate)
	require.True(t, ok)
	assert.Equal(t, StatusPendingAdmin, rule.To)

	for _, from := range []Status{StatusPendingDirector, StatusPendingAdmin} {
		rule, ok := rs.Lookup(SubjectDerogation, from, ActionRefuse)
		require.True(t, ok, "missing refusal edge from %s", from)
		assert.Equal(t, StatusRefused, rule.To)
		assert.True(t, rule.RequiresComment, "refusal from %s must demand a motive", from)
	}

	// Expiry is driven by the sweeper, never by a role action.
	_, ok = rs.Lookup(SubjectDerogation, StatusPendingDirector, ActionExpire)
	assert.False(t, ok)
	_, ok = rs.Lookup(SubjectDerogation, StatusPendingAdmin, ActionExpire)
	assert.False(t, ok)
	assert.True(t, rs.IsTerminal(SubjectDerogation, StatusExpired))
}

func TestEveryStatusAwaitsOneActor(t *testing.T) {
	rs := DefaultRuleSet()
	for _, subjectType := range []SubjectType{SubjectCandidacy, SubjectInscription, SubjectSoutenance, SubjectDerogation} {
		byStatus := rs.outgoing[subjectType]
		for status, rules := range byStatus {
			for _, rule := range rules {
				assert.Equal(t, rules[0].Role, rule.Role,
					"%s status %s has edges for more than one role", subjectType, status)
			}
		}
	}
}

func TestNewRuleSetRejectsDuplicateEdge(t *testing.T) {
	rules := []TransitionRule{
		{SubjectDerogation, StatusPendingDirector, ActionValidate, WorkflowRoleDirector, StatusPendingAdmin, false},
		{SubjectDerogation, StatusPendingDirector, ActionValidate, WorkflowRoleDirector, StatusApproved, false},
	}
	_, err := NewRuleSet(rules, DefaultInitialStatuses())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNewRuleSetRejectsAmbiguousActor(t *testing.T) {
	rules := []TransitionRule{
		{SubjectDerogation, StatusPendingDirector, ActionValidate, WorkflowRoleDirector, StatusPendingAdmin, false},
		{SubjectDerogation, StatusPendingDirector, ActionApprove, WorkflowRoleAdmin, StatusApproved, false},
	}
	_, err := NewRuleSet(rules, DefaultInitialStatuses())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestNewRuleSetRejectsSystemActor(t *testing.T) {
	rules := []TransitionRule{
		{SubjectDerogation, StatusPendingDirector, ActionExpire, WorkflowRoleSystem, StatusExpired, false},
	}
	_, err := NewRuleSet(rules, DefaultInitialStatuses())
	require.Error(t, err)
}

func TestNewRuleSetRequiresInitialStatus(t *testing.T) {
	rules := []TransitionRule{
		{SubjectDerogation, StatusPendingDirector, ActionValidate, WorkflowRoleDirector, StatusPendingAdmin, false},
	}
	_, err := NewRuleSet(rules, map[SubjectType]Status{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial status")
}
