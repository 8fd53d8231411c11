package models

import "fmt"

// TransitionRule is one edge of a subject type's state machine: who may move
// a subject from one status to another, and whether the move demands a
// justification comment.
type TransitionRule struct {
	SubjectType     SubjectType
	From            Status
	Action          Action
	Role            WorkflowRole
	To              Status
	RequiresComment bool
}

type ruleKey struct {
	subjectType SubjectType
	from        Status
	action      Action
}

// RuleSet indexes transition rules for lookup. Construction validates the
// table: duplicate edges and statuses awaiting more than one actor are
// configuration errors, caught at load time rather than at request time.
type RuleSet struct {
	rules    map[ruleKey]TransitionRule
	outgoing map[SubjectType]map[Status][]TransitionRule
	initial  map[SubjectType]Status
}

// NewRuleSet builds a validated rule index from a transition table and the
// per-type initial statuses.
func NewRuleSet(rules []TransitionRule, initial map[SubjectType]Status) (*RuleSet, error) {
	rs := &RuleSet{
		rules:    make(map[ruleKey]TransitionRule, len(rules)),
		outgoing: make(map[SubjectType]map[Status][]TransitionRule),
		initial:  make(map[SubjectType]Status, len(initial)),
	}
	for t, s := range initial {
		rs.initial[t] = s
	}

	for _, rule := range rules {
		if rule.SubjectType == "" || rule.From == "" || rule.Action == "" || rule.To == "" {
			return nil, fmt.Errorf("incomplete transition rule: %+v", rule)
		}
		if rule.Role == "" || rule.Role == WorkflowRoleNone || rule.Role == WorkflowRoleSystem {
			return nil, fmt.Errorf("transition rule %s/%s/%s must require an actor role", rule.SubjectType, rule.From, rule.Action)
		}
		key := ruleKey{rule.SubjectType, rule.From, rule.Action}
		if _, exists := rs.rules[key]; exists {
			return nil, fmt.Errorf("duplicate transition rule: %s from %s action %s", rule.SubjectType, rule.From, rule.Action)
		}
		rs.rules[key] = rule

		byStatus := rs.outgoing[rule.SubjectType]
		if byStatus == nil {
			byStatus = make(map[Status][]TransitionRule)
			rs.outgoing[rule.SubjectType] = byStatus
		}
		// Each non-terminal status awaits exactly one actor: every outgoing
		// edge must require the same role.
		for _, sibling := range byStatus[rule.From] {
			if sibling.Role != rule.Role {
				return nil, fmt.Errorf("ambiguous actor for %s status %s: %s vs %s", rule.SubjectType, rule.From, sibling.Role, rule.Role)
			}
		}
		byStatus[rule.From] = append(byStatus[rule.From], rule)
	}

	for t := range rs.outgoing {
		if _, ok := rs.initial[t]; !ok {
			return nil, fmt.Errorf("no initial status declared for subject type %s", t)
		}
	}

	return rs, nil
}

// Lookup returns the rule for the requested move, if any edge exists.
func (rs *RuleSet) Lookup(t SubjectType, from Status, action Action) (TransitionRule, bool) {
	rule, ok := rs.rules[ruleKey{t, from, action}]
	return rule, ok
}

// Supports reports whether the subject type declares the action on any edge.
func (rs *RuleSet) Supports(t SubjectType, action Action) bool {
	for key := range rs.rules {
		if key.subjectType == t && key.action == action {
			return true
		}
	}
	return false
}

// OutgoingRules lists the declared edges from a status. Empty for terminal
// statuses and unknown inputs.
func (rs *RuleSet) OutgoingRules(t SubjectType, from Status) []TransitionRule {
	byStatus := rs.outgoing[t]
	if byStatus == nil {
		return nil
	}
	return byStatus[from]
}

// IsTerminal reports whether a status has no outgoing edges.
func (rs *RuleSet) IsTerminal(t SubjectType, status Status) bool {
	return len(rs.OutgoingRules(t, status)) == 0
}

// InitialStatus returns the status a freshly created subject starts in.
func (rs *RuleSet) InitialStatus(t SubjectType) (Status, bool) {
	s, ok := rs.initial[t]
	return s, ok
}

// DefaultInitialStatuses maps each subject type to its creation status.
// Candidacies enter the pipeline already submitted (the registration process
// creates them); the others start as drafts or awaiting their first reviewer.
func DefaultInitialStatuses() map[SubjectType]Status {
	return map[SubjectType]Status{
		SubjectCandidacy:   StatusSubmitted,
		SubjectInscription: StatusDraft,
		SubjectSoutenance:  StatusDraft,
		SubjectDerogation:  StatusPendingDirector,
	}
}

// DefaultRules returns the canonical transition tables for the four subject
// types. This table is the single source of truth: handlers and UI hints all
// derive from it.
func DefaultRules() []TransitionRule {
	return []TransitionRule{
		// Candidacy: admin screens the file, then the prospective director
		// accepts or declines supervision.
		{SubjectCandidacy, StatusSubmitted, ActionValidateAdmin, WorkflowRoleAdmin, StatusPendingDirector, false},
		{SubjectCandidacy, StatusSubmitted, ActionRejectAdmin, WorkflowRoleAdmin, StatusRejected, true},
		{SubjectCandidacy, StatusPendingDirector, ActionValidateDirector, WorkflowRoleDirector, StatusAccepted, false},
		{SubjectCandidacy, StatusPendingDirector, ActionRejectDirector, WorkflowRoleDirector, StatusRejected, true},

		// Inscription (yearly re-registration): student submits, director
		// endorses, administration admits.
		{SubjectInscription, StatusDraft, ActionSubmit, WorkflowRoleOwner, StatusSubmitted, false},
		{SubjectInscription, StatusSubmitted, ActionValidateDirector, WorkflowRoleDirector, StatusPendingAdmin, false},
		{SubjectInscription, StatusSubmitted, ActionRejectDirector, WorkflowRoleDirector, StatusRejectedDirector, true},
		{SubjectInscription, StatusPendingAdmin, ActionValidateAdmin, WorkflowRoleAdmin, StatusAdmitted, false},
		{SubjectInscription, StatusPendingAdmin, ActionRejectAdmin, WorkflowRoleAdmin, StatusRejectedAdmin, true},

		// Soutenance (defense request): director owns prerequisites and jury,
		// administration owns planning, authorization and the recorded outcome.
		{SubjectSoutenance, StatusDraft, ActionSubmit, WorkflowRoleOwner, StatusSubmitted, false},
		{SubjectSoutenance, StatusSubmitted, ActionValidatePrerequisites, WorkflowRoleDirector, StatusPrerequisitesValidated, false},
		{SubjectSoutenance, StatusSubmitted, ActionRejectDirector, WorkflowRoleDirector, StatusRejected, true},
		{SubjectSoutenance, StatusPrerequisitesValidated, ActionProposeJury, WorkflowRoleDirector, StatusJuryProposed, false},
		{SubjectSoutenance, StatusJuryProposed, ActionPlanDefense, WorkflowRoleAdmin, StatusPlanned, false},
		{SubjectSoutenance, StatusPlanned, ActionAuthorize, WorkflowRoleAdmin, StatusAuthorized, false},
		{SubjectSoutenance, StatusAuthorized, ActionComplete, WorkflowRoleAdmin, StatusCompleted, false},

		// Derogation (exemption request): director then admin; refusal
		// requires a motive at both stages. EXPIRED is reached only by the
		// time-based sweeper, so it has no edge here.
		{SubjectDerogation, StatusPendingDirector, ActionValidate, WorkflowRoleDirector, StatusPendingAdmin, false},
		{SubjectDerogation, StatusPendingDirector, ActionRefuse, WorkflowRoleDirector, StatusRefused, true},
		{SubjectDerogation, StatusPendingAdmin, ActionApprove, WorkflowRoleAdmin, StatusApproved, false},
		{SubjectDerogation, StatusPendingAdmin, ActionRefuse, WorkflowRoleAdmin, StatusRefused, true},
	}
}

// DefaultRuleSet builds the canonical rule set, panicking on a broken table.
// The table is compiled in, so a failure here is a programming error.
func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(DefaultRules(), DefaultInitialStatuses())
	if err != nil {
		panic(err)
	}
	return rs
}
