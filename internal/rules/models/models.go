// Package models holds the badge issuance rule domain types.
package models

import (
	"time"

	id "emblem/pkg/domain"
)

// Rule is one badge issuance rule owned by a tenant. Its predicate logic
// lives in versions; at most one version is active at a time.
type Rule struct {
	ID              id.RuleID
	TenantID        id.TenantID
	BadgeTemplateID id.BadgeTemplateID
	ActiveVersionID *id.RuleVersionID
}

// VersionStatus is the closed set of rule version states.
type VersionStatus string

const (
	VersionDraft           VersionStatus = "draft"
	VersionPendingApproval VersionStatus = "pending_approval"
	VersionApproved        VersionStatus = "approved"
	VersionRejected        VersionStatus = "rejected"
	VersionActive          VersionStatus = "active"
	VersionSuperseded      VersionStatus = "superseded"
)

// RuleVersion is one immutable, approvable snapshot of a rule's predicate
// definition. VersionNumber is monotonic per rule.
type RuleVersion struct {
	ID            id.RuleVersionID
	RuleID        id.RuleID
	VersionNumber int
	Status        VersionStatus
	Definition    Predicate
	CreatedBy     id.UserID
	ApprovedBy    *id.UserID
	ActivatedBy   *id.UserID
	CreatedAt     time.Time
}

// StepStatus is the closed set of approval step states.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// ApprovalStep is one rung of a version's approval ladder. Steps are strictly
// sequential: step n cannot be decided until steps 1..n-1 are approved.
type ApprovalStep struct {
	VersionID    id.RuleVersionID
	StepNumber   int
	RequiredRole Role
	Status       StepStatus
}

// ApprovalEvent is one immutable row of the approval audit trail. Steps show
// current per-step status; events show the ordered narrative.
type ApprovalEvent struct {
	VersionID  id.RuleVersionID
	ActorID    id.UserID
	ActorRole  Role
	Action     string
	StepNumber int
	Comment    string
	OccurredAt time.Time
}

// Approval event actions.
const (
	ActionSubmitted = "submitted"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionActivated = "activated"
)

// IssuanceStatus reports the issuance outcome of one evaluation.
type IssuanceStatus string

const (
	IssuanceNone          IssuanceStatus = "none"
	IssuanceIssued        IssuanceStatus = "issued"
	IssuanceAlreadyIssued IssuanceStatus = "already_issued"
	IssuanceFailed        IssuanceStatus = "failed"
	IssuanceSkippedDryRun IssuanceStatus = "skipped_dry_run"
)

// EvaluationRecord is the durable audit row for one evaluation attempt.
// Exactly one record is written per evaluation call, whatever the outcome.
type EvaluationRecord struct {
	ID            string
	RuleVersionID id.RuleVersionID
	LearnerID     id.LearnerID
	Matched       bool
	Issuance      IssuanceStatus
	AssertionID   *id.AssertionID
	Facts         FactSnapshot
	EvaluatedAt   time.Time
}
