// Package store persists rules, rule versions, approval state, and
// evaluation records.
package store

import (
	"context"

	"emblem/internal/rules/models"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

// Lookup and guard failures surfaced by implementations.
var (
	ErrNotFound = dErrors.New(dErrors.CodeNotFound, "not found")

	// ErrStaleState is returned when an atomic transition's guard fails,
	// meaning a concurrent writer got there first. Callers surface it as a
	// conflict rather than silently overwriting.
	ErrStaleState = dErrors.New(dErrors.CodeConflict, "version state changed concurrently")
)

// Store persists rules and their versions. The three transition methods are
// atomic: guard check, row updates, and event append succeed or fail as one.
type Store interface {
	CreateRule(ctx context.Context, rule models.Rule) error
	FindRule(ctx context.Context, ruleID id.RuleID) (models.Rule, error)

	CreateVersion(ctx context.Context, version models.RuleVersion) error
	FindVersion(ctx context.Context, versionID id.RuleVersionID) (models.RuleVersion, error)
	ListVersions(ctx context.Context, ruleID id.RuleID) ([]models.RuleVersion, error)
	// NextVersionNumber returns the monotonic version number for a new
	// version of the rule, starting at 1.
	NextVersionNumber(ctx context.Context, ruleID id.RuleID) (int, error)

	ListSteps(ctx context.Context, versionID id.RuleVersionID) ([]models.ApprovalStep, error)
	ListEvents(ctx context.Context, versionID id.RuleVersionID) ([]models.ApprovalEvent, error)

	// Submit moves a draft version to pending_approval, instantiates its
	// approval steps, and appends the submitted event. Guard: status is
	// draft, else ErrStaleState.
	Submit(ctx context.Context, versionID id.RuleVersionID, steps []models.ApprovalStep, event models.ApprovalEvent) error

	// Decide records a step decision together with the version status change
	// it implies and the decision event. Guards: version status is
	// pending_approval and the step is still pending, else ErrStaleState.
	Decide(ctx context.Context, versionID id.RuleVersionID, stepNumber int, stepStatus models.StepStatus, versionStatus models.VersionStatus, event models.ApprovalEvent) error

	// Activate supersedes the rule's prior active version (if any), marks
	// this version active, sets the rule's active pointer, and appends the
	// activated event. Guard: status is approved, else ErrStaleState.
	Activate(ctx context.Context, versionID id.RuleVersionID, event models.ApprovalEvent) error
}

// EvaluationStore is the append-only log of evaluation records.
type EvaluationStore interface {
	Append(ctx context.Context, record models.EvaluationRecord) error
	ListByVersion(ctx context.Context, versionID id.RuleVersionID) ([]models.EvaluationRecord, error)
}
