// Package service implements the rule approval workflow and the
// predicate evaluation engine.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"emblem/internal/platform/metrics"
	"emblem/internal/rules/models"
	"emblem/internal/rules/store"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
	"emblem/pkg/platform/audit"
)

// AuditPublisher emits audit events for workflow actions. Fire-and-forget:
// a failure here never blocks a transition.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Actor identifies who is performing a workflow action and with which role.
type Actor struct {
	ID   id.UserID
	Role models.Role
}

// defaultApprovalLadder is the step ladder instantiated at submission when a
// tenant carries no bespoke ladder: a single admin sign-off.
var defaultApprovalLadder = []models.ApprovalStep{
	{StepNumber: 1, RequiredRole: models.RoleAdmin, Status: models.StepPending},
}

// Workflow drives the rule version approval state machine. All transitions
// delegate their guards to the store so concurrent actors race on atomic
// conditional updates, not on read-then-write.
type Workflow struct {
	rules   store.Store
	auditor AuditPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// WorkflowOption configures the Workflow service.
type WorkflowOption func(*Workflow)

// WithWorkflowMetrics sets the metrics collector.
func WithWorkflowMetrics(m *metrics.Metrics) WorkflowOption {
	return func(s *Workflow) { s.metrics = m }
}

// WithWorkflowLogger sets the logger.
func WithWorkflowLogger(l *slog.Logger) WorkflowOption {
	return func(s *Workflow) { s.logger = l }
}

// WithWorkflowClock overrides the time source for deterministic tests.
func WithWorkflowClock(now func() time.Time) WorkflowOption {
	return func(s *Workflow) { s.now = now }
}

// NewWorkflow creates the approval workflow service.
func NewWorkflow(rules store.Store, auditor AuditPublisher, opts ...WorkflowOption) *Workflow {
	if rules == nil {
		panic("service.NewWorkflow: rule store is required")
	}

	s := &Workflow{
		rules:   rules,
		auditor: auditor,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRule registers a new rule for a tenant and badge template. The rule
// starts with no versions and no active version.
func (s *Workflow) CreateRule(ctx context.Context, tenantID id.TenantID, badgeTemplateID id.BadgeTemplateID) (models.Rule, error) {
	if tenantID.IsNil() {
		return models.Rule{}, dErrors.New(dErrors.CodeValidation, "tenant ID is required")
	}
	if badgeTemplateID.IsNil() {
		return models.Rule{}, dErrors.New(dErrors.CodeValidation, "badge template ID is required")
	}

	rule := models.Rule{
		ID:              id.NewRuleID(),
		TenantID:        tenantID,
		BadgeTemplateID: badgeTemplateID,
	}
	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return models.Rule{}, dErrors.Wrap(err, dErrors.CodeInternal, "create rule")
	}
	return rule, nil
}

// CreateVersion adds a new draft version of a rule. The predicate definition
// is validated before anything is written; the version number is the next in
// the rule's monotonic sequence.
func (s *Workflow) CreateVersion(ctx context.Context, ruleID id.RuleID, definition models.Predicate, actor Actor) (models.RuleVersion, error) {
	if err := definition.Validate(); err != nil {
		return models.RuleVersion{}, err
	}

	rule, err := s.rules.FindRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.RuleVersion{}, dErrors.New(dErrors.CodeNotFound, "rule "+ruleID.String()+" not found")
		}
		return models.RuleVersion{}, dErrors.Wrap(err, dErrors.CodeInternal, "load rule")
	}

	number, err := s.rules.NextVersionNumber(ctx, ruleID)
	if err != nil {
		return models.RuleVersion{}, dErrors.Wrap(err, dErrors.CodeInternal, "allocate version number")
	}

	version := models.RuleVersion{
		ID:            id.NewRuleVersionID(),
		RuleID:        ruleID,
		VersionNumber: number,
		Status:        models.VersionDraft,
		Definition:    definition,
		CreatedBy:     actor.ID,
		CreatedAt:     s.now(),
	}
	if err := s.rules.CreateVersion(ctx, version); err != nil {
		return models.RuleVersion{}, dErrors.Wrap(err, dErrors.CodeInternal, "create rule version")
	}

	s.emit(ctx, rule.TenantID, version, actor, audit.ActionRuleVersionCreated, nil)
	return version, nil
}

// SubmitForApproval moves a draft version to pending_approval and
// instantiates its approval step ladder.
func (s *Workflow) SubmitForApproval(ctx context.Context, versionID id.RuleVersionID, actor Actor) (models.RuleVersion, error) {
	version, tenantID, err := s.findVersion(ctx, versionID)
	if err != nil {
		return models.RuleVersion{}, err
	}
	if version.Status != models.VersionDraft {
		return models.RuleVersion{}, dErrors.New(dErrors.CodeConflict,
			"only draft versions can be submitted, version is "+string(version.Status))
	}

	steps := make([]models.ApprovalStep, len(defaultApprovalLadder))
	copy(steps, defaultApprovalLadder)
	for i := range steps {
		steps[i].VersionID = versionID
	}

	event := models.ApprovalEvent{
		VersionID:  versionID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     models.ActionSubmitted,
		OccurredAt: s.now(),
	}
	if err := s.rules.Submit(ctx, versionID, steps, event); err != nil {
		return models.RuleVersion{}, err
	}

	version.Status = models.VersionPendingApproval
	s.emit(ctx, tenantID, version, actor, audit.ActionRuleSubmitted, nil)
	return version, nil
}

// DecisionRequest carries one approve/reject decision on the current step.
type DecisionRequest struct {
	VersionID id.RuleVersionID
	Approve   bool
	Comment   string
	Actor     Actor
}

// Decide applies an approval decision to the version's current step, meaning
// the lowest-numbered pending step. The actor's role must meet the step's
// required role. A rejection is terminal for the version; approving the last
// step moves the version to approved.
func (s *Workflow) Decide(ctx context.Context, req DecisionRequest) (models.RuleVersion, error) {
	version, tenantID, err := s.findVersion(ctx, req.VersionID)
	if err != nil {
		return models.RuleVersion{}, err
	}
	if version.Status != models.VersionPendingApproval {
		return models.RuleVersion{}, dErrors.New(dErrors.CodeConflict,
			"version is not pending approval, it is "+string(version.Status))
	}

	steps, err := s.rules.ListSteps(ctx, req.VersionID)
	if err != nil {
		return models.RuleVersion{}, dErrors.Wrap(err, dErrors.CodeInternal, "list approval steps")
	}
	current, remaining := currentStep(steps)
	if current == nil {
		return models.RuleVersion{}, dErrors.New(dErrors.CodeConflict, "no pending approval step")
	}
	if !req.Actor.Role.Meets(current.RequiredRole) {
		return models.RuleVersion{}, dErrors.New(dErrors.CodeForbidden,
			"step "+strconv.Itoa(current.StepNumber)+" requires role "+string(current.RequiredRole))
	}

	stepStatus := models.StepApproved
	versionStatus := models.VersionPendingApproval
	action := models.ActionApproved
	if !req.Approve {
		stepStatus = models.StepRejected
		versionStatus = models.VersionRejected
		action = models.ActionRejected
	} else if remaining == 1 {
		// Approving the last pending step completes the ladder.
		versionStatus = models.VersionApproved
	}

	event := models.ApprovalEvent{
		VersionID:  req.VersionID,
		ActorID:    req.Actor.ID,
		ActorRole:  req.Actor.Role,
		Action:     action,
		StepNumber: current.StepNumber,
		Comment:    req.Comment,
		OccurredAt: s.now(),
	}
	if err := s.rules.Decide(ctx, req.VersionID, current.StepNumber, stepStatus, versionStatus, event); err != nil {
		return models.RuleVersion{}, err
	}

	version.Status = versionStatus
	if versionStatus == models.VersionApproved {
		actorID := req.Actor.ID
		version.ApprovedBy = &actorID
	}
	if s.metrics != nil {
		s.metrics.ApprovalDecisions.WithLabelValues(action).Inc()
	}
	s.emit(ctx, tenantID, version, req.Actor, auditActionForDecision(req.Approve), map[string]string{
		"step":    strconv.Itoa(current.StepNumber),
		"comment": req.Comment,
	})
	return version, nil
}

// Activate makes an approved version the rule's single active version,
// superseding any previously active one.
func (s *Workflow) Activate(ctx context.Context, versionID id.RuleVersionID, actor Actor) (models.RuleVersion, error) {
	version, tenantID, err := s.findVersion(ctx, versionID)
	if err != nil {
		return models.RuleVersion{}, err
	}
	if version.Status != models.VersionApproved {
		return models.RuleVersion{}, dErrors.New(dErrors.CodeConflict,
			"only approved versions can be activated, version is "+string(version.Status))
	}
	if !actor.Role.Meets(models.RoleIssuer) {
		return models.RuleVersion{}, dErrors.New(dErrors.CodeForbidden, "activation requires role issuer")
	}

	event := models.ApprovalEvent{
		VersionID:  versionID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     models.ActionActivated,
		OccurredAt: s.now(),
	}
	if err := s.rules.Activate(ctx, versionID, event); err != nil {
		return models.RuleVersion{}, err
	}

	version.Status = models.VersionActive
	actorID := actor.ID
	version.ActivatedBy = &actorID
	s.emit(ctx, tenantID, version, actor, audit.ActionRuleActivated, nil)
	return version, nil
}

// Rule returns a rule with its versions.
func (s *Workflow) Rule(ctx context.Context, ruleID id.RuleID) (models.Rule, []models.RuleVersion, error) {
	rule, err := s.rules.FindRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Rule{}, nil, dErrors.New(dErrors.CodeNotFound, "rule "+ruleID.String()+" not found")
		}
		return models.Rule{}, nil, dErrors.Wrap(err, dErrors.CodeInternal, "load rule")
	}
	versions, err := s.rules.ListVersions(ctx, ruleID)
	if err != nil {
		return models.Rule{}, nil, dErrors.Wrap(err, dErrors.CodeInternal, "list rule versions")
	}
	return rule, versions, nil
}

// Version returns a rule version with its approval steps and event trail.
func (s *Workflow) Version(ctx context.Context, versionID id.RuleVersionID) (models.RuleVersion, []models.ApprovalStep, []models.ApprovalEvent, error) {
	version, _, err := s.findVersion(ctx, versionID)
	if err != nil {
		return models.RuleVersion{}, nil, nil, err
	}
	steps, err := s.rules.ListSteps(ctx, versionID)
	if err != nil {
		return models.RuleVersion{}, nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "list approval steps")
	}
	events, err := s.rules.ListEvents(ctx, versionID)
	if err != nil {
		return models.RuleVersion{}, nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "list approval events")
	}
	return version, steps, events, nil
}

// findVersion loads a version and resolves its rule's tenant, which every
// transition needs for the audit trail.
func (s *Workflow) findVersion(ctx context.Context, versionID id.RuleVersionID) (models.RuleVersion, id.TenantID, error) {
	version, err := s.rules.FindVersion(ctx, versionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.RuleVersion{}, id.TenantID{}, dErrors.New(dErrors.CodeNotFound, "rule version "+versionID.String()+" not found")
		}
		return models.RuleVersion{}, id.TenantID{}, dErrors.Wrap(err, dErrors.CodeInternal, "load rule version")
	}
	rule, err := s.rules.FindRule(ctx, version.RuleID)
	if err != nil {
		return models.RuleVersion{}, id.TenantID{}, dErrors.Wrap(err, dErrors.CodeInternal, "load rule")
	}
	return version, rule.TenantID, nil
}

func (s *Workflow) emit(ctx context.Context, tenantID id.TenantID, version models.RuleVersion, actor Actor, action string, metadata map[string]string) {
	if s.auditor != nil {
		_ = s.auditor.Emit(ctx, audit.Event{
			TenantID:   tenantID,
			ActorID:    actor.ID,
			Action:     action,
			TargetType: audit.TargetRuleVersion,
			TargetID:   version.ID.String(),
			Metadata:   metadata,
		})
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "rule version transition",
			"version_id", version.ID.String(),
			"status", version.Status,
			"actor_id", actor.ID.String(),
		)
	}
}

// currentStep returns the lowest-numbered pending step and the count of
// pending steps. Steps arrive ordered by number.
func currentStep(steps []models.ApprovalStep) (*models.ApprovalStep, int) {
	var current *models.ApprovalStep
	pending := 0
	for i := range steps {
		if steps[i].Status == models.StepPending {
			if current == nil {
				current = &steps[i]
			}
			pending++
		}
	}
	return current, pending
}

func auditActionForDecision(approve bool) string {
	if approve {
		return audit.ActionRuleApproved
	}
	return audit.ActionRuleRejected
}
