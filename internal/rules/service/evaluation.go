package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	credmodels "emblem/internal/credential/models"
	"emblem/internal/platform/metrics"
	"emblem/internal/rules/models"
	"emblem/internal/rules/ports"
	"emblem/internal/rules/store"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
	"emblem/pkg/platform/audit"
)

// EvaluateRequest is one evaluation of a learner against a rule version.
// Facts are supplied by the caller; the engine never fetches them.
type EvaluateRequest struct {
	VersionID id.RuleVersionID
	LearnerID id.LearnerID
	Facts     models.FactSnapshot
	DryRun    bool
}

// AssertionFinder is the slice of the assertion store the evaluator uses to
// detect prior issuance. The lookup happens here, before the gateway is
// called, so no gateway implementation can duplicate an assertion.
type AssertionFinder interface {
	FindByLearnerAndTemplate(ctx context.Context, learnerID id.LearnerID, templateID id.BadgeTemplateID) (credmodels.Assertion, error)
}

// Evaluation evaluates fact snapshots against rule versions and drives
// issuance on a fresh match. Every call writes exactly one evaluation
// record, whatever the outcome.
type Evaluation struct {
	rules       store.Store
	evaluations store.EvaluationStore
	assertions  AssertionFinder
	issuer      ports.IssuanceGateway
	auditor     AuditPublisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// EvaluationOption configures the Evaluation service.
type EvaluationOption func(*Evaluation)

// WithEvaluationMetrics sets the metrics collector.
func WithEvaluationMetrics(m *metrics.Metrics) EvaluationOption {
	return func(s *Evaluation) { s.metrics = m }
}

// WithEvaluationLogger sets the logger.
func WithEvaluationLogger(l *slog.Logger) EvaluationOption {
	return func(s *Evaluation) { s.logger = l }
}

// WithEvaluationClock overrides the time source for deterministic tests.
func WithEvaluationClock(now func() time.Time) EvaluationOption {
	return func(s *Evaluation) { s.now = now }
}

// NewEvaluation creates the evaluation service.
func NewEvaluation(rules store.Store, evaluations store.EvaluationStore, assertions AssertionFinder, issuer ports.IssuanceGateway, auditor AuditPublisher, opts ...EvaluationOption) *Evaluation {
	if rules == nil {
		panic("service.NewEvaluation: rule store is required")
	}
	if evaluations == nil {
		panic("service.NewEvaluation: evaluation store is required")
	}
	if assertions == nil {
		panic("service.NewEvaluation: assertion finder is required")
	}
	if issuer == nil {
		panic("service.NewEvaluation: issuance gateway is required")
	}

	s := &Evaluation{
		rules:       rules,
		evaluations: evaluations,
		assertions:  assertions,
		issuer:      issuer,
		auditor:     auditor,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate matches the fact snapshot against the version's predicate and, on
// a fresh match, issues the badge through the gateway. An issuance failure is
// recorded on the evaluation record, not propagated: the evaluation itself
// succeeded and its outcome is durable either way.
func (s *Evaluation) Evaluate(ctx context.Context, req EvaluateRequest) (models.EvaluationRecord, error) {
	if req.LearnerID.IsNil() {
		return models.EvaluationRecord{}, dErrors.New(dErrors.CodeValidation, "learner ID is required")
	}

	version, err := s.rules.FindVersion(ctx, req.VersionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.EvaluationRecord{}, dErrors.New(dErrors.CodeNotFound, "rule version "+req.VersionID.String()+" not found")
		}
		return models.EvaluationRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "load rule version")
	}
	if version.Status != models.VersionActive {
		return models.EvaluationRecord{}, dErrors.New(dErrors.CodeConflict,
			"only active versions are evaluated, version is "+string(version.Status))
	}
	rule, err := s.rules.FindRule(ctx, version.RuleID)
	if err != nil {
		return models.EvaluationRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "load rule")
	}

	record := models.EvaluationRecord{
		ID:            uuid.NewString(),
		RuleVersionID: req.VersionID,
		LearnerID:     req.LearnerID,
		Matched:       matchPredicate(version.Definition, req.LearnerID, req.Facts),
		Issuance:      models.IssuanceNone,
		Facts:         req.Facts,
		EvaluatedAt:   s.now(),
	}

	if record.Matched {
		switch {
		case req.DryRun:
			record.Issuance = models.IssuanceSkippedDryRun
		default:
			record.Issuance, record.AssertionID = s.issue(ctx, rule, req)
		}
	}

	if err := s.evaluations.Append(ctx, record); err != nil {
		return models.EvaluationRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "append evaluation record")
	}

	if s.metrics != nil {
		s.metrics.Evaluations.WithLabelValues(string(record.Issuance)).Inc()
	}
	if s.auditor != nil {
		_ = s.auditor.Emit(ctx, audit.Event{
			TenantID:   rule.TenantID,
			Action:     audit.ActionRuleEvaluated,
			TargetType: audit.TargetRuleVersion,
			TargetID:   req.VersionID.String(),
			Metadata: map[string]string{
				"learner_id": req.LearnerID.String(),
				"matched":    strconv.FormatBool(record.Matched),
				"issuance":   string(record.Issuance),
			},
		})
	}
	return record, nil
}

// issue resolves a matched, non-dry-run evaluation. A prior assertion for
// the learner and template short-circuits to already_issued without calling
// the gateway.
func (s *Evaluation) issue(ctx context.Context, rule models.Rule, req EvaluateRequest) (models.IssuanceStatus, *id.AssertionID) {
	existing, err := s.assertions.FindByLearnerAndTemplate(ctx, req.LearnerID, rule.BadgeTemplateID)
	switch {
	case err == nil:
		assertionID := existing.ID
		return models.IssuanceAlreadyIssued, &assertionID
	case !dErrors.HasCode(err, dErrors.CodeNotFound):
		s.logIssueFailure(ctx, req, err)
		return models.IssuanceFailed, nil
	}

	result, err := s.issuer.Issue(ctx, rule.TenantID, rule.BadgeTemplateID, req.LearnerID, "learner")
	if err != nil {
		s.logIssueFailure(ctx, req, err)
		return models.IssuanceFailed, nil
	}
	return result.Status, result.AssertionID
}

func (s *Evaluation) logIssueFailure(ctx context.Context, req EvaluateRequest, err error) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "badge issuance failed",
			"version_id", req.VersionID.String(),
			"learner_id", req.LearnerID.String(),
			"error", err,
		)
	}
}

// History lists the evaluation records for a rule version, oldest first.
func (s *Evaluation) History(ctx context.Context, versionID id.RuleVersionID) ([]models.EvaluationRecord, error) {
	records, err := s.evaluations.ListByVersion(ctx, versionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list evaluation records")
	}
	return records, nil
}
