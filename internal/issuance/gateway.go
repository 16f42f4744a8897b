package issuance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	credmodels "emblem/internal/credential/models"
	credports "emblem/internal/credential/ports"
	credstore "emblem/internal/credential/store"
	"emblem/internal/rules/models"
	"emblem/internal/rules/ports"
	"emblem/internal/signing"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
	"emblem/pkg/platform/audit"
)

// AuditPublisher emits audit events for issued assertions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// StoreBackedGateway issues badge assertions against the credential stores.
// Issue is the single issuance path: the rule engine calls it synchronously
// and the queue consumer calls it behind an idempotency key, so dedup by
// learner and template lives here.
type StoreBackedGateway struct {
	assertions credstore.AssertionStore
	documents  credports.DocumentStore
	gateway    signing.Gateway
	registry   *signing.Registry
	listIDBase string
	auditor    AuditPublisher
	logger     *slog.Logger
	now        func() time.Time
}

// GatewayOption configures the StoreBackedGateway.
type GatewayOption func(*StoreBackedGateway)

// WithGatewayAuditor sets the audit publisher.
func WithGatewayAuditor(a AuditPublisher) GatewayOption {
	return func(g *StoreBackedGateway) { g.auditor = a }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *StoreBackedGateway) { g.logger = l }
}

// WithGatewayClock overrides the time source for deterministic tests.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *StoreBackedGateway) { g.now = now }
}

// NewStoreBackedGateway creates the issuance gateway. listIDBase is the
// public URL prefix of published status lists.
func NewStoreBackedGateway(
	assertions credstore.AssertionStore,
	documents credports.DocumentStore,
	gateway signing.Gateway,
	registry *signing.Registry,
	listIDBase string,
	opts ...GatewayOption,
) *StoreBackedGateway {
	if assertions == nil {
		panic("issuance.NewStoreBackedGateway: assertion store is required")
	}
	if documents == nil {
		panic("issuance.NewStoreBackedGateway: document store is required")
	}
	if gateway == nil {
		panic("issuance.NewStoreBackedGateway: signing gateway is required")
	}
	if registry == nil {
		panic("issuance.NewStoreBackedGateway: signing registry is required")
	}

	g := &StoreBackedGateway{
		assertions: assertions,
		documents:  documents,
		gateway:    gateway,
		registry:   registry,
		listIDBase: listIDBase,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Issue creates one assertion for the recipient. A learner holds at most one
// assertion per badge template: a repeat issue reports already_issued with
// the original assertion, never a duplicate.
func (g *StoreBackedGateway) Issue(ctx context.Context, tenantID id.TenantID, badgeTemplateID id.BadgeTemplateID, recipient id.LearnerID, recipientType string) (ports.IssueResult, error) {
	cfg, ok := g.registry.LookupTenant(tenantID.String())
	if !ok {
		return ports.IssueResult{}, dErrors.New(dErrors.CodeConfiguration,
			"no signing configuration for tenant "+tenantID.String())
	}

	existing, err := g.assertions.FindByLearnerAndTemplate(ctx, recipient, badgeTemplateID)
	if err == nil {
		return ports.IssueResult{Status: models.IssuanceAlreadyIssued, AssertionID: &existing.ID}, nil
	}
	if !errors.Is(err, credstore.ErrNotFound) {
		return ports.IssueResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "check existing assertion")
	}

	issuedAt := g.now()
	assertion, err := g.assertions.Create(ctx, credmodels.Assertion{
		ID:              id.NewAssertionID(),
		TenantID:        tenantID,
		LearnerID:       recipient,
		BadgeTemplateID: badgeTemplateID,
		IssuedAt:        issuedAt,
	})
	if err != nil {
		return ports.IssueResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "create assertion")
	}

	listURL := g.listIDBase + "/tenants/" + tenantID.String() + "/status-list"
	document := BuildBadgeCredential(
		cfg.DID,
		"urn:uuid:"+assertion.ID.String(),
		recipientRef(recipientType, recipient),
		"urn:uuid:"+badgeTemplateID.String(),
		listURL,
		indexOf(assertion),
		issuedAt,
	)

	signed, err := g.gateway.Sign(ctx, cfg.DID, document, cfg.ProofType)
	if err != nil {
		return ports.IssueResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "sign badge credential")
	}
	if _, err := g.documents.Put(ctx, tenantID, assertion.ID.String(), signed); err != nil {
		return ports.IssueResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "store badge credential")
	}

	if g.auditor != nil {
		_ = g.auditor.Emit(ctx, audit.Event{
			TenantID:   tenantID,
			Action:     audit.ActionAssertionIssued,
			TargetType: audit.TargetAssertion,
			TargetID:   assertion.ID.String(),
			Metadata: map[string]string{
				"learner_id":        recipient.String(),
				"badge_template_id": badgeTemplateID.String(),
			},
		})
	}
	if g.logger != nil {
		g.logger.InfoContext(ctx, "badge assertion issued",
			"assertion_id", assertion.ID.String(),
			"tenant_id", tenantID.String(),
			"learner_id", recipient.String(),
		)
	}
	return ports.IssueResult{Status: models.IssuanceIssued, AssertionID: &assertion.ID}, nil
}

func recipientRef(recipientType string, recipient id.LearnerID) string {
	if recipientType == "" {
		recipientType = "learner"
	}
	return "urn:" + recipientType + ":" + recipient.String()
}

func indexOf(assertion credmodels.Assertion) int {
	if assertion.StatusListIndex == nil {
		return 0
	}
	return *assertion.StatusListIndex
}
