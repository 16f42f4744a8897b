package service

import (
	"context"
	"log/slog"
	"time"

	"emblem/internal/credential/models"
	"emblem/internal/credential/ports"
	"emblem/internal/credential/store"
	"emblem/internal/platform/metrics"
	"emblem/internal/signing"
	"emblem/internal/statuslist"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

// statusListKey is the document-store key for a tenant's published list.
const statusListKey = "status-list"

// Publisher builds and signs a tenant's revocation status list credential.
//
// The full assertion set is read fresh on every publish; there is no delta
// update. Concurrent publishes for one tenant converge on the same bytes for
// the same assertion set, so no locking is needed.
type Publisher struct {
	assertions store.AssertionStore
	documents  ports.DocumentStore
	gateway    signing.Gateway
	registry   *signing.Registry
	minSize    int
	listIDBase string
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithPublisherMetrics sets the metrics collector.
func WithPublisherMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// WithPublisherClock overrides the time source for deterministic tests.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

// WithMinimumSize overrides the minimum published list size.
func WithMinimumSize(size int) PublisherOption {
	return func(p *Publisher) { p.minSize = size }
}

// NewPublisher creates a status list publisher. listIDBase is the public URL
// prefix under which published lists are addressable.
func NewPublisher(
	assertions store.AssertionStore,
	documents ports.DocumentStore,
	gateway signing.Gateway,
	registry *signing.Registry,
	listIDBase string,
	opts ...PublisherOption,
) *Publisher {
	if assertions == nil {
		panic("service.NewPublisher: assertion store is required")
	}
	if documents == nil {
		panic("service.NewPublisher: document store is required")
	}
	if gateway == nil {
		panic("service.NewPublisher: signing gateway is required")
	}
	if registry == nil {
		panic("service.NewPublisher: signing registry is required")
	}

	p := &Publisher{
		assertions: assertions,
		documents:  documents,
		gateway:    gateway,
		registry:   registry,
		minSize:    statuslist.MinimumSize,
		listIDBase: listIDBase,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish recomputes, signs, and stores the tenant's revocation list.
// Preconditions fail fast: a missing signing config is not_found, and a local
// key that cannot serve the proof suite is a configuration error surfaced
// before any signing attempt.
func (p *Publisher) Publish(ctx context.Context, tenantID id.TenantID) (*models.PublishResult, error) {
	cfg, ok := p.registry.LookupTenant(tenantID.String())
	if !ok {
		p.observe("missing_config")
		return nil, dErrors.New(dErrors.CodeNotFound, "no signing configuration for tenant "+tenantID.String())
	}
	if cfg.Kind == signing.KeyKindLocal && cfg.ProofType != signing.ProofEdDSA {
		p.observe("wrong_key_type")
		return nil, dErrors.New(dErrors.CodeConfiguration,
			"tenant "+tenantID.String()+" key type "+string(cfg.ProofType)+" cannot serve proof suite "+string(signing.ProofEdDSA))
	}

	assertions, err := p.assertions.ListByTenant(ctx, tenantID)
	if err != nil {
		p.observe("store_error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list tenant assertions")
	}

	entries := statusEntries(assertions)
	encoded, err := statuslist.EncodeBitstring(entries, p.minSize)
	if err != nil {
		p.observe("encode_error")
		return nil, err
	}

	publishedAt := p.now()
	listID := p.listIDBase + "/tenants/" + tenantID.String() + "/status-list"
	document := statuslist.BuildCredential(cfg.DID, listID, encoded, publishedAt)

	signed, err := p.gateway.Sign(ctx, cfg.DID, document, signing.ProofEdDSA)
	if err != nil {
		p.observe("sign_error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign status list credential")
	}

	location, err := p.documents.Put(ctx, tenantID, statusListKey, signed)
	if err != nil {
		p.observe("store_error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store status list credential")
	}

	revoked := 0
	for _, e := range entries {
		if e.Revoked {
			revoked++
		}
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, "status list published",
			"tenant_id", tenantID.String(),
			"assertions", len(entries),
			"revoked", revoked,
		)
	}
	p.observe("published")

	return &models.PublishResult{
		LocationKey:    location.Key,
		Version:        location.Version,
		AssertionCount: len(entries),
		RevokedCount:   revoked,
		PublishedAt:    publishedAt,
	}, nil
}

// StatusList returns the latest published revocation list for a tenant.
func (p *Publisher) StatusList(ctx context.Context, tenantID id.TenantID) ([]byte, error) {
	document, err := p.documents.GetByKey(ctx, tenantID, statusListKey)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no published status list for tenant "+tenantID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fetch status list")
	}
	return document, nil
}

func (p *Publisher) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.Publications.WithLabelValues(outcome).Inc()
	}
}
