package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"emblem/internal/credential/models"
	"emblem/internal/credential/ports"
	"emblem/internal/credential/store"
	"emblem/internal/platform/metrics"
	"emblem/internal/signing"
	"emblem/internal/statuslist"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

// Reasons reported on the base signal.
const (
	reasonProofInvalid      = "credential proof is invalid"
	reasonProofExpired      = "credential proof has expired"
	reasonStatusListRevoked = "revoked by status list"
)

// Engine computes the authoritative lifecycle state for one credential by
// merging the cryptographic/status-list check with the assertion lifecycle
// trail. Results are recomputed on every call, never cached, so a revocation
// event is visible on the next read without resigning the stored document.
type Engine struct {
	assertions store.AssertionStore
	lifecycle  store.LifecycleStore
	documents  ports.DocumentStore
	verifier   *signing.Verifier
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithMetrics sets the metrics collector for the engine.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger for the engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the engine's time source for deterministic tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a verification engine with required dependencies.
// Panics if a required dependency is nil - fail fast at startup.
func NewEngine(
	assertions store.AssertionStore,
	lifecycle store.LifecycleStore,
	documents ports.DocumentStore,
	verifier *signing.Verifier,
	opts ...EngineOption,
) *Engine {
	if assertions == nil {
		panic("service.NewEngine: assertion store is required")
	}
	if lifecycle == nil {
		panic("service.NewEngine: lifecycle store is required")
	}
	if documents == nil {
		panic("service.NewEngine: document store is required")
	}
	if verifier == nil {
		panic("service.NewEngine: verifier is required")
	}

	e := &Engine{
		assertions: assertions,
		lifecycle:  lifecycle,
		documents:  documents,
		verifier:   verifier,
		tracer:     otel.Tracer("emblem/credential"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify resolves the merged lifecycle state for a credential id.
// A syntactically invalid id is rejected before any store access; an unknown
// id is a not_found outcome.
func (e *Engine) Verify(ctx context.Context, rawCredentialID string) (*models.VerifyResult, error) {
	credentialID, err := id.ParseCredentialID(rawCredentialID)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "credential.Verify",
		trace.WithAttributes(attribute.String("credential.id", credentialID.String())))
	defer span.End()

	start := e.now()

	assertion, err := e.assertions.FindByID(ctx, id.AssertionID(credentialID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credential "+credentialID.String()+" not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load assertion")
	}

	// The base check and the lifecycle trail are independent signals; gather
	// them concurrently.
	var (
		base           models.Signal
		lifecycleEvent *models.LifecycleEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var baseErr error
		base, baseErr = e.baseSignal(gctx, assertion)
		return baseErr
	})
	g.Go(func() error {
		var evErr error
		lifecycleEvent, evErr = e.lifecycle.Latest(gctx, assertion.ID)
		if evErr != nil {
			return dErrors.Wrap(evErr, dErrors.CodeInternal, "load lifecycle trail")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := MergeSignals(base, lifecycleEvent, assertion.RevokedAt)

	result := &models.VerifyResult{
		State:              merged.State,
		Reason:             merged.Reason,
		ExpiresAt:          merged.ExpiresAt,
		RevokedAt:          merged.RevokedAt,
		CheckedAt:          e.now(),
		AssertionLifecycle: lifecycleEvent,
	}
	span.SetAttributes(attribute.String("credential.state", string(result.State)))
	if e.metrics != nil {
		e.metrics.ObserveVerify(start, string(result.State))
	}
	if e.logger != nil {
		e.logger.InfoContext(ctx, "credential verified",
			"credential_id", credentialID.String(),
			"state", result.State,
		)
	}
	return result, nil
}

// Document returns the stored signed credential together with the merged
// lifecycle state, so fetching the raw document never bypasses revocation.
func (e *Engine) Document(ctx context.Context, rawCredentialID string) ([]byte, *models.VerifyResult, error) {
	result, err := e.Verify(ctx, rawCredentialID)
	if err != nil {
		return nil, nil, err
	}

	// Verify already validated the id and proved the assertion exists.
	credentialID, err := id.ParseCredentialID(rawCredentialID)
	if err != nil {
		return nil, nil, err
	}
	assertion, err := e.assertions.FindByID(ctx, id.AssertionID(credentialID))
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "load assertion")
	}
	document, err := e.documents.Get(ctx, assertion.TenantID, credentialID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "fetch credential document")
	}
	return document, result, nil
}

// baseSignal runs the cryptographic and status-list checks. The base state is
// active unless the proof is expired/invalid or the assertion's status list
// bit is set, in which case it is revoked.
func (e *Engine) baseSignal(ctx context.Context, assertion models.Assertion) (models.Signal, error) {
	document, err := e.documents.Get(ctx, assertion.TenantID, id.CredentialID(assertion.ID))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return models.Signal{}, dErrors.New(dErrors.CodeNotFound, "credential document not found")
		}
		return models.Signal{}, dErrors.Wrap(err, dErrors.CodeInternal, "fetch credential document")
	}

	signal := models.Signal{State: models.StateActive}

	claims, err := e.verifier.Verify(document)
	switch {
	case errors.Is(err, signing.ErrProofExpired):
		signal.State = models.StateRevoked
		signal.Reason = reasonProofExpired
	case errors.Is(err, signing.ErrProofInvalid):
		signal.State = models.StateRevoked
		signal.Reason = reasonProofInvalid
	case err != nil:
		return models.Signal{}, err
	}
	if claims != nil && claims.ExpiresAt != nil {
		expiresAt := claims.ExpiresAt.Time
		signal.ExpiresAt = &expiresAt
	}

	// Status list bit, derived fresh from the tenant's current assertion set.
	if assertion.StatusListIndex != nil && signal.State != models.StateRevoked {
		revoked, err := e.statusBit(ctx, assertion.TenantID, *assertion.StatusListIndex)
		if err != nil {
			return models.Signal{}, err
		}
		if revoked {
			signal.State = models.StateRevoked
			signal.Reason = reasonStatusListRevoked
			signal.RevokedAt = assertion.RevokedAt
		}
	}
	return signal, nil
}

// statusBit recomputes the tenant's bitstring from current assertions and
// reads the bit for one index through the codec.
func (e *Engine) statusBit(ctx context.Context, tenantID id.TenantID, index int) (bool, error) {
	assertions, err := e.assertions.ListByTenant(ctx, tenantID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "list tenant assertions")
	}
	bits, err := statuslist.Build(statusEntries(assertions), 0)
	if err != nil {
		return false, err
	}
	return bits.Revoked(index), nil
}

// statusEntries converts assertions to codec entries. Shared with the
// publication path so the verify-time bit and the published bit always agree.
func statusEntries(assertions []models.Assertion) []statuslist.Entry {
	entries := make([]statuslist.Entry, 0, len(assertions))
	for _, a := range assertions {
		if a.StatusListIndex == nil {
			continue
		}
		entries = append(entries, statuslist.Entry{
			Index:   *a.StatusListIndex,
			Revoked: a.RevokedAt != nil,
		})
	}
	return entries
}
