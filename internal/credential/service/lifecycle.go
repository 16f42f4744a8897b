package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"emblem/internal/credential/models"
	"emblem/internal/credential/store"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
	"emblem/pkg/platform/audit"
)

// AuditPublisher emits audit events for lifecycle actions. Fire-and-forget:
// a failure here never blocks the transition.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TransitionRequest describes one institution-driven lifecycle change.
type TransitionRequest struct {
	AssertionID id.AssertionID
	State       models.LifecycleState
	ReasonCode  string
	Reason      string
	ActorID     id.UserID
}

// Lifecycle applies lifecycle transitions. Revocation is represented
// out-of-band: the assertion's RevokedAt is stamped and an event appended,
// while the stored credential document is never rewritten.
type Lifecycle struct {
	assertions store.AssertionStore
	events     store.LifecycleStore
	auditor    AuditPublisher
	logger     *slog.Logger
	now        func() time.Time
}

// LifecycleOption configures the Lifecycle service.
type LifecycleOption func(*Lifecycle)

// WithLifecycleLogger sets the logger.
func WithLifecycleLogger(l *slog.Logger) LifecycleOption {
	return func(s *Lifecycle) { s.logger = l }
}

// WithLifecycleClock overrides the time source for deterministic tests.
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(s *Lifecycle) { s.now = now }
}

// NewLifecycle creates the lifecycle service.
func NewLifecycle(assertions store.AssertionStore, events store.LifecycleStore, auditor AuditPublisher, opts ...LifecycleOption) *Lifecycle {
	if assertions == nil {
		panic("service.NewLifecycle: assertion store is required")
	}
	if events == nil {
		panic("service.NewLifecycle: lifecycle store is required")
	}

	s := &Lifecycle{
		assertions: assertions,
		events:     events,
		auditor:    auditor,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transition appends a lifecycle event and, for revocations, stamps the
// assertion's RevokedAt.
func (s *Lifecycle) Transition(ctx context.Context, req TransitionRequest) (*models.LifecycleEvent, error) {
	if req.AssertionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "assertion ID is required")
	}
	if !req.State.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown lifecycle state "+string(req.State))
	}

	assertion, err := s.assertions.FindByID(ctx, req.AssertionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "assertion "+req.AssertionID.String()+" not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load assertion")
	}

	transitionedAt := s.now()
	event := models.LifecycleEvent{
		AssertionID:    req.AssertionID,
		State:          req.State,
		ReasonCode:     req.ReasonCode,
		Reason:         req.Reason,
		TransitionedAt: transitionedAt,
	}

	if req.State == models.StateRevoked {
		revokedAt := transitionedAt
		if assertion.RevokedAt != nil {
			// Re-revoking keeps the original timestamp.
			revokedAt = *assertion.RevokedAt
		}
		event.RevokedAt = &revokedAt
		if err := s.assertions.MarkRevoked(ctx, req.AssertionID, revokedAt); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "mark assertion revoked")
		}
	}

	if err := s.events.Append(ctx, event); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append lifecycle event")
	}

	if s.auditor != nil {
		_ = s.auditor.Emit(ctx, audit.Event{
			TenantID:   assertion.TenantID,
			ActorID:    req.ActorID,
			Action:     auditActionForState(req.State),
			TargetType: audit.TargetAssertion,
			TargetID:   req.AssertionID.String(),
			Metadata: map[string]string{
				"reason_code": req.ReasonCode,
				"reason":      req.Reason,
			},
		})
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "assertion lifecycle transition",
			"assertion_id", req.AssertionID.String(),
			"state", req.State,
			"reason_code", req.ReasonCode,
		)
	}
	return &event, nil
}

func auditActionForState(state models.LifecycleState) string {
	switch state {
	case models.StateRevoked:
		return audit.ActionAssertionRevoked
	case models.StateSuspended:
		return audit.ActionAssertionSuspended
	case models.StateExpired:
		return audit.ActionAssertionExpired
	default:
		return audit.ActionAssertionIssued
	}
}
