// Package store persists assertions and their lifecycle events.
package store

import (
	"context"
	"time"

	"emblem/internal/credential/models"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "not found")

// AssertionStore persists assertion records. Create assigns the tenant's next
// status list index atomically with the insert; indices are monotonic per
// tenant and never reused.
type AssertionStore interface {
	Create(ctx context.Context, assertion models.Assertion) (models.Assertion, error)
	FindByID(ctx context.Context, assertionID id.AssertionID) (models.Assertion, error)
	FindByLearnerAndTemplate(ctx context.Context, learnerID id.LearnerID, templateID id.BadgeTemplateID) (models.Assertion, error)
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]models.Assertion, error)
	MarkRevoked(ctx context.Context, assertionID id.AssertionID, revokedAt time.Time) error
}

// LifecycleStore is the append-only trail of lifecycle events.
type LifecycleStore interface {
	Append(ctx context.Context, event models.LifecycleEvent) error
	// Latest returns the most recent event for an assertion, or nil when the
	// assertion has no lifecycle history.
	Latest(ctx context.Context, assertionID id.AssertionID) (*models.LifecycleEvent, error)
}
