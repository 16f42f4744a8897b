package store

import (
	"context"
	"sync"
	"time"

	"emblem/internal/credential/models"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

// InMemoryAssertions is an in-memory AssertionStore for tests or local use.
// It is safe for concurrent access but does not persist across process restarts.
type InMemoryAssertions struct {
	mu         sync.RWMutex
	assertions map[string]models.Assertion
	// nextIndex is the per-tenant status list high-water mark.
	nextIndex map[string]int
}

// NewInMemoryAssertions constructs an empty in-memory assertion store.
func NewInMemoryAssertions() *InMemoryAssertions {
	return &InMemoryAssertions{
		assertions: make(map[string]models.Assertion),
		nextIndex:  make(map[string]int),
	}
}

// Create stores the assertion, allocating the tenant's next status list index.
func (s *InMemoryAssertions) Create(_ context.Context, assertion models.Assertion) (models.Assertion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assertions[assertion.ID.String()]; exists {
		return models.Assertion{}, dErrors.New(dErrors.CodeConflict, "assertion already exists")
	}

	index := s.nextIndex[assertion.TenantID.String()]
	s.nextIndex[assertion.TenantID.String()] = index + 1
	assertion.StatusListIndex = &index

	s.assertions[assertion.ID.String()] = assertion
	return assertion, nil
}

func (s *InMemoryAssertions) FindByID(_ context.Context, assertionID id.AssertionID) (models.Assertion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.assertions[assertionID.String()]; ok {
		return a, nil
	}
	return models.Assertion{}, ErrNotFound
}

// FindByLearnerAndTemplate returns the earliest assertion for a learner and
// badge template, which is the dedup lookup for rule evaluation.
func (s *InMemoryAssertions) FindByLearnerAndTemplate(_ context.Context, learnerID id.LearnerID, templateID id.BadgeTemplateID) (models.Assertion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Assertion
	for _, a := range s.assertions {
		if a.LearnerID == learnerID && a.BadgeTemplateID == templateID {
			candidate := a
			if found == nil || candidate.IssuedAt.Before(found.IssuedAt) {
				found = &candidate
			}
		}
	}
	if found == nil {
		return models.Assertion{}, ErrNotFound
	}
	return *found, nil
}

func (s *InMemoryAssertions) ListByTenant(_ context.Context, tenantID id.TenantID) ([]models.Assertion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Assertion
	for _, a := range s.assertions {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *InMemoryAssertions) MarkRevoked(_ context.Context, assertionID id.AssertionID, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assertions[assertionID.String()]
	if !ok {
		return ErrNotFound
	}
	if a.RevokedAt == nil {
		a.RevokedAt = &revokedAt
		s.assertions[assertionID.String()] = a
	}
	return nil
}

// InMemoryLifecycle is an in-memory LifecycleStore.
type InMemoryLifecycle struct {
	mu     sync.RWMutex
	events map[string][]models.LifecycleEvent
}

// NewInMemoryLifecycle constructs an empty in-memory lifecycle store.
func NewInMemoryLifecycle() *InMemoryLifecycle {
	return &InMemoryLifecycle{events: make(map[string][]models.LifecycleEvent)}
}

// Append records an event. Events are never mutated or removed.
func (s *InMemoryLifecycle) Append(_ context.Context, event models.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := event.AssertionID.String()
	s.events[key] = append(s.events[key], event)
	return nil
}

// Latest returns the most recently appended event, or nil when none exist.
func (s *InMemoryLifecycle) Latest(_ context.Context, assertionID id.AssertionID) (*models.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[assertionID.String()]
	if len(events) == 0 {
		return nil, nil
	}
	latest := events[len(events)-1]
	return &latest, nil
}
