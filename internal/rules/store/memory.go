package store

import (
	"context"
	"sort"
	"sync"

	"emblem/internal/rules/models"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

// InMemory is an in-memory Store for tests or local use. A single mutex
// covers every transition so the guard check and the updates it protects are
// atomic, mirroring the transactional guarantee of the PostgreSQL store.
type InMemory struct {
	mu       sync.RWMutex
	rules    map[string]models.Rule
	versions map[string]models.RuleVersion
	steps    map[string][]models.ApprovalStep
	events   map[string][]models.ApprovalEvent
}

// NewInMemory constructs an empty in-memory rule store.
func NewInMemory() *InMemory {
	return &InMemory{
		rules:    make(map[string]models.Rule),
		versions: make(map[string]models.RuleVersion),
		steps:    make(map[string][]models.ApprovalStep),
		events:   make(map[string][]models.ApprovalEvent),
	}
}

func (s *InMemory) CreateRule(_ context.Context, rule models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID.String()]; exists {
		return dErrors.New(dErrors.CodeConflict, "rule already exists")
	}
	s.rules[rule.ID.String()] = rule
	return nil
}

func (s *InMemory) FindRule(_ context.Context, ruleID id.RuleID) (models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rule, ok := s.rules[ruleID.String()]; ok {
		return rule, nil
	}
	return models.Rule{}, ErrNotFound
}

func (s *InMemory) CreateVersion(_ context.Context, version models.RuleVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[version.RuleID.String()]; !ok {
		return ErrNotFound
	}
	if _, exists := s.versions[version.ID.String()]; exists {
		return dErrors.New(dErrors.CodeConflict, "rule version already exists")
	}
	s.versions[version.ID.String()] = version
	return nil
}

func (s *InMemory) FindVersion(_ context.Context, versionID id.RuleVersionID) (models.RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if version, ok := s.versions[versionID.String()]; ok {
		return version, nil
	}
	return models.RuleVersion{}, ErrNotFound
}

func (s *InMemory) ListVersions(_ context.Context, ruleID id.RuleID) ([]models.RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RuleVersion
	for _, v := range s.versions {
		if v.RuleID == ruleID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (s *InMemory) NextVersionNumber(_ context.Context, ruleID id.RuleID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	highest := 0
	for _, v := range s.versions {
		if v.RuleID == ruleID && v.VersionNumber > highest {
			highest = v.VersionNumber
		}
	}
	return highest + 1, nil
}

func (s *InMemory) ListSteps(_ context.Context, versionID id.RuleVersionID) ([]models.ApprovalStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.steps[versionID.String()]
	out := make([]models.ApprovalStep, len(steps))
	copy(out, steps)
	return out, nil
}

func (s *InMemory) ListEvents(_ context.Context, versionID id.RuleVersionID) ([]models.ApprovalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[versionID.String()]
	out := make([]models.ApprovalEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *InMemory) Submit(_ context.Context, versionID id.RuleVersionID, steps []models.ApprovalStep, event models.ApprovalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok := s.versions[versionID.String()]
	if !ok {
		return ErrNotFound
	}
	if version.Status != models.VersionDraft {
		return ErrStaleState
	}
	version.Status = models.VersionPendingApproval
	s.versions[versionID.String()] = version
	s.steps[versionID.String()] = append([]models.ApprovalStep{}, steps...)
	s.events[versionID.String()] = append(s.events[versionID.String()], event)
	return nil
}

func (s *InMemory) Decide(_ context.Context, versionID id.RuleVersionID, stepNumber int, stepStatus models.StepStatus, versionStatus models.VersionStatus, event models.ApprovalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok := s.versions[versionID.String()]
	if !ok {
		return ErrNotFound
	}
	if version.Status != models.VersionPendingApproval {
		return ErrStaleState
	}

	steps := s.steps[versionID.String()]
	decided := false
	for i, step := range steps {
		if step.StepNumber == stepNumber {
			if step.Status != models.StepPending {
				return ErrStaleState
			}
			steps[i].Status = stepStatus
			decided = true
			break
		}
	}
	if !decided {
		return ErrNotFound
	}

	// ApprovedBy names the final approver; a rejection leaves it unset.
	if versionStatus == models.VersionApproved {
		approver := event.ActorID
		version.ApprovedBy = &approver
	}
	version.Status = versionStatus
	s.versions[versionID.String()] = version
	s.events[versionID.String()] = append(s.events[versionID.String()], event)
	return nil
}

func (s *InMemory) Activate(_ context.Context, versionID id.RuleVersionID, event models.ApprovalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok := s.versions[versionID.String()]
	if !ok {
		return ErrNotFound
	}
	if version.Status != models.VersionApproved {
		return ErrStaleState
	}

	rule, ok := s.rules[version.RuleID.String()]
	if !ok {
		return ErrNotFound
	}

	// Supersede the prior active version, if any.
	if rule.ActiveVersionID != nil {
		if prior, ok := s.versions[rule.ActiveVersionID.String()]; ok && prior.Status == models.VersionActive {
			prior.Status = models.VersionSuperseded
			s.versions[prior.ID.String()] = prior
		}
	}

	activator := event.ActorID
	version.Status = models.VersionActive
	version.ActivatedBy = &activator
	s.versions[versionID.String()] = version

	active := version.ID
	rule.ActiveVersionID = &active
	s.rules[rule.ID.String()] = rule

	s.events[versionID.String()] = append(s.events[versionID.String()], event)
	return nil
}

// InMemoryEvaluations is an in-memory EvaluationStore.
type InMemoryEvaluations struct {
	mu      sync.RWMutex
	records []models.EvaluationRecord
}

// NewInMemoryEvaluations constructs an empty evaluation log.
func NewInMemoryEvaluations() *InMemoryEvaluations {
	return &InMemoryEvaluations{}
}

// Append records an evaluation. Records are never mutated or removed.
func (s *InMemoryEvaluations) Append(_ context.Context, record models.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryEvaluations) ListByVersion(_ context.Context, versionID id.RuleVersionID) ([]models.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EvaluationRecord
	for _, r := range s.records {
		if r.RuleVersionID == versionID {
			out = append(out, r)
		}
	}
	return out, nil
}
