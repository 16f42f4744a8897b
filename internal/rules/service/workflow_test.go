package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"emblem/internal/rules/models"
	"emblem/internal/rules/store"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
	"emblem/pkg/platform/audit"
)

// recordingAuditor captures emitted audit events for assertions.
type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAuditor) Emit(_ context.Context, event audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAuditor) recorded() []audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Event(nil), a.events...)
}

// WorkflowSuite walks rule versions through the full approval state machine.
type WorkflowSuite struct {
	suite.Suite
	workflow   *Workflow
	store      *store.InMemory
	auditor    *recordingAuditor
	tenantID   id.TenantID
	templateID id.BadgeTemplateID
	admin      Actor
	instructor Actor
	viewer     Actor
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.auditor = &recordingAuditor{}
	s.workflow = NewWorkflow(s.store, s.auditor,
		WithWorkflowClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }))
	s.tenantID = id.TenantID(uuid.New())
	s.templateID = id.BadgeTemplateID(uuid.New())
	s.admin = Actor{ID: id.UserID(uuid.New()), Role: models.RoleAdmin}
	s.instructor = Actor{ID: id.UserID(uuid.New()), Role: models.RoleInstructor}
	s.viewer = Actor{ID: id.UserID(uuid.New()), Role: models.RoleViewer}
}

func (s *WorkflowSuite) gradeRule() models.Predicate {
	return models.Predicate{
		Kind:     models.PredicateGradeThreshold,
		CourseID: "C1",
		MinScore: 80,
	}
}

// draftVersion creates a rule with one draft version and returns both.
func (s *WorkflowSuite) draftVersion() (models.Rule, models.RuleVersion) {
	ctx := context.Background()
	rule, err := s.workflow.CreateRule(ctx, s.tenantID, s.templateID)
	s.Require().NoError(err)
	version, err := s.workflow.CreateVersion(ctx, rule.ID, s.gradeRule(), s.instructor)
	s.Require().NoError(err)
	return rule, version
}

func (s *WorkflowSuite) TestCreateVersionStartsAsDraft() {
	_, version := s.draftVersion()

	s.Equal(models.VersionDraft, version.Status)
	s.Equal(1, version.VersionNumber)
	s.Equal(s.instructor.ID, version.CreatedBy)
}

func (s *WorkflowSuite) TestVersionNumbersAreMonotonic() {
	rule, _ := s.draftVersion()

	second, err := s.workflow.CreateVersion(context.Background(), rule.ID, s.gradeRule(), s.instructor)
	s.Require().NoError(err)
	s.Equal(2, second.VersionNumber)
}

func (s *WorkflowSuite) TestCreateVersionRejectsMalformedPredicate() {
	ctx := context.Background()
	rule, err := s.workflow.CreateRule(ctx, s.tenantID, s.templateID)
	s.Require().NoError(err)

	_, err = s.workflow.CreateVersion(ctx, rule.ID, models.Predicate{Kind: models.PredicateAllOf}, s.instructor)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	versions, err := s.store.ListVersions(ctx, rule.ID)
	s.Require().NoError(err)
	s.Empty(versions)
}

func (s *WorkflowSuite) TestSubmitInstantiatesAdminStep() {
	_, version := s.draftVersion()
	ctx := context.Background()

	submitted, err := s.workflow.SubmitForApproval(ctx, version.ID, s.instructor)
	s.Require().NoError(err)
	s.Equal(models.VersionPendingApproval, submitted.Status)

	steps, err := s.store.ListSteps(ctx, version.ID)
	s.Require().NoError(err)
	s.Require().Len(steps, 1)
	s.Equal(1, steps[0].StepNumber)
	s.Equal(models.RoleAdmin, steps[0].RequiredRole)
	s.Equal(models.StepPending, steps[0].Status)
}

func (s *WorkflowSuite) TestSubmitRequiresDraft() {
	_, version := s.draftVersion()
	ctx := context.Background()

	_, err := s.workflow.SubmitForApproval(ctx, version.ID, s.instructor)
	s.Require().NoError(err)

	_, err = s.workflow.SubmitForApproval(ctx, version.ID, s.instructor)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *WorkflowSuite) TestDecideRejectsInsufficientRole() {
	_, version := s.draftVersion()
	ctx := context.Background()
	_, err := s.workflow.SubmitForApproval(ctx, version.ID, s.instructor)
	s.Require().NoError(err)

	_, err = s.workflow.Decide(ctx, DecisionRequest{VersionID: version.ID, Approve: true, Actor: s.viewer})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Contains(err.Error(), "admin")

	current, err := s.store.FindVersion(ctx, version.ID)
	s.Require().NoError(err)
	s.Equal(models.VersionPendingApproval, current.Status)
}

func (s *WorkflowSuite) TestApproveLastStepApprovesVersion() {
	_, version := s.draftVersion()
	ctx := context.Background()
	_, err := s.workflow.SubmitForApproval(ctx, version.ID, s.instructor)
	s.Require().NoError(err)

	decided, err := s.workflow.Decide(ctx, DecisionRequest{VersionID: version.ID, Approve: true, Actor: s.admin})
	s.Require().NoError(err)
	s.Equal(models.VersionApproved, decided.Status)

	stored, err := s.store.FindVersion(ctx, version.ID)
	s.Require().NoError(err)
	s.Equal(models.VersionApproved, stored.Status)
	s.Require().NotNil(stored.ApprovedBy)
	s.Equal(s.admin.ID, *stored.ApprovedBy)
}

func (s *WorkflowSuite) TestRejectIsTerminal() {
	_, version := s.draftVersion()
	ctx := context.Background()
	_, err := s.workflow.SubmitForApproval(ctx, version.ID, s.instructor)
	s.Require().NoError(err)

	decided, err := s.workflow.Decide(ctx, DecisionRequest{
		VersionID: version.ID,
		Approve:   false,
		Comment:   "threshold too low",
		Actor:     s.admin,
	})
	s.Require().NoError(err)
	s.Equal(models.VersionRejected, decided.Status)

	// A rejection never records an approver.
	s.Nil(decided.ApprovedBy)
	stored, err := s.store.FindVersion(ctx, version.ID)
	s.Require().NoError(err)
	s.Nil(stored.ApprovedBy)

	_, err = s.workflow.Decide(ctx, DecisionRequest{VersionID: version.ID, Approve: true, Actor: s.admin})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.workflow.Activate(ctx, version.ID, s.admin)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *WorkflowSuite) TestActivateSetsActivePointer() {
	rule, version := s.draftVersion()
	ctx := context.Background()
	s.approve(version.ID)

	activated, err := s.workflow.Activate(ctx, version.ID, s.admin)
	s.Require().NoError(err)
	s.Equal(models.VersionActive, activated.Status)

	stored, err := s.store.FindRule(ctx, rule.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.ActiveVersionID)
	s.Equal(version.ID, *stored.ActiveVersionID)
}

func (s *WorkflowSuite) TestActivateSupersedesPriorActiveVersion() {
	rule, first := s.draftVersion()
	ctx := context.Background()
	s.approve(first.ID)
	_, err := s.workflow.Activate(ctx, first.ID, s.admin)
	s.Require().NoError(err)

	second, err := s.workflow.CreateVersion(ctx, rule.ID, s.gradeRule(), s.instructor)
	s.Require().NoError(err)
	s.approve(second.ID)
	_, err = s.workflow.Activate(ctx, second.ID, s.admin)
	s.Require().NoError(err)

	storedFirst, err := s.store.FindVersion(ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(models.VersionSuperseded, storedFirst.Status)

	storedRule, err := s.store.FindRule(ctx, rule.ID)
	s.Require().NoError(err)
	s.Equal(second.ID, *storedRule.ActiveVersionID)
}

func (s *WorkflowSuite) TestActivateRequiresIssuerRole() {
	_, version := s.draftVersion()
	s.approve(version.ID)

	_, err := s.workflow.Activate(context.Background(), version.ID, s.instructor)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *WorkflowSuite) TestConcurrentDecisionsConflict() {
	_, version := s.draftVersion()
	ctx := context.Background()
	_, err := s.workflow.SubmitForApproval(ctx, version.ID, s.instructor)
	s.Require().NoError(err)

	// Both actors race on the single pending step; exactly one decision
	// lands, the other observes a conflict from the store guard.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.workflow.Decide(ctx, DecisionRequest{
				VersionID: version.ID,
				Approve:   i == 0,
				Actor:     s.admin,
			})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			s.True(dErrors.HasCode(err, dErrors.CodeConflict))
			failures++
		}
	}
	s.Equal(1, failures)

	stored, err := s.store.FindVersion(ctx, version.ID)
	s.Require().NoError(err)
	s.Contains([]models.VersionStatus{models.VersionApproved, models.VersionRejected}, stored.Status)
}

func (s *WorkflowSuite) TestEventTrailRecordsNarrative() {
	_, version := s.draftVersion()
	ctx := context.Background()
	_, err := s.workflow.SubmitForApproval(ctx, version.ID, s.instructor)
	s.Require().NoError(err)
	_, err = s.workflow.Decide(ctx, DecisionRequest{VersionID: version.ID, Approve: true, Comment: "looks right", Actor: s.admin})
	s.Require().NoError(err)
	_, err = s.workflow.Activate(ctx, version.ID, s.admin)
	s.Require().NoError(err)

	_, _, events, err := s.workflow.Version(ctx, version.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(models.ActionSubmitted, events[0].Action)
	s.Equal(models.ActionApproved, events[1].Action)
	s.Equal("looks right", events[1].Comment)
	s.Equal(models.ActionActivated, events[2].Action)
}

// approve drives a draft version to approved.
func (s *WorkflowSuite) approve(versionID id.RuleVersionID) {
	ctx := context.Background()
	_, err := s.workflow.SubmitForApproval(ctx, versionID, s.instructor)
	s.Require().NoError(err)
	_, err = s.workflow.Decide(ctx, DecisionRequest{VersionID: versionID, Approve: true, Actor: s.admin})
	s.Require().NoError(err)
}

func (s *WorkflowSuite) TestAuditEventsCarryTenant() {
	_, version := s.draftVersion()
	ctx := context.Background()

	_, err := s.workflow.SubmitForApproval(ctx, version.ID, s.instructor)
	s.Require().NoError(err)
	_, err = s.workflow.Decide(ctx, DecisionRequest{VersionID: version.ID, Approve: true, Actor: s.admin})
	s.Require().NoError(err)
	_, err = s.workflow.Activate(ctx, version.ID, s.admin)
	s.Require().NoError(err)

	events := s.auditor.recorded()
	s.Require().NotEmpty(events)
	actions := make([]string, 0, len(events))
	for _, event := range events {
		s.Equal(s.tenantID, event.TenantID, "action %s", event.Action)
		s.Equal(version.ID.String(), event.TargetID)
		actions = append(actions, event.Action)
	}
	s.Contains(actions, audit.ActionRuleSubmitted)
	s.Contains(actions, audit.ActionRuleApproved)
	s.Contains(actions, audit.ActionRuleActivated)
}
