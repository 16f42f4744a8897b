package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	credstore "emblem/internal/credential/store"
	"emblem/internal/rules/models"
	"emblem/internal/rules/ports"
	"emblem/internal/rules/service"
	"emblem/internal/rules/store"
	id "emblem/pkg/domain"
)

// recordingIssuer satisfies the issuance gateway for HTTP-level tests.
type recordingIssuer struct {
	calls int
}

func (g *recordingIssuer) Issue(context.Context, id.TenantID, id.BadgeTemplateID, id.LearnerID, string) (ports.IssueResult, error) {
	g.calls++
	assertionID := id.NewAssertionID()
	return ports.IssueResult{Status: models.IssuanceIssued, AssertionID: &assertionID}, nil
}

// RulesHandlerSuite drives the workflow endpoints end to end over HTTP.
type RulesHandlerSuite struct {
	suite.Suite
	router *chi.Mux
	issuer *recordingIssuer
	admin  actorPayload
	viewer actorPayload
}

func TestRulesHandlerSuite(t *testing.T) {
	suite.Run(t, new(RulesHandlerSuite))
}

func (s *RulesHandlerSuite) SetupTest() {
	rules := store.NewInMemory()
	s.issuer = &recordingIssuer{}
	logger := slog.New(slog.DiscardHandler)

	workflow := service.NewWorkflow(rules, nil, service.WithWorkflowLogger(logger))
	evaluation := service.NewEvaluation(rules, store.NewInMemoryEvaluations(), credstore.NewInMemoryAssertions(), s.issuer, nil)

	s.router = chi.NewRouter()
	New(workflow, evaluation, logger).Register(s.router)

	s.admin = actorPayload{ID: id.UserID(uuid.New()), Role: "admin"}
	s.viewer = actorPayload{ID: id.UserID(uuid.New()), Role: "viewer"}
}

func (s *RulesHandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RulesHandlerSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst))
}

// createDraft creates a rule and a draft version over the API.
func (s *RulesHandlerSuite) createDraft() (ruleResponse, versionResponse) {
	rec := s.do(http.MethodPost, "/rules", createRuleRequest{
		TenantID:        id.TenantID(uuid.New()),
		BadgeTemplateID: id.BadgeTemplateID(uuid.New()),
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var rule ruleResponse
	s.decode(rec, &rule)

	rec = s.do(http.MethodPost, "/rules/"+rule.ID+"/versions", createVersionRequest{
		Definition: models.Predicate{Kind: models.PredicateGradeThreshold, CourseID: "C1", MinScore: 80},
		Actor:      actorPayload{ID: id.UserID(uuid.New()), Role: "instructor"},
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var version versionResponse
	s.decode(rec, &version)
	return rule, version
}

func (s *RulesHandlerSuite) TestApprovalRoundTrip() {
	rule, version := s.createDraft()
	s.Equal("draft", version.Status)

	rec := s.do(http.MethodPost, "/versions/"+version.ID+"/submit", actorRequest{Actor: s.admin})
	s.Require().Equal(http.StatusOK, rec.Code)

	// A viewer cannot clear the admin step.
	rec = s.do(http.MethodPost, "/versions/"+version.ID+"/decide", decideRequest{Approve: true, Actor: s.viewer})
	s.Equal(http.StatusForbidden, rec.Code)
	s.Contains(rec.Body.String(), "admin")

	rec = s.do(http.MethodPost, "/versions/"+version.ID+"/decide", decideRequest{Approve: true, Comment: "ok", Actor: s.admin})
	s.Require().Equal(http.StatusOK, rec.Code)
	var decided versionResponse
	s.decode(rec, &decided)
	s.Equal("approved", decided.Status)

	rec = s.do(http.MethodPost, "/versions/"+version.ID+"/activate", actorRequest{Actor: s.admin})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/rules/"+rule.ID, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var stored ruleResponse
	s.decode(rec, &stored)
	s.Require().NotNil(stored.ActiveVersionID)
	s.Equal(version.ID, *stored.ActiveVersionID)
}

func (s *RulesHandlerSuite) TestDoubleSubmitConflicts() {
	_, version := s.createDraft()

	rec := s.do(http.MethodPost, "/versions/"+version.ID+"/submit", actorRequest{Actor: s.admin})
	s.Require().Equal(http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/versions/"+version.ID+"/submit", actorRequest{Actor: s.admin})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *RulesHandlerSuite) TestVersionDetailCarriesStepsAndEvents() {
	_, version := s.createDraft()
	rec := s.do(http.MethodPost, "/versions/"+version.ID+"/submit", actorRequest{Actor: s.admin})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/versions/"+version.ID, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var detail versionDetailResponse
	s.decode(rec, &detail)
	s.Require().Len(detail.Steps, 1)
	s.Equal("admin", detail.Steps[0].RequiredRole)
	s.Require().Len(detail.Events, 1)
	s.Equal("submitted", detail.Events[0].Action)
}

func (s *RulesHandlerSuite) TestEvaluateActiveVersion() {
	_, version := s.createDraft()
	s.do(http.MethodPost, "/versions/"+version.ID+"/submit", actorRequest{Actor: s.admin})
	s.do(http.MethodPost, "/versions/"+version.ID+"/decide", decideRequest{Approve: true, Actor: s.admin})
	s.do(http.MethodPost, "/versions/"+version.ID+"/activate", actorRequest{Actor: s.admin})

	learnerID := id.LearnerID(uuid.New())
	rec := s.do(http.MethodPost, "/versions/"+version.ID+"/evaluate", evaluateRequest{
		LearnerID: learnerID,
		Facts: models.FactSnapshot{
			Grades: []models.GradeFact{{CourseID: "C1", LearnerID: learnerID, FinalScore: 95}},
		},
	})
	s.Require().Equal(http.StatusOK, rec.Code)
	var result evaluationResponse
	s.decode(rec, &result)
	s.True(result.Matched)
	s.Equal("issued", result.Issuance)
	s.Require().NotNil(result.AssertionID)
	s.Equal(1, s.issuer.calls)

	rec = s.do(http.MethodGet, "/versions/"+version.ID+"/evaluations", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var history []evaluationResponse
	s.decode(rec, &history)
	s.Len(history, 1)
}

func (s *RulesHandlerSuite) TestMalformedVersionIDRejected() {
	rec := s.do(http.MethodGet, "/versions/not-a-uuid", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RulesHandlerSuite) TestUnknownRoleRejected() {
	_, version := s.createDraft()
	rec := s.do(http.MethodPost, "/versions/"+version.ID+"/submit", actorRequest{
		Actor: actorPayload{ID: id.UserID(uuid.New()), Role: "superuser"},
	})
	s.Equal(http.StatusBadRequest, rec.Code)
}
