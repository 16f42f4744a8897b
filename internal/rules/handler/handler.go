// Package handler exposes the rule workflow and evaluation endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"emblem/internal/rules/models"
	"emblem/internal/rules/service"
	id "emblem/pkg/domain"
	"emblem/pkg/platform/httputil"
)

// WorkflowService drives the rule version approval state machine.
type WorkflowService interface {
	CreateRule(ctx context.Context, tenantID id.TenantID, badgeTemplateID id.BadgeTemplateID) (models.Rule, error)
	CreateVersion(ctx context.Context, ruleID id.RuleID, definition models.Predicate, actor service.Actor) (models.RuleVersion, error)
	SubmitForApproval(ctx context.Context, versionID id.RuleVersionID, actor service.Actor) (models.RuleVersion, error)
	Decide(ctx context.Context, req service.DecisionRequest) (models.RuleVersion, error)
	Activate(ctx context.Context, versionID id.RuleVersionID, actor service.Actor) (models.RuleVersion, error)
	Rule(ctx context.Context, ruleID id.RuleID) (models.Rule, []models.RuleVersion, error)
	Version(ctx context.Context, versionID id.RuleVersionID) (models.RuleVersion, []models.ApprovalStep, []models.ApprovalEvent, error)
}

// EvaluationService evaluates fact snapshots against active rule versions.
type EvaluationService interface {
	Evaluate(ctx context.Context, req service.EvaluateRequest) (models.EvaluationRecord, error)
	History(ctx context.Context, versionID id.RuleVersionID) ([]models.EvaluationRecord, error)
}

// Handler handles the rule endpoints.
type Handler struct {
	workflow   WorkflowService
	evaluation EvaluationService
	logger     *slog.Logger
}

// New creates a rules Handler.
func New(workflow WorkflowService, evaluation EvaluationService, logger *slog.Logger) *Handler {
	return &Handler{
		workflow:   workflow,
		evaluation: evaluation,
		logger:     logger,
	}
}

// Register registers the rule routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/rules", h.HandleCreateRule)
	r.Get("/rules/{ruleID}", h.HandleGetRule)
	r.Post("/rules/{ruleID}/versions", h.HandleCreateVersion)
	r.Get("/versions/{versionID}", h.HandleGetVersion)
	r.Post("/versions/{versionID}/submit", h.HandleSubmit)
	r.Post("/versions/{versionID}/decide", h.HandleDecide)
	r.Post("/versions/{versionID}/activate", h.HandleActivate)
	r.Post("/versions/{versionID}/evaluate", h.HandleEvaluate)
	r.Get("/versions/{versionID}/evaluations", h.HandleListEvaluations)
}

type actorPayload struct {
	ID   id.UserID `json:"id"`
	Role string    `json:"role"`
}

func (p actorPayload) toActor() (service.Actor, error) {
	role, err := models.ParseRole(p.Role)
	if err != nil {
		return service.Actor{}, err
	}
	return service.Actor{ID: p.ID, Role: role}, nil
}

type createRuleRequest struct {
	TenantID        id.TenantID        `json:"tenantId"`
	BadgeTemplateID id.BadgeTemplateID `json:"badgeTemplateId"`
}

// HandleCreateRule implements POST /rules.
func (h *Handler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	rule, err := h.workflow.CreateRule(r.Context(), req.TenantID, req.BadgeTemplateID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRuleResponse(rule, nil))
}

// HandleGetRule implements GET /rules/{ruleID}.
func (h *Handler) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := id.ParseRuleID(chi.URLParam(r, "ruleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rule, versions, err := h.workflow.Rule(r.Context(), ruleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRuleResponse(rule, versions))
}

type createVersionRequest struct {
	Definition models.Predicate `json:"definition"`
	Actor      actorPayload     `json:"actor"`
}

// HandleCreateVersion implements POST /rules/{ruleID}/versions.
func (h *Handler) HandleCreateVersion(w http.ResponseWriter, r *http.Request) {
	ruleID, err := id.ParseRuleID(chi.URLParam(r, "ruleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req createVersionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	actor, err := req.Actor.toActor()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	version, err := h.workflow.CreateVersion(r.Context(), ruleID, req.Definition, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toVersionResponse(version))
}

// HandleGetVersion implements GET /versions/{versionID}, returning the
// version with its approval steps and event trail.
func (h *Handler) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	versionID, err := id.ParseRuleVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	version, steps, events, err := h.workflow.Version(r.Context(), versionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, versionDetailResponse{
		versionResponse: toVersionResponse(version),
		Steps:           toStepResponses(steps),
		Events:          toEventResponses(events),
	})
}

type actorRequest struct {
	Actor actorPayload `json:"actor"`
}

// HandleSubmit implements POST /versions/{versionID}/submit.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	versionID, err := id.ParseRuleVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req actorRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	actor, err := req.Actor.toActor()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	version, err := h.workflow.SubmitForApproval(r.Context(), versionID, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVersionResponse(version))
}

type decideRequest struct {
	Approve bool         `json:"approve"`
	Comment string       `json:"comment"`
	Actor   actorPayload `json:"actor"`
}

// HandleDecide implements POST /versions/{versionID}/decide.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	versionID, err := id.ParseRuleVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req decideRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	actor, err := req.Actor.toActor()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	version, err := h.workflow.Decide(r.Context(), service.DecisionRequest{
		VersionID: versionID,
		Approve:   req.Approve,
		Comment:   req.Comment,
		Actor:     actor,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVersionResponse(version))
}

// HandleActivate implements POST /versions/{versionID}/activate.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	versionID, err := id.ParseRuleVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req actorRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	actor, err := req.Actor.toActor()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	version, err := h.workflow.Activate(r.Context(), versionID, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVersionResponse(version))
}

type evaluateRequest struct {
	LearnerID id.LearnerID        `json:"learnerId"`
	Facts     models.FactSnapshot `json:"facts"`
	DryRun    bool                `json:"dryRun"`
}

// HandleEvaluate implements POST /versions/{versionID}/evaluate.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	versionID, err := id.ParseRuleVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req evaluateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.evaluation.Evaluate(r.Context(), service.EvaluateRequest{
		VersionID: versionID,
		LearnerID: req.LearnerID,
		Facts:     req.Facts,
		DryRun:    req.DryRun,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEvaluationResponse(record))
}

// HandleListEvaluations implements GET /versions/{versionID}/evaluations.
func (h *Handler) HandleListEvaluations(w http.ResponseWriter, r *http.Request) {
	versionID, err := id.ParseRuleVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.evaluation.History(r.Context(), versionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]evaluationResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toEvaluationResponse(record))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type ruleResponse struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenantId"`
	BadgeTemplateID string            `json:"badgeTemplateId"`
	ActiveVersionID *string           `json:"activeVersionId,omitempty"`
	Versions        []versionResponse `json:"versions,omitempty"`
}

type versionResponse struct {
	ID            string           `json:"id"`
	RuleID        string           `json:"ruleId"`
	VersionNumber int              `json:"versionNumber"`
	Status        string           `json:"status"`
	Definition    models.Predicate `json:"definition"`
	CreatedBy     string           `json:"createdBy"`
	ApprovedBy    *string          `json:"approvedBy,omitempty"`
	ActivatedBy   *string          `json:"activatedBy,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

type versionDetailResponse struct {
	versionResponse
	Steps  []stepResponse  `json:"steps"`
	Events []eventResponse `json:"events"`
}

type stepResponse struct {
	StepNumber   int    `json:"stepNumber"`
	RequiredRole string `json:"requiredRole"`
	Status       string `json:"status"`
}

type eventResponse struct {
	ActorID    string    `json:"actorId"`
	ActorRole  string    `json:"actorRole"`
	Action     string    `json:"action"`
	StepNumber int       `json:"stepNumber,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type evaluationResponse struct {
	ID            string              `json:"id"`
	RuleVersionID string              `json:"ruleVersionId"`
	LearnerID     string              `json:"learnerId"`
	Matched       bool                `json:"matched"`
	Issuance      string              `json:"issuance"`
	AssertionID   *string             `json:"assertionId,omitempty"`
	Facts         models.FactSnapshot `json:"facts"`
	EvaluatedAt   time.Time           `json:"evaluatedAt"`
}

func toRuleResponse(rule models.Rule, versions []models.RuleVersion) ruleResponse {
	out := ruleResponse{
		ID:              rule.ID.String(),
		TenantID:        rule.TenantID.String(),
		BadgeTemplateID: rule.BadgeTemplateID.String(),
	}
	if rule.ActiveVersionID != nil {
		active := rule.ActiveVersionID.String()
		out.ActiveVersionID = &active
	}
	for _, version := range versions {
		out.Versions = append(out.Versions, toVersionResponse(version))
	}
	return out
}

func toVersionResponse(version models.RuleVersion) versionResponse {
	out := versionResponse{
		ID:            version.ID.String(),
		RuleID:        version.RuleID.String(),
		VersionNumber: version.VersionNumber,
		Status:        string(version.Status),
		Definition:    version.Definition,
		CreatedBy:     version.CreatedBy.String(),
		CreatedAt:     version.CreatedAt,
	}
	if version.ApprovedBy != nil {
		approver := version.ApprovedBy.String()
		out.ApprovedBy = &approver
	}
	if version.ActivatedBy != nil {
		activator := version.ActivatedBy.String()
		out.ActivatedBy = &activator
	}
	return out
}

func toStepResponses(steps []models.ApprovalStep) []stepResponse {
	out := make([]stepResponse, 0, len(steps))
	for _, step := range steps {
		out = append(out, stepResponse{
			StepNumber:   step.StepNumber,
			RequiredRole: string(step.RequiredRole),
			Status:       string(step.Status),
		})
	}
	return out
}

func toEventResponses(events []models.ApprovalEvent) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, eventResponse{
			ActorID:    event.ActorID.String(),
			ActorRole:  string(event.ActorRole),
			Action:     event.Action,
			StepNumber: event.StepNumber,
			Comment:    event.Comment,
			OccurredAt: event.OccurredAt,
		})
	}
	return out
}

func toEvaluationResponse(record models.EvaluationRecord) evaluationResponse {
	out := evaluationResponse{
		ID:            record.ID,
		RuleVersionID: record.RuleVersionID.String(),
		LearnerID:     record.LearnerID.String(),
		Matched:       record.Matched,
		Issuance:      string(record.Issuance),
		Facts:         record.Facts,
		EvaluatedAt:   record.EvaluatedAt,
	}
	if record.AssertionID != nil {
		assertion := record.AssertionID.String()
		out.AssertionID = &assertion
	}
	return out
}
