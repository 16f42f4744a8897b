// Package handler exposes the credential verification, status-list
// publication, and lifecycle endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"emblem/internal/credential/models"
	"emblem/internal/credential/service"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
	"emblem/pkg/platform/httputil"
)

// Verifier computes the authoritative state of one credential. Document
// returns the stored signed credential alongside that state, so raw fetches
// surface revocation too.
type Verifier interface {
	Verify(ctx context.Context, rawCredentialID string) (*models.VerifyResult, error)
	Document(ctx context.Context, rawCredentialID string) ([]byte, *models.VerifyResult, error)
}

// ListPublisher rebuilds and publishes a tenant's status list, and serves
// the latest published one.
type ListPublisher interface {
	Publish(ctx context.Context, tenantID id.TenantID) (*models.PublishResult, error)
	StatusList(ctx context.Context, tenantID id.TenantID) ([]byte, error)
}

// LifecycleService applies institution-driven lifecycle transitions.
type LifecycleService interface {
	Transition(ctx context.Context, req service.TransitionRequest) (*models.LifecycleEvent, error)
}

// Handler handles the credential endpoints.
type Handler struct {
	verifier  Verifier
	publisher ListPublisher
	lifecycle LifecycleService
	logger    *slog.Logger
}

// New creates a credential Handler.
func New(verifier Verifier, publisher ListPublisher, lifecycle LifecycleService, logger *slog.Logger) *Handler {
	return &Handler{
		verifier:  verifier,
		publisher: publisher,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// Register registers the credential routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/credentials/{credentialID}/verify", h.HandleVerify)
	r.Get("/credentials/{credentialID}/document", h.HandleDocument)
	r.Post("/tenants/{tenantID}/status-list", h.HandlePublish)
	r.Get("/tenants/{tenantID}/status-list", h.HandleStatusList)
	r.Post("/assertions/{assertionID}/lifecycle", h.HandleTransition)
}

// HandleVerify implements GET /credentials/{credentialID}/verify.
// The result is recomputed on every call; nothing is cached.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.verifier.Verify(ctx, chi.URLParam(r, "credentialID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleDocument implements GET /credentials/{credentialID}/document. The
// stored document is returned together with the merged state computed for
// this read.
func (h *Handler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	document, status, err := h.verifier.Document(ctx, chi.URLParam(r, "credentialID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, documentResponse{
		Credential: string(document),
		Status:     status,
	})
}

type documentResponse struct {
	Credential string               `json:"credential"`
	Status     *models.VerifyResult `json:"status"`
}

// HandleStatusList implements GET /tenants/{tenantID}/status-list, serving
// the latest published revocation list as a signed JWT.
func (h *Handler) HandleStatusList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	document, err := h.publisher.StatusList(ctx, tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/jwt")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(document)
}

// HandlePublish implements POST /tenants/{tenantID}/status-list. It rebuilds
// the tenant's revocation list from the full assertion set and stores a new
// signed version.
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.publisher.Publish(ctx, tenantID)
	if err != nil {
		h.logger.WarnContext(ctx, "status list publication failed",
			"tenant_id", tenantID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type transitionRequest struct {
	State      string `json:"state"`
	ReasonCode string `json:"reasonCode"`
	Reason     string `json:"reason"`
	ActorID    string `json:"actorId"`
}

// HandleTransition implements POST /assertions/{assertionID}/lifecycle.
func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assertionID, err := id.ParseAssertionID(chi.URLParam(r, "assertionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req transitionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	actorID, err := id.ParseUserID(req.ActorID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "actorId must be a UUID"))
		return
	}

	event, err := h.lifecycle.Transition(ctx, service.TransitionRequest{
		AssertionID: assertionID,
		State:       models.LifecycleState(req.State),
		ReasonCode:  req.ReasonCode,
		Reason:      req.Reason,
		ActorID:     actorID,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, transitionResponse{
		AssertionID:    event.AssertionID.String(),
		State:          string(event.State),
		ReasonCode:     event.ReasonCode,
		Reason:         event.Reason,
		TransitionedAt: event.TransitionedAt,
		RevokedAt:      event.RevokedAt,
	})
}

type transitionResponse struct {
	AssertionID    string     `json:"assertionId"`
	State          string     `json:"state"`
	ReasonCode     string     `json:"reasonCode,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	TransitionedAt time.Time  `json:"transitionedAt"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
}
