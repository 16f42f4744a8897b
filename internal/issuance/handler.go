package issuance

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"emblem/pkg/platform/httputil"
)

// HTTPHandler accepts issue jobs over HTTP and enqueues them for the
// consumer. The endpoint acknowledges acceptance, not issuance.
type HTTPHandler struct {
	enqueuer *Enqueuer
}

// NewHTTPHandler creates the enqueue handler.
func NewHTTPHandler(enqueuer *Enqueuer) *HTTPHandler {
	if enqueuer == nil {
		panic("issuance.NewHTTPHandler: enqueuer is required")
	}
	return &HTTPHandler{enqueuer: enqueuer}
}

// Register registers the issuance routes with the chi router.
func (h *HTTPHandler) Register(r chi.Router) {
	r.Post("/issuance/jobs", h.HandleEnqueue)
}

// HandleEnqueue implements POST /issuance/jobs.
func (h *HTTPHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	var job Job
	if err := httputil.DecodeJSON(r, &job); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.enqueuer.Enqueue(r.Context(), job); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"idempotencyKey": job.IdempotencyKey,
	})
}
