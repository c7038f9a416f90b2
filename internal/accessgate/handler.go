package accessgate

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustgate/internal/platform/middleware"
	id "trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	"trustgate/pkg/platform/httputil"
	"trustgate/pkg/requestcontext"
)

// Handler exposes the capability check endpoint.
type Handler struct {
	gate      *Gate
	logger    *slog.Logger
	validator middleware.TokenValidator
}

// NewHandler creates the access gate handler.
func NewHandler(gate *Gate, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		gate:      gate,
		logger:    logger,
		validator: validator,
	}
}

// Register mounts the gate routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RequireSubjectAuth(h.validator, h.logger))
		r.Get("/access/authorize", h.handleAuthorize)
	})
}

type verdictResponse struct {
	Allowed    bool   `json:"allowed"`
	Capability string `json:"capability"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	TrustScore int    `json:"trust_score"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	capability, ok := id.ParseCapability(r.URL.Query().Get("capability"))
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown capability"))
		return
	}

	verdict, err := h.gate.Authorize(ctx, requestcontext.SubjectID(ctx), capability)
	if err != nil {
		h.logger.ErrorContext(ctx, "capability check failed",
			"request_id", requestcontext.RequestID(ctx),
			"capability", string(capability),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, verdictResponse{
		Allowed:    verdict.Allowed,
		Capability: string(verdict.Capability),
		Status:     verdict.Status,
		Reason:     verdict.Reason,
		TrustScore: verdict.TrustScore,
	})
}
