package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"trustgate/internal/platform/middleware"
	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	audit "trustgate/pkg/platform/audit"
	"trustgate/pkg/platform/httputil"
	"trustgate/pkg/requestcontext"
)

// defaultAuditLimit bounds the recent-events listing.
const defaultAuditLimit = 100

// ReviewService is the reviewer-facing half of the pipeline.
type ReviewService interface {
	ListQueue(ctx context.Context) ([]*models.VerificationRequest, error)
	Claim(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID) (*models.VerificationRequest, *models.ReviewClaim, error)
	Decide(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID, approve bool, reason string) (*models.VerificationRequest, error)
	Release(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID) (*models.VerificationRequest, error)
	RequestReupload(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID, reason string) (*models.VerificationRequest, error)
}

// AuditReader reads the audit trail for the admin console.
type AuditReader interface {
	List(ctx context.Context, requestID id.RequestID) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// ReviewHandler serves the admin review endpoints.
type ReviewHandler struct {
	review     ReviewService
	auditTrail AuditReader
	logger     *slog.Logger
	adminToken string
}

// NewReview creates the reviewer-facing handler.
func NewReview(review ReviewService, auditTrail AuditReader, adminToken string, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		review:     review,
		auditTrail: auditTrail,
		logger:     logger,
		adminToken: adminToken,
	}
}

// Register mounts the admin routes.
func (h *ReviewHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RequireReviewer(h.adminToken, h.logger))
		r.Get("/admin/verification/queue", h.handleQueue)
		r.Post("/admin/verification/requests/{requestID}/claim", h.handleClaim)
		r.Post("/admin/verification/requests/{requestID}/decision", h.handleDecision)
		r.Post("/admin/verification/requests/{requestID}/release", h.handleRelease)
		r.Post("/admin/verification/requests/{requestID}/reupload", h.handleReupload)
		r.Get("/admin/verification/audit", h.handleAudit)
	})
}

func (h *ReviewHandler) handleQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	queue, err := h.review.ListQueue(ctx)
	if err != nil {
		h.writeError(w, r, "list review queue", err)
		return
	}

	views := make([]queueView, 0, len(queue))
	for _, req := range queue {
		views = append(views, toQueueView(req))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"queue": views})
}

func (h *ReviewHandler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, lease, err := h.review.Claim(ctx, requestcontext.ReviewerID(ctx), reqID)
	if err != nil {
		h.writeError(w, r, "claim request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"request": toQueueView(req),
		"claim": claimView{
			ReviewerID: lease.ReviewerID.String(),
			ExpiresAt:  lease.ExpiresAt,
		},
	})
}

func (h *ReviewHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[decisionBody](w, r, h.logger, requestID)
	if !ok {
		return
	}

	req, err := h.review.Decide(ctx, requestcontext.ReviewerID(ctx), reqID, body.Approve, body.Reason)
	if err != nil {
		h.writeError(w, r, "record decision", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toQueueView(req))
}

func (h *ReviewHandler) handleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := h.review.Release(ctx, requestcontext.ReviewerID(ctx), reqID)
	if err != nil {
		h.writeError(w, r, "release claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toQueueView(req))
}

func (h *ReviewHandler) handleReupload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[reuploadBody](w, r, h.logger, requestID)
	if !ok {
		return
	}

	req, err := h.review.RequestReupload(ctx, requestcontext.ReviewerID(ctx), reqID, body.Reason)
	if err != nil {
		h.writeError(w, r, "request reupload", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toQueueView(req))
}

type auditEventView struct {
	Category      string `json:"category"`
	Timestamp     string `json:"timestamp"`
	RequestID     string `json:"request_id"`
	SubjectID     string `json:"subject_id"`
	ActorID       string `json:"actor_id"`
	Action        string `json:"action"`
	Outcome       string `json:"outcome,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (h *ReviewHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		events []audit.Event
		err    error
	)
	if raw := r.URL.Query().Get("request_id"); raw != "" {
		reqID, parseErr := id.ParseRequestID(raw)
		if parseErr != nil {
			httputil.WriteError(w, parseErr)
			return
		}
		events, err = h.auditTrail.List(ctx, reqID)
	} else {
		limit := defaultAuditLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, parseErr := strconv.Atoi(raw)
			if parseErr != nil || parsed <= 0 {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
				return
			}
			limit = parsed
		}
		events, err = h.auditTrail.ListRecent(ctx, limit)
	}
	if err != nil {
		h.writeError(w, r, "list audit events", err)
		return
	}

	views := make([]auditEventView, 0, len(events))
	for _, event := range events {
		views = append(views, auditEventView{
			Category:      string(event.Category),
			Timestamp:     event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			RequestID:     event.RequestID.String(),
			SubjectID:     event.SubjectID.String(),
			ActorID:       event.ActorID,
			Action:        event.Action,
			Outcome:       event.Outcome,
			Reason:        event.Reason,
			CorrelationID: event.CorrelationID,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": views})
}

func (h *ReviewHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "operation failed",
			"request_id", requestcontext.RequestID(ctx),
			"operation", op,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
