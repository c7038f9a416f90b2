// Package handler exposes the verification pipeline over HTTP: the
// subject-facing submission surface and the reviewer-facing admin surface.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustgate/internal/platform/middleware"
	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	"trustgate/pkg/platform/httputil"
	"trustgate/pkg/requestcontext"
)

// SubmissionService is the subject-facing half of the pipeline.
type SubmissionService interface {
	StartDraft(ctx context.Context, subjectID id.SubjectID, docType models.DocumentType) (*models.VerificationRequest, error)
	AttachAsset(ctx context.Context, subjectID id.SubjectID, requestID id.RequestID, asset models.DocumentAsset) (*models.VerificationRequest, error)
	Submit(ctx context.Context, subjectID id.SubjectID, requestID id.RequestID) (*models.VerificationRequest, error)
	GetStatus(ctx context.Context, subjectID id.SubjectID, requestID id.RequestID) (*models.VerificationRequest, error)
}

// Handler serves the subject endpoints.
type Handler struct {
	submission SubmissionService
	logger     *slog.Logger
	validator  middleware.TokenValidator
}

// New creates the subject-facing handler.
func New(submission SubmissionService, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		submission: submission,
		logger:     logger,
		validator:  validator,
	}
}

// Register mounts the subject routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RequireSubjectAuth(h.validator, h.logger))
		r.Post("/verification/requests", h.handleCreate)
		r.Post("/verification/requests/{requestID}/assets", h.handleAttachAsset)
		r.Post("/verification/requests/{requestID}/submit", h.handleSubmit)
		r.Get("/verification/requests/{requestID}", h.handleGetStatus)
		r.Get("/verification/requests/{requestID}/status", h.handleGetProgress)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, ok := httputil.DecodeAndPrepare[createRequestBody](w, r, h.logger, requestID)
	if !ok {
		return
	}
	docType, ok := models.ParseDocumentType(body.DocumentType)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown document type"))
		return
	}

	req, err := h.submission.StartDraft(ctx, requestcontext.SubjectID(ctx), docType)
	if err != nil {
		h.writeServiceError(w, r, "create verification request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRequestView(req))
}

func (h *Handler) handleAttachAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[attachAssetBody](w, r, h.logger, requestID)
	if !ok {
		return
	}
	kind, ok := models.ParseAssetKind(body.Kind)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown asset kind"))
		return
	}

	asset := models.DocumentAsset{
		ID:         id.NewAssetID(),
		Kind:       kind,
		BytesRef:   body.BytesRef,
		SizeBytes:  body.SizeBytes,
		MimeType:   body.MimeType,
		UploadedAt: time.Now().UTC(),
	}
	req, err := h.submission.AttachAsset(ctx, requestcontext.SubjectID(ctx), reqID, asset)
	if err != nil {
		h.writeServiceError(w, r, "attach asset", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestView(req))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := h.submission.Submit(ctx, requestcontext.SubjectID(ctx), reqID)
	if err != nil {
		h.writeServiceError(w, r, "submit verification request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestView(req))
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := h.submission.GetStatus(ctx, requestcontext.SubjectID(ctx), reqID)
	if err != nil {
		h.writeServiceError(w, r, "get verification status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestView(req))
}

// handleGetProgress returns the slim projection polled by the progress ring
// in the client UI.
func (h *Handler) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := h.submission.GetStatus(ctx, requestcontext.SubjectID(ctx), reqID)
	if err != nil {
		h.writeServiceError(w, r, "get verification progress", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, progressView{
		Status:     string(req.Status),
		TrustScore: req.TrustScore,
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
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
