// Package submission orchestrates the subject-facing half of the pipeline:
// draft creation, asset capture, automated analysis, and hand-off to the
// review queue.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"trustgate/internal/verification/analysis"
	"trustgate/internal/verification/metrics"
	"trustgate/internal/verification/models"
	"trustgate/internal/verification/trustscore"
	id "trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	audit "trustgate/pkg/platform/audit"
	"trustgate/pkg/platform/sentinel"
	"trustgate/pkg/requestcontext"
)

// staleRetries bounds the refetch-and-reapply loop on version conflicts.
const staleRetries = 3

// errRequestSettled aborts an analysis write that lost a race with a reviewer
// decision. Terminal requests take no writes; the late result is dropped.
var errRequestSettled = errors.New("request reached a terminal state")

// RequestStore is the subset of the request store the submission flow needs.
type RequestStore interface {
	Create(ctx context.Context, req *models.VerificationRequest) error
	Get(ctx context.Context, requestID id.RequestID) (*models.VerificationRequest, error)
	Update(ctx context.Context, req *models.VerificationRequest) error
	FindActive(ctx context.Context, subjectID id.SubjectID, docType models.DocumentType) (*models.VerificationRequest, error)
	LatestBySubject(ctx context.Context, subjectID id.SubjectID) (*models.VerificationRequest, error)
}

// Analyzer is the external analysis capability.
type Analyzer interface {
	AnalyzeDocument(ctx context.Context, req analysis.DocumentRequest) (*models.OCRFields, error)
	MatchFace(ctx context.Context, req analysis.FaceMatchRequest) (*models.FaceMatch, error)
}

// AuditPublisher records domain events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service drives a verification request from draft to the review queue.
type Service struct {
	requests RequestStore
	analyzer Analyzer
	audit    AuditPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAuditPublisher attaches the audit emission path.
func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

// WithMetrics attaches verification metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the submission service.
func New(requests RequestStore, analyzer Analyzer, opts ...Option) (*Service, error) {
	if requests == nil {
		return nil, errors.New("request store is required")
	}
	if analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	s := &Service{
		requests: requests,
		analyzer: analyzer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// StartDraft opens a new verification request for the subject. When the
// subject's previous request for the pair ended in rejection this is a
// resubmission: a brand-new request with a fresh base score, linked to the
// old one only through the audit trail.
func (s *Service) StartDraft(ctx context.Context, subjectID id.SubjectID, docType models.DocumentType) (*models.VerificationRequest, error) {
	now := requestcontext.Now(ctx)

	active, err := s.requests.FindActive(ctx, subjectID, docType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up active requests")
	}
	if active != nil {
		return nil, dErrors.New(dErrors.CodeActiveRequestExists, "an active request already exists for this document type")
	}

	previous, err := s.requests.LatestBySubject(ctx, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up prior requests")
	}

	req := models.NewVerificationRequest(id.NewRequestID(), subjectID, docType, trustscore.BaseScore, now)
	if err := s.requests.Create(ctx, req); err != nil {
		// The store's uniqueness constraint backstops the pre-check when two
		// drafts race.
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeActiveRequestExists, "an active request already exists for this document type")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification request")
	}

	s.emit(ctx, audit.Event{
		RequestID: req.ID,
		SubjectID: subjectID,
		ActorID:   subjectID.String(),
		Action:    string(audit.EventRequestCreated),
		Outcome:   "success",
	})
	if previous != nil && previous.Status == models.StatusRejected && previous.DocumentType == docType {
		s.emit(ctx, audit.Event{
			RequestID: req.ID,
			SubjectID: subjectID,
			ActorID:   subjectID.String(),
			Action:    string(audit.EventResubmissionStarted),
			Reason:    fmt.Sprintf("replaces rejected request %s", previous.ID),
		})
	}
	s.metrics.IncTransition(string(models.StatusDraft))

	s.logger.Info("verification draft created",
		"request_id", req.ID.String(),
		"subject_id", subjectID.String(),
		"document_type", string(docType),
	)
	return req, nil
}

// AttachAsset stores a capture in its slot and, once the inputs for a check
// are present, runs the automated analysis. A selfie retake after a failed
// face match replaces the old capture on the same request.
func (s *Service) AttachAsset(ctx context.Context, subjectID id.SubjectID, requestID id.RequestID, asset models.DocumentAsset) (*models.VerificationRequest, error) {
	if err := asset.Validate(); err != nil {
		return nil, err
	}

	req, err := s.mutate(ctx, requestID, func(r *models.VerificationRequest) error {
		if r.SubjectID != subjectID {
			return dErrors.New(dErrors.CodeForbidden, "request belongs to another subject")
		}
		if err := r.CanAttach(asset.Kind); err != nil {
			return err
		}
		r.ApplyAsset(asset, requestcontext.Now(ctx))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		RequestID: requestID,
		SubjectID: subjectID,
		ActorID:   subjectID.String(),
		Action:    string(audit.EventAssetAttached),
		Outcome:   string(asset.Kind),
	})

	return s.runAnalysis(ctx, req)
}

// Submit moves a complete draft into the review queue. Submitting an
// already-submitted request is a no-op returning the current state.
func (s *Service) Submit(ctx context.Context, subjectID id.SubjectID, requestID id.RequestID) (*models.VerificationRequest, error) {
	current, err := s.getOwned(ctx, subjectID, requestID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.StatusSubmitted || current.Status == models.StatusUnderReview {
		return current, nil
	}

	// A draft whose analysis never ran (e.g. uploads raced the analyzer
	// outage) gets one more chance before the completeness check.
	current, err = s.runAnalysis(ctx, current)
	if err != nil {
		return nil, err
	}

	req, err := s.mutate(ctx, requestID, func(r *models.VerificationRequest) error {
		if r.SubjectID != subjectID {
			return dErrors.New(dErrors.CodeForbidden, "request belongs to another subject")
		}
		if err := r.CanSubmit(); err != nil {
			return err
		}
		r.ApplySubmit(requestcontext.Now(ctx))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		RequestID: requestID,
		SubjectID: subjectID,
		ActorID:   subjectID.String(),
		Action:    string(audit.EventRequestSubmitted),
		Outcome:   "success",
	})
	s.metrics.IncTransition(string(models.StatusSubmitted))

	s.logger.Info("verification request submitted",
		"request_id", requestID.String(),
		"manual_review", req.ManualReview,
		"trust_score", req.TrustScore,
	)
	return req, nil
}

// GetStatus returns the subject's view of a request.
func (s *Service) GetStatus(ctx context.Context, subjectID id.SubjectID, requestID id.RequestID) (*models.VerificationRequest, error) {
	return s.getOwned(ctx, subjectID, requestID)
}

// runAnalysis executes whichever checks have their inputs ready and are not
// yet recorded. The two checks run in parallel; any failure degrades the
// request to mandatory manual review rather than blocking the subject.
func (s *Service) runAnalysis(ctx context.Context, req *models.VerificationRequest) (*models.VerificationRequest, error) {
	if req.ManualReview {
		return req, nil
	}

	front, hasFront := req.AssetByKind(models.AssetFront)
	selfie, hasSelfie := req.AssetByKind(models.AssetSelfie)

	needOCR := req.Analysis.OCR == nil && hasFront
	needFace := req.Analysis.Face == nil && hasFront && hasSelfie
	if !needOCR && !needFace {
		return req, nil
	}

	var (
		ocr  *models.OCRFields
		face *models.FaceMatch
	)
	g, gctx := errgroup.WithContext(ctx)
	if needOCR {
		g.Go(func() error {
			start := time.Now()
			var err error
			ocr, err = s.analyzer.AnalyzeDocument(gctx, analysis.DocumentRequest{
				DocumentType: req.DocumentType,
				AssetKind:    models.AssetFront,
				BytesRef:     front.BytesRef,
			})
			s.metrics.ObserveAnalysis("document", time.Since(start))
			return err
		})
	}
	if needFace {
		g.Go(func() error {
			start := time.Now()
			var err error
			face, err = s.analyzer.MatchFace(gctx, analysis.FaceMatchRequest{
				DocumentType:   req.DocumentType,
				FrontBytesRef:  front.BytesRef,
				SelfieBytesRef: selfie.BytesRef,
			})
			s.metrics.ObserveAnalysis("face", time.Since(start))
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return s.degrade(ctx, req, err)
	}

	return s.applyAnalysis(ctx, req.ID, ocr, face)
}

// applyAnalysis merges results and awards score bonuses under the store's
// optimistic lock. Merge is first-wins per check, so a concurrent writer's
// result is never overwritten and bonuses stay one-shot. A result arriving
// after a reviewer decision is dropped without touching the record.
func (s *Service) applyAnalysis(ctx context.Context, requestID id.RequestID, ocr *models.OCRFields, face *models.FaceMatch) (*models.VerificationRequest, error) {
	var tamper, faceFailed bool

	req, err := s.mutate(ctx, requestID, func(r *models.VerificationRequest) error {
		if r.IsTerminal() {
			return errRequestSettled
		}
		now := requestcontext.Now(ctx)
		tamper, faceFailed = false, false

		if ocr != nil && r.MergeOCR(*ocr, now) {
			tamper = ocr.TamperDetected
			if ocr.DocumentNumber != "" {
				score, granted := trustscore.OnOCRSuccess(r.TrustScore, r.OCRBonusGranted)
				r.RaiseTrustScore(score)
				if granted {
					r.OCRBonusGranted = true
				}
			}
		}
		if face != nil && r.MergeFace(*face, now) {
			score, granted, failed := trustscore.OnFaceMatch(r.TrustScore, face.Score, r.FaceBonusGranted)
			r.RaiseTrustScore(score)
			if granted {
				r.FaceBonusGranted = true
			}
			if failed {
				r.FaceMatchFailed = true
				faceFailed = true
			}
		}
		return nil
	})
	if errors.Is(err, errRequestSettled) {
		return s.settledCurrent(ctx, requestID)
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		RequestID: requestID,
		SubjectID: req.SubjectID,
		ActorID:   "system",
		Action:    string(audit.EventAnalysisCompleted),
		Outcome:   "success",
	})
	if tamper {
		s.emit(ctx, audit.Event{
			RequestID: requestID,
			SubjectID: req.SubjectID,
			ActorID:   "system",
			Action:    string(audit.EventTamperDetected),
			Reason:    "document analysis flagged possible tampering",
		})
	}
	if faceFailed {
		s.emit(ctx, audit.Event{
			RequestID: requestID,
			SubjectID: req.SubjectID,
			ActorID:   "system",
			Action:    string(audit.EventFaceMatchFailed),
			Reason:    "face match confidence below threshold",
		})
	}
	return req, nil
}

// degrade flips the request onto the manual-review path after an analyzer
// failure. The subject keeps moving; a human decides without automated
// signals and the unknown risk sorts the request to the front of the queue.
func (s *Service) degrade(ctx context.Context, req *models.VerificationRequest, cause error) (*models.VerificationRequest, error) {
	s.logger.Warn("document analysis unavailable, degrading to manual review",
		"request_id", req.ID.String(),
		"error", cause,
	)

	updated, err := s.mutate(ctx, req.ID, func(r *models.VerificationRequest) error {
		if r.IsTerminal() {
			return errRequestSettled
		}
		if !r.ManualReview {
			r.MarkAnalysisDegraded(requestcontext.Now(ctx))
		}
		return nil
	})
	if errors.Is(err, errRequestSettled) {
		return s.settledCurrent(ctx, req.ID)
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		RequestID: req.ID,
		SubjectID: req.SubjectID,
		ActorID:   "system",
		Action:    string(audit.EventAnalysisDegraded),
		Reason:    cause.Error(),
	})
	s.metrics.IncDegraded()
	return updated, nil
}

// mutate runs a read-validate-apply-write cycle under the store's optimistic
// lock, refetching on version conflicts.
func (s *Service) mutate(ctx context.Context, requestID id.RequestID, apply func(*models.VerificationRequest) error) (*models.VerificationRequest, error) {
	for attempt := 0; ; attempt++ {
		req, err := s.requests.Get(ctx, requestID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, "verification request not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
		}

		if err := apply(req); err != nil {
			return nil, err
		}

		err = s.requests.Update(ctx, req)
		if err == nil {
			return req, nil
		}
		if errors.Is(err, sentinel.ErrStaleWrite) && attempt < staleRetries {
			continue
		}
		if errors.Is(err, sentinel.ErrStaleWrite) {
			return nil, dErrors.New(dErrors.CodeStaleWrite, "request was modified concurrently")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist verification request")
	}
}

// settledCurrent returns the decided record as-is after a dropped analysis
// write. No audit event fires: nothing changed.
func (s *Service) settledCurrent(ctx context.Context, requestID id.RequestID) (*models.VerificationRequest, error) {
	s.logger.Info("dropping analysis result for a decided request",
		"request_id", requestID.String(),
	)
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
	}
	return req, nil
}

func (s *Service) getOwned(ctx context.Context, subjectID id.SubjectID, requestID id.RequestID) (*models.VerificationRequest, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
	}
	if req.SubjectID != subjectID {
		return nil, dErrors.New(dErrors.CodeForbidden, "request belongs to another subject")
	}
	return req, nil
}

// emit writes an audit event, logging failures. Audit loss never fails the
// operation that produced the event.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.CorrelationID = requestcontext.RequestID(ctx)
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.Error("audit emit failed", "action", event.Action, "error", err)
	}
}
