package submission

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks RequestStore,Analyzer,AuditPublisher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustgate/internal/verification/analysis"
	"trustgate/internal/verification/models"
	"trustgate/internal/verification/service/submission/mocks"
	"trustgate/internal/verification/store/request"
	id "trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	audit "trustgate/pkg/platform/audit"
)

// The submission service is tested against the real in-memory store so the
// optimistic-lock retry path runs for real; the analyzer and audit publisher
// are mocked to script analysis outcomes and assert emitted events.

type SubmissionServiceSuite struct {
	suite.Suite
	ctrl         *gomock.Controller
	store        *request.InMemoryStore
	mockAnalyzer *mocks.MockAnalyzer
	mockAudit    *mocks.MockAuditPublisher
	service      *Service

	subjectID id.SubjectID
	emitted   []audit.Event
}

func TestSubmissionServiceSuite(t *testing.T) {
	suite.Run(t, new(SubmissionServiceSuite))
}

func (s *SubmissionServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = request.NewInMemoryStore()
	s.mockAnalyzer = mocks.NewMockAnalyzer(s.ctrl)
	s.mockAudit = mocks.NewMockAuditPublisher(s.ctrl)
	s.subjectID = id.SubjectID(uuid.New())
	s.emitted = nil

	s.mockAudit.EXPECT().
		Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event audit.Event) error {
			s.emitted = append(s.emitted, event)
			return nil
		}).
		AnyTimes()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var err error
	s.service, err = New(s.store, s.mockAnalyzer,
		WithLogger(logger),
		WithAuditPublisher(s.mockAudit),
	)
	s.Require().NoError(err)
}

func (s *SubmissionServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *SubmissionServiceSuite) emittedActions() []string {
	var actions []string
	for _, e := range s.emitted {
		actions = append(actions, e.Action)
	}
	return actions
}

func makeAsset(kind models.AssetKind) models.DocumentAsset {
	return models.DocumentAsset{
		ID:         id.NewAssetID(),
		Kind:       kind,
		BytesRef:   "blob://" + string(kind) + "-" + uuid.NewString(),
		SizeBytes:  250_000,
		MimeType:   "image/jpeg",
		UploadedAt: time.Now(),
	}
}

func passingOCR() *models.OCRFields {
	return &models.OCRFields{
		Name:           "A. Subject",
		DocumentNumber: "NI-123456",
		DetailsMatch:   true,
		RiskScore:      15,
	}
}

func (s *SubmissionServiceSuite) TestNew() {
	s.Run("nil request store returns error", func() {
		_, err := New(nil, s.mockAnalyzer)
		s.Error(err)
		s.Contains(err.Error(), "request store is required")
	})

	s.Run("nil analyzer returns error", func() {
		_, err := New(s.store, nil)
		s.Error(err)
		s.Contains(err.Error(), "analyzer is required")
	})
}

func (s *SubmissionServiceSuite) TestStartDraft() {
	ctx := context.Background()

	s.Run("creates draft with base score", func() {
		req, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
		s.Require().NoError(err)
		s.Equal(models.StatusDraft, req.Status)
		s.Equal(30, req.TrustScore)
		s.Contains(s.emittedActions(), string(audit.EventRequestCreated))
	})

	s.Run("second active draft for the pair is rejected", func() {
		_, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
		s.True(dErrors.HasCode(err, dErrors.CodeActiveRequestExists))
	})
}

func (s *SubmissionServiceSuite) TestResubmissionAfterRejection() {
	ctx := context.Background()

	first, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	// Reject the first request directly in the store.
	stored, err := s.store.Get(ctx, first.ID)
	s.Require().NoError(err)
	stored.ApplyRejection("document unreadable", time.Now())
	s.Require().NoError(s.store.Update(ctx, stored))

	second, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)
	s.NotEqual(first.ID, second.ID, "resubmission must be a new request")
	s.Equal(30, second.TrustScore, "resubmission starts from the base score")
	s.Contains(s.emittedActions(), string(audit.EventResubmissionStarted))

	// The rejected record stays untouched.
	old, err := s.store.Get(ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, old.Status)
}

// TestHappyPath walks a passport request from draft to submitted: uploads,
// both analysis checks passing, score climbing 30 -> 50 -> 80.
func (s *SubmissionServiceSuite) TestHappyPath() {
	ctx := context.Background()

	draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	s.mockAnalyzer.EXPECT().
		AnalyzeDocument(gomock.Any(), gomock.Any()).
		Return(passingOCR(), nil)
	req, err := s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetFront))
	s.Require().NoError(err)
	s.Equal(50, req.TrustScore, "OCR success grants +20")
	s.Require().NotNil(req.RiskScore)
	s.Equal(15, *req.RiskScore)

	s.mockAnalyzer.EXPECT().
		MatchFace(gomock.Any(), gomock.Any()).
		Return(&models.FaceMatch{Score: 82}, nil)
	req, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetSelfie))
	s.Require().NoError(err)
	s.Equal(80, req.TrustScore, "face match at threshold or above grants +30")
	s.False(req.FaceMatchFailed)

	req, err = s.service.Submit(ctx, s.subjectID, draft.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSubmitted, req.Status)
	s.Contains(s.emittedActions(), string(audit.EventRequestSubmitted))

	s.Run("submit is idempotent", func() {
		again, err := s.service.Submit(ctx, s.subjectID, draft.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, again.Status)
	})
}

// TestFaceMatchFailureAndRetake covers the selfie retake loop: a
// below-threshold match flags the request, the replacement selfie is
// re-scored on the same request, and the bonus lands on the passing retake.
func (s *SubmissionServiceSuite) TestFaceMatchFailureAndRetake() {
	ctx := context.Background()

	draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	s.mockAnalyzer.EXPECT().
		AnalyzeDocument(gomock.Any(), gomock.Any()).
		Return(passingOCR(), nil)
	_, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetFront))
	s.Require().NoError(err)

	s.mockAnalyzer.EXPECT().
		MatchFace(gomock.Any(), gomock.Any()).
		Return(&models.FaceMatch{Score: 41}, nil)
	req, err := s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetSelfie))
	s.Require().NoError(err)
	s.True(req.FaceMatchFailed)
	s.Equal(50, req.TrustScore, "failed match earns no bonus and costs nothing")
	s.Contains(s.emittedActions(), string(audit.EventFaceMatchFailed))

	s.mockAnalyzer.EXPECT().
		MatchFace(gomock.Any(), gomock.Any()).
		Return(&models.FaceMatch{Score: 73}, nil)
	req, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetSelfie))
	s.Require().NoError(err)
	s.False(req.FaceMatchFailed, "retake clears the failure flag")
	s.Equal(80, req.TrustScore, "passing retake earns the bonus")
	s.Equal(draft.ID, req.ID, "retake stays on the same request")
}

// TestAnalyzerOutageDegrades covers the degraded path: the analyzer failing
// must not block the subject, it converts the request to mandatory manual
// review with unknown risk.
func (s *SubmissionServiceSuite) TestAnalyzerOutageDegrades() {
	ctx := context.Background()

	draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	s.mockAnalyzer.EXPECT().
		AnalyzeDocument(gomock.Any(), gomock.Any()).
		Return(nil, context.DeadlineExceeded)
	req, err := s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetFront))
	s.Require().NoError(err, "analyzer failure must not fail the upload")
	s.True(req.ManualReview)
	s.Nil(req.RiskScore, "risk is unknown, not zero")
	s.Equal(30, req.TrustScore, "no automated bonuses on the degraded path")
	s.Contains(s.emittedActions(), string(audit.EventAnalysisDegraded))

	// Degraded requests skip further analysis calls entirely.
	req, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetSelfie))
	s.Require().NoError(err)
	s.True(req.ManualReview)

	// Submission proceeds without OCR output.
	req, err = s.service.Submit(ctx, s.subjectID, draft.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSubmitted, req.Status)
}

func (s *SubmissionServiceSuite) TestTamperDetectionAudited() {
	ctx := context.Background()

	draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	ocr := passingOCR()
	ocr.TamperDetected = true
	s.mockAnalyzer.EXPECT().
		AnalyzeDocument(gomock.Any(), gomock.Any()).
		Return(ocr, nil)
	_, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetFront))
	s.Require().NoError(err)
	s.Contains(s.emittedActions(), string(audit.EventTamperDetected))
}

func (s *SubmissionServiceSuite) TestSubmitValidation() {
	ctx := context.Background()

	s.Run("missing mandatory assets", func() {
		draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentNationalID)
		s.Require().NoError(err)

		_, err = s.service.Submit(ctx, s.subjectID, draft.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeIncompleteSubmission))
	})

	s.Run("national id requires the back capture", func() {
		subjectID := id.SubjectID(uuid.New())
		draft, err := s.service.StartDraft(ctx, subjectID, models.DocumentNationalID)
		s.Require().NoError(err)

		s.mockAnalyzer.EXPECT().
			AnalyzeDocument(gomock.Any(), gomock.Any()).
			Return(passingOCR(), nil)
		_, err = s.service.AttachAsset(ctx, subjectID, draft.ID, makeAsset(models.AssetFront))
		s.Require().NoError(err)

		s.mockAnalyzer.EXPECT().
			MatchFace(gomock.Any(), gomock.Any()).
			Return(&models.FaceMatch{Score: 90}, nil)
		_, err = s.service.AttachAsset(ctx, subjectID, draft.ID, makeAsset(models.AssetSelfie))
		s.Require().NoError(err)

		_, err = s.service.Submit(ctx, subjectID, draft.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeIncompleteSubmission))
	})

	s.Run("unknown request", func() {
		_, err := s.service.Submit(ctx, s.subjectID, id.NewRequestID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *SubmissionServiceSuite) TestOwnership() {
	ctx := context.Background()

	draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	stranger := id.SubjectID(uuid.New())

	_, err = s.service.GetStatus(ctx, stranger, draft.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.AttachAsset(ctx, stranger, draft.ID, makeAsset(models.AssetFront))
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *SubmissionServiceSuite) TestAttachValidation() {
	ctx := context.Background()

	draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	s.Run("oversized asset", func() {
		asset := makeAsset(models.AssetFront)
		asset.SizeBytes = models.MaxAssetSizeBytes + 1
		_, err := s.service.AttachAsset(ctx, s.subjectID, draft.ID, asset)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAsset))
	})

	s.Run("unsupported mime type", func() {
		asset := makeAsset(models.AssetFront)
		asset.MimeType = "image/gif"
		_, err := s.service.AttachAsset(ctx, s.subjectID, draft.ID, asset)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAsset))
	})
}

// TestOCRBonusIsOneShot verifies repeat analysis runs never stack the bonus.
func (s *SubmissionServiceSuite) TestOCRBonusIsOneShot() {
	ctx := context.Background()

	draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	s.mockAnalyzer.EXPECT().
		AnalyzeDocument(gomock.Any(), gomock.Any()).
		Return(passingOCR(), nil)
	req, err := s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetFront))
	s.Require().NoError(err)
	s.Equal(50, req.TrustScore)

	// Replacing the front capture re-runs document analysis, but the bonus
	// granted on the first pass does not stack.
	s.mockAnalyzer.EXPECT().
		AnalyzeDocument(gomock.Any(), gomock.Any()).
		Return(passingOCR(), nil)
	req, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetFront))
	s.Require().NoError(err)
	s.Equal(50, req.TrustScore)
	s.True(req.OCRBonusGranted)
}

// TestFrontRetakeAfterUnreadableDocument covers a front capture whose OCR
// extracts no document number: submission is blocked, and replacing the
// capture re-runs document analysis on the same request instead of leaving
// the subject stranded with an unsubmittable draft.
func (s *SubmissionServiceSuite) TestFrontRetakeAfterUnreadableDocument() {
	ctx := context.Background()

	draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	unreadable := &models.OCRFields{Name: "A. Subject", RiskScore: 55}
	s.mockAnalyzer.EXPECT().
		AnalyzeDocument(gomock.Any(), gomock.Any()).
		Return(unreadable, nil)
	req, err := s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetFront))
	s.Require().NoError(err)
	s.Equal(30, req.TrustScore, "no bonus without a document number")

	s.mockAnalyzer.EXPECT().
		MatchFace(gomock.Any(), gomock.Any()).
		Return(&models.FaceMatch{Score: 85}, nil)
	req, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetSelfie))
	s.Require().NoError(err)
	s.Equal(60, req.TrustScore)

	_, err = s.service.Submit(ctx, s.subjectID, draft.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeIncompleteSubmission))

	// Replacing the front clears the stale document analysis and re-runs it.
	s.mockAnalyzer.EXPECT().
		AnalyzeDocument(gomock.Any(), gomock.Any()).
		Return(passingOCR(), nil)
	req, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetFront))
	s.Require().NoError(err)
	s.Equal(80, req.TrustScore, "readable retake earns the document bonus")
	s.Require().NotNil(req.RiskScore)
	s.Equal(15, *req.RiskScore)

	req, err = s.service.Submit(ctx, s.subjectID, draft.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSubmitted, req.Status)
}

// TestDecisionDuringAnalysisIsFinal covers a selfie retake whose face match
// completes only after a reviewer has already rejected the request: the
// decided record must not change, not its score, not its analysis, not its
// version.
func (s *SubmissionServiceSuite) TestDecisionDuringAnalysisIsFinal() {
	ctx := context.Background()

	draft, err := s.service.StartDraft(ctx, s.subjectID, models.DocumentPassport)
	s.Require().NoError(err)

	s.mockAnalyzer.EXPECT().
		AnalyzeDocument(gomock.Any(), gomock.Any()).
		Return(passingOCR(), nil)
	_, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetFront))
	s.Require().NoError(err)

	s.mockAnalyzer.EXPECT().
		MatchFace(gomock.Any(), gomock.Any()).
		Return(&models.FaceMatch{Score: 41}, nil)
	_, err = s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetSelfie))
	s.Require().NoError(err)

	_, err = s.service.Submit(ctx, s.subjectID, draft.ID)
	s.Require().NoError(err)

	// The rejection lands while the retake's match call is in flight.
	var sealedVersion int64
	s.mockAnalyzer.EXPECT().
		MatchFace(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, analysis.FaceMatchRequest) (*models.FaceMatch, error) {
			stored, err := s.store.Get(ctx, draft.ID)
			s.Require().NoError(err)
			stored.ApplyRejection("document does not match the subject", time.Now())
			s.Require().NoError(s.store.Update(ctx, stored))

			sealed, err := s.store.Get(ctx, draft.ID)
			s.Require().NoError(err)
			sealedVersion = sealed.Version
			return &models.FaceMatch{Score: 95}, nil
		})

	before := len(s.emitted)
	req, err := s.service.AttachAsset(ctx, s.subjectID, draft.ID, makeAsset(models.AssetSelfie))
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, req.Status)

	final, err := s.store.Get(ctx, draft.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, final.Status)
	s.Equal(50, final.TrustScore, "score is frozen at decision time")
	s.Nil(final.Analysis.Face, "late match result is dropped")
	s.False(final.FaceBonusGranted)
	s.Equal(sealedVersion, final.Version, "no write lands on a decided request")

	for _, e := range s.emitted[before:] {
		s.NotEqual(string(audit.EventAnalysisCompleted), e.Action)
	}
}
