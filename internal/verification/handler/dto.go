package handler

import (
	"time"

	"trustgate/internal/verification/models"
)

type createRequestBody struct {
	DocumentType string `json:"document_type"`
}

type attachAssetBody struct {
	Kind      string `json:"kind"`
	BytesRef  string `json:"bytes_ref"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

type decisionBody struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

type reuploadBody struct {
	Reason string `json:"reason"`
}

type assetView struct {
	Kind       string    `json:"kind"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type decisionView struct {
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// requestView is the subject-facing shape of a verification request. Raw
// analysis output stays internal; the subject sees progress, score, and what
// is still expected of them.
type requestView struct {
	ID                string        `json:"id"`
	DocumentType      string        `json:"document_type"`
	Status            string        `json:"status"`
	TrustScore        int           `json:"trust_score"`
	ManualReview      bool          `json:"manual_review"`
	FaceMatchFailed   bool          `json:"face_match_failed"`
	ReuploadRequested bool          `json:"reupload_requested"`
	MissingAssets     []string      `json:"missing_assets"`
	Assets            []assetView   `json:"assets"`
	Decision          *decisionView `json:"decision,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// queueView is the reviewer-facing shape: it additionally exposes subject,
// risk, and analysis signals the reviewer needs to decide.
type queueView struct {
	ID              string     `json:"id"`
	SubjectID       string     `json:"subject_id"`
	DocumentType    string     `json:"document_type"`
	Status          string     `json:"status"`
	TrustScore      int        `json:"trust_score"`
	RiskScore       *int       `json:"risk_score"`
	ManualReview    bool       `json:"manual_review"`
	TamperDetected  bool       `json:"tamper_detected"`
	FaceMatchScore  *int       `json:"face_match_score,omitempty"`
	FaceMatchFailed bool       `json:"face_match_failed"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// progressView is the polling shape for the subject's progress display.
type progressView struct {
	Status     string `json:"status"`
	TrustScore int    `json:"trust_score"`
}

type claimView struct {
	ReviewerID string    `json:"reviewer_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func toRequestView(req *models.VerificationRequest) requestView {
	view := requestView{
		ID:                req.ID.String(),
		DocumentType:      string(req.DocumentType),
		Status:            string(req.Status),
		TrustScore:        req.TrustScore,
		ManualReview:      req.ManualReview,
		FaceMatchFailed:   req.FaceMatchFailed,
		ReuploadRequested: req.ReuploadRequested,
		MissingAssets:     []string{},
		CreatedAt:         req.CreatedAt,
		UpdatedAt:         req.UpdatedAt,
	}
	for _, kind := range req.MandatoryAssets() {
		if _, ok := req.AssetByKind(kind); !ok {
			view.MissingAssets = append(view.MissingAssets, string(kind))
		}
	}
	for _, asset := range req.Assets {
		view.Assets = append(view.Assets, assetView{
			Kind:       string(asset.Kind),
			MimeType:   asset.MimeType,
			SizeBytes:  asset.SizeBytes,
			UploadedAt: asset.UploadedAt,
		})
	}
	if req.Decision != nil {
		view.Decision = &decisionView{
			ApprovedAt: req.Decision.ApprovedAt,
			RejectedAt: req.Decision.RejectedAt,
			Reason:     req.Decision.Reason,
		}
	}
	return view
}

func toQueueView(req *models.VerificationRequest) queueView {
	view := queueView{
		ID:              req.ID.String(),
		SubjectID:       req.SubjectID.String(),
		DocumentType:    string(req.DocumentType),
		Status:          string(req.Status),
		TrustScore:      req.TrustScore,
		RiskScore:       req.RiskScore,
		ManualReview:    req.ManualReview,
		FaceMatchFailed: req.FaceMatchFailed,
		SubmittedAt:     req.UpdatedAt,
		CreatedAt:       req.CreatedAt,
	}
	if req.Analysis.OCR != nil {
		view.TamperDetected = req.Analysis.OCR.TamperDetected
	}
	if req.Analysis.Face != nil {
		score := req.Analysis.Face.Score
		view.FaceMatchScore = &score
	}
	return view
}
