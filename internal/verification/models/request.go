package models

import (
	"time"

	id "trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
)

// VerificationRequest is the aggregate root of the verification pipeline.
//
// Invariants:
//   - At most one non-terminal request exists per (subject, document type);
//     the store enforces this at creation.
//   - TrustScore never decreases while the request is non-terminal.
//   - Terminal requests (approved, rejected) are immutable; resubmission
//     creates a new request and the old record is retained for audit.
//   - ReviewerID is set only while under review or in a terminal state.
//   - Version orders all writes per request; stores reject stale versions.
type VerificationRequest struct {
	ID           id.RequestID
	SubjectID    id.SubjectID
	DocumentType DocumentType
	Status       Status

	Assets   []DocumentAsset
	Analysis AnalysisResult

	TrustScore int
	// RiskScore mirrors the analysis risk. Nil means unknown: analysis never
	// completed, so risk cannot be assumed low and the request requires
	// manual review ahead of known-risk items.
	RiskScore *int

	// ManualReview marks the degraded path taken when the analysis backend
	// was unavailable or timed out. Submission proceeds; approval cannot
	// happen without a human.
	ManualReview bool

	// FaceMatchFailed flags a below-threshold face match. The subject
	// replaces the selfie on the same request; no new request is created.
	FaceMatchFailed bool

	// Bonus flags keep the trust score increments one-shot per request.
	OCRBonusGranted  bool
	FaceBonusGranted bool

	ReviewerID *id.ReviewerID
	Decision   *Decision

	// ReuploadRequested tells the subject a reviewer wants an asset replaced.
	ReuploadRequested bool

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decision records the terminal outcome. Present only in terminal states.
type Decision struct {
	ApprovedAt *time.Time
	RejectedAt *time.Time
	Reason     string
}

// NewVerificationRequest creates a draft with the base trust score.
func NewVerificationRequest(requestID id.RequestID, subjectID id.SubjectID, docType DocumentType, baseScore int, now time.Time) *VerificationRequest {
	return &VerificationRequest{
		ID:           requestID,
		SubjectID:    subjectID,
		DocumentType: docType,
		Status:       StatusDraft,
		TrustScore:   baseScore,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal reports whether the request reached approved or rejected.
func (r *VerificationRequest) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// MandatoryAssets lists the captures required before submission.
func (r *VerificationRequest) MandatoryAssets() []AssetKind {
	kinds := []AssetKind{AssetFront, AssetSelfie}
	if r.DocumentType.RequiresBack() {
		kinds = append(kinds, AssetBack)
	}
	return kinds
}

// AssetByKind returns the asset in the given slot, if attached.
func (r *VerificationRequest) AssetByKind(kind AssetKind) (DocumentAsset, bool) {
	for _, a := range r.Assets {
		if a.Kind == kind {
			return a, true
		}
	}
	return DocumentAsset{}, false
}

// CanAttach checks whether an asset may be attached in the current state.
// Drafts accept any slot; a submitted request accepts only a selfie retake
// after a failed face match.
func (r *VerificationRequest) CanAttach(kind AssetKind) error {
	if r.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition, "request is terminal")
	}
	switch r.Status {
	case StatusDraft:
		return nil
	case StatusSubmitted:
		if kind == AssetSelfie && (r.FaceMatchFailed || r.ReuploadRequested) {
			return nil
		}
		if r.ReuploadRequested {
			return nil
		}
		return dErrors.New(dErrors.CodeInvalidTransition, "submitted request accepts only requested replacements")
	default:
		return dErrors.New(dErrors.CodeInvalidTransition, "request is under review")
	}
}

// ApplyAsset attaches or replaces the capture in the asset's slot. Replacing
// a capture clears the stale analysis result derived from it so the retake is
// re-scored; granted bonuses stay one-shot.
func (r *VerificationRequest) ApplyAsset(asset DocumentAsset, now time.Time) {
	for i, existing := range r.Assets {
		if existing.Kind == asset.Kind {
			r.Assets[i] = asset
			switch asset.Kind {
			case AssetSelfie:
				r.Analysis.Face = nil
				r.FaceMatchFailed = false
				r.FaceBonusGranted = false
			case AssetFront:
				r.Analysis.OCR = nil
				r.RiskScore = nil
			}
			r.UpdatedAt = now
			return
		}
	}
	r.Assets = append(r.Assets, asset)
	r.UpdatedAt = now
}

// MergeOCR records document-side analysis. First non-nil result wins: a slot
// already filled by a concurrent writer is left untouched.
func (r *VerificationRequest) MergeOCR(fields OCRFields, now time.Time) bool {
	if r.Analysis.OCR != nil {
		return false
	}
	r.Analysis.OCR = &fields
	risk := fields.RiskScore
	r.RiskScore = &risk
	r.UpdatedAt = now
	return true
}

// MergeFace records face-match analysis under the same first-wins rule.
func (r *VerificationRequest) MergeFace(face FaceMatch, now time.Time) bool {
	if r.Analysis.Face != nil {
		return false
	}
	r.Analysis.Face = &face
	r.UpdatedAt = now
	return true
}

// MarkAnalysisDegraded converts the request to the mandatory-manual-review
// path: risk becomes unknown so the request sorts to the front of the queue.
func (r *VerificationRequest) MarkAnalysisDegraded(now time.Time) {
	r.ManualReview = true
	r.RiskScore = nil
	r.UpdatedAt = now
}

// RaiseTrustScore increases the score monotonically, capped at 100.
// Automated stages never lower the score; only a rejection's status effect
// changes what the access gate decides.
func (r *VerificationRequest) RaiseTrustScore(to int) {
	if to > r.TrustScore {
		r.TrustScore = to
	}
	if r.TrustScore > 100 {
		r.TrustScore = 100
	}
}

// CanSubmit validates the draft-to-submitted transition. A request on the
// degraded analysis path may submit without OCR output; everything else
// needs the mandatory assets and an OCR-extracted document number.
func (r *VerificationRequest) CanSubmit() error {
	if r.Status != StatusDraft {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot submit from %s", r.Status)
	}
	for _, kind := range r.MandatoryAssets() {
		if _, ok := r.AssetByKind(kind); !ok {
			return dErrors.Newf(dErrors.CodeIncompleteSubmission, "missing %s asset", kind)
		}
	}
	if !r.ManualReview && !r.Analysis.OCRSucceeded() {
		return dErrors.New(dErrors.CodeIncompleteSubmission, "document number not yet extracted")
	}
	return nil
}

// ApplySubmit transitions the draft into the review queue.
func (r *VerificationRequest) ApplySubmit(now time.Time) {
	r.Status = StatusSubmitted
	r.UpdatedAt = now
}

// CanClaim validates the submitted-to-under-review transition.
func (r *VerificationRequest) CanClaim() error {
	if r.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition, "request is terminal")
	}
	if r.Status != StatusSubmitted {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot claim from %s", r.Status)
	}
	return nil
}

// ApplyClaim records the claiming reviewer.
func (r *VerificationRequest) ApplyClaim(reviewerID id.ReviewerID, now time.Time) {
	r.Status = StatusUnderReview
	r.ReviewerID = &reviewerID
	r.UpdatedAt = now
}

// ApplyReturnToQueue sends an under-review request back to submitted. Used
// for voluntary release, lease expiry, and reupload requests.
func (r *VerificationRequest) ApplyReturnToQueue(now time.Time) {
	r.Status = StatusSubmitted
	r.ReviewerID = nil
	r.UpdatedAt = now
}

// CanDecide validates that the acting reviewer may decide this request.
func (r *VerificationRequest) CanDecide(reviewerID id.ReviewerID) error {
	if r.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition, "request already decided")
	}
	if r.Status != StatusUnderReview {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot decide from %s", r.Status)
	}
	if r.ReviewerID == nil || *r.ReviewerID != reviewerID {
		return dErrors.New(dErrors.CodeNotClaimOwner, "request is claimed by another reviewer")
	}
	return nil
}

// ApplyApproval moves the request to its approved terminal state.
func (r *VerificationRequest) ApplyApproval(now time.Time) {
	r.Status = StatusApproved
	r.Decision = &Decision{ApprovedAt: &now}
	r.UpdatedAt = now
}

// ApplyRejection moves the request to its rejected terminal state. The trust
// score keeps its last value; access is denied by status, not score.
func (r *VerificationRequest) ApplyRejection(reason string, now time.Time) {
	r.Status = StatusRejected
	r.Decision = &Decision{RejectedAt: &now, Reason: reason}
	r.UpdatedAt = now
}

// ApplyReuploadRequest flags the request for asset replacement and returns
// it to the queue. The subject replaces the capture on this same request.
func (r *VerificationRequest) ApplyReuploadRequest(now time.Time) {
	r.ReuploadRequested = true
	r.ApplyReturnToQueue(now)
}

// Clone returns a deep copy so in-memory stores never leak shared state.
func (r *VerificationRequest) Clone() *VerificationRequest {
	out := *r
	out.Assets = append([]DocumentAsset(nil), r.Assets...)
	if r.Analysis.OCR != nil {
		ocr := *r.Analysis.OCR
		out.Analysis.OCR = &ocr
	}
	if r.Analysis.Face != nil {
		face := *r.Analysis.Face
		out.Analysis.Face = &face
	}
	if r.RiskScore != nil {
		risk := *r.RiskScore
		out.RiskScore = &risk
	}
	if r.ReviewerID != nil {
		reviewer := *r.ReviewerID
		out.ReviewerID = &reviewer
	}
	if r.Decision != nil {
		decision := *r.Decision
		if r.Decision.ApprovedAt != nil {
			at := *r.Decision.ApprovedAt
			decision.ApprovedAt = &at
		}
		if r.Decision.RejectedAt != nil {
			at := *r.Decision.RejectedAt
			decision.RejectedAt = &at
		}
		out.Decision = &decision
	}
	return &out
}
