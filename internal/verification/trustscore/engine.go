// Package trustscore computes the incremental 0-100 trust signal shown to
// subjects as verification progresses.
//
// The score is motivational, not authoritative: feature access is governed by
// request status through the access gate, never by the score alone. That
// split avoids the race where a high score masks an unresolved manual review.
package trustscore

const (
	// BaseScore is assigned when a draft is created.
	BaseScore = 30

	// MaxScore caps the signal.
	MaxScore = 100

	// FaceMatchThreshold is the minimum confidence that earns the face bonus;
	// below it the request is flagged for a selfie retake.
	FaceMatchThreshold = 50

	ocrBonus      = 20
	faceBonus     = 30
	approvalBonus = 20
)

// OnOCRSuccess awards the one-time document-extraction bonus. The bonus is
// granted the first time OCR yields a document number for the request; repeat
// analysis runs earn nothing.
func OnOCRSuccess(prior int, alreadyGranted bool) (score int, granted bool) {
	if alreadyGranted {
		return clamp(prior), false
	}
	return clamp(prior + ocrBonus), true
}

// OnFaceMatch scores a face-match result. Confidence at or above the
// threshold earns the one-time bonus; below it the score is unchanged and
// failed reports that a retake is needed.
func OnFaceMatch(prior, confidence int, alreadyGranted bool) (score int, granted, failed bool) {
	if confidence < FaceMatchThreshold {
		return clamp(prior), false, true
	}
	if alreadyGranted {
		return clamp(prior), false, false
	}
	return clamp(prior + faceBonus), true, false
}

// OnApproval awards the reviewer-approval bonus. Rejection never lowers the
// score; the rejected status alone drives access denial.
func OnApproval(prior int) int {
	return clamp(prior + approvalBonus)
}

// clamp keeps the score within [BaseScore, MaxScore].
func clamp(score int) int {
	if score < BaseScore {
		return BaseScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
