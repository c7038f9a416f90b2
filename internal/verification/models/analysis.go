package models

// AnalysisResult accumulates automated analysis output for a request. The
// OCR and face slots are filled independently as the analysis service
// responds per asset; a slot is written once and the first non-nil result
// wins, so concurrent attachments never clobber each other.
type AnalysisResult struct {
	OCR  *OCRFields
	Face *FaceMatch
}

// OCRFields is the structured output of document-side analysis.
type OCRFields struct {
	Name           string
	DocumentNumber string
	DetailsMatch   bool
	TamperDetected bool
	// RiskScore is 0-100, higher is worse.
	RiskScore int
}

// FaceMatch is the output of selfie-to-document comparison.
type FaceMatch struct {
	// Score is 0-100 confidence that both images depict the same person.
	Score int
}

// OCRSucceeded reports whether document-side analysis produced a usable
// document number.
func (r *AnalysisResult) OCRSucceeded() bool {
	return r != nil && r.OCR != nil && r.OCR.DocumentNumber != ""
}

// FaceScore returns the face-match confidence and whether one is present.
func (r *AnalysisResult) FaceScore() (int, bool) {
	if r == nil || r.Face == nil {
		return 0, false
	}
	return r.Face.Score, true
}
