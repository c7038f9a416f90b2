// Package analysis defines the contract with the external document-analysis
// capability (OCR and face matching) and its client implementations.
//
// The capability is strictly pluggable: the pipeline depends only on the
// Analyzer interface, tests substitute mocks, and development runs the
// deterministic stub. Any analyzer failure (timeout, transport error, open
// circuit) degrades the request to mandatory manual review instead of
// failing submission.
package analysis

import (
	"context"

	"trustgate/internal/verification/models"
)

// Analyzer is the external analysis capability.
type Analyzer interface {
	// AnalyzeDocument extracts structured fields from a document capture.
	AnalyzeDocument(ctx context.Context, req DocumentRequest) (*models.OCRFields, error)

	// MatchFace compares a selfie against the document photo.
	MatchFace(ctx context.Context, req FaceMatchRequest) (*models.FaceMatch, error)
}

// DocumentRequest identifies the capture to analyze.
type DocumentRequest struct {
	DocumentType models.DocumentType
	AssetKind    models.AssetKind
	BytesRef     string
}

// FaceMatchRequest pairs the document photo with the selfie.
type FaceMatchRequest struct {
	DocumentType   models.DocumentType
	FrontBytesRef  string
	SelfieBytesRef string
}
