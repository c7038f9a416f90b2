package models

import (
	"time"

	id "trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
)

// AssetKind names the capture slots of a verification request.
type AssetKind string

const (
	AssetFront  AssetKind = "front"
	AssetBack   AssetKind = "back"
	AssetSelfie AssetKind = "selfie"
)

// ParseAssetKind validates an asset kind string from a transport boundary.
func ParseAssetKind(s string) (AssetKind, bool) {
	switch AssetKind(s) {
	case AssetFront, AssetBack, AssetSelfie:
		return AssetKind(s), true
	}
	return "", false
}

// MaxAssetSizeBytes is the upload size ceiling per asset.
const MaxAssetSizeBytes = 8 << 20

var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/webp":      {},
	"application/pdf": {},
}

// DocumentAsset is one uploaded capture. Immutable once analyzed; a selfie
// retake replaces the asset wholesale rather than mutating it.
type DocumentAsset struct {
	ID         id.AssetID
	Kind       AssetKind
	BytesRef   string
	SizeBytes  int64
	MimeType   string
	UploadedAt time.Time
}

// Validate enforces the upload constraints. Violations are caller mistakes:
// fix the file and resend.
func (a DocumentAsset) Validate() error {
	if a.BytesRef == "" {
		return dErrors.New(dErrors.CodeInvalidAsset, "asset bytes reference is required")
	}
	if a.SizeBytes <= 0 {
		return dErrors.New(dErrors.CodeInvalidAsset, "asset size must be positive")
	}
	if a.SizeBytes > MaxAssetSizeBytes {
		return dErrors.Newf(dErrors.CodeInvalidAsset, "asset exceeds %d byte limit", MaxAssetSizeBytes)
	}
	if _, ok := allowedMimeTypes[a.MimeType]; !ok {
		return dErrors.Newf(dErrors.CodeInvalidAsset, "unsupported mime type %q", a.MimeType)
	}
	return nil
}
