package models

// Status is the lifecycle state of a verification request. Approved and
// Rejected are terminal: no field of a terminal request changes except
// through an audited resubmission, which creates a brand-new request.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

// IsTerminal reports whether the status permits no further mutation.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransitionTo encodes the state machine:
//
//	draft        -> submitted
//	submitted    -> under_review
//	under_review -> submitted (release, expiry, reupload)
//	under_review -> approved | rejected
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusDraft:
		return target == StatusSubmitted
	case StatusSubmitted:
		return target == StatusUnderReview
	case StatusUnderReview:
		return target == StatusSubmitted || target == StatusApproved || target == StatusRejected
	default:
		return false
	}
}

// DocumentType enumerates the identity documents the platform accepts.
type DocumentType string

const (
	DocumentNationalID DocumentType = "national_id"
	DocumentTaxID      DocumentType = "tax_id"
	DocumentPassport   DocumentType = "passport"
)

// ParseDocumentType validates a document type string from a transport boundary.
func ParseDocumentType(s string) (DocumentType, bool) {
	switch DocumentType(s) {
	case DocumentNationalID, DocumentTaxID, DocumentPassport:
		return DocumentType(s), true
	}
	return "", false
}

// RequiresBack reports whether the document needs a back-side capture.
func (d DocumentType) RequiresBack() bool {
	return d == DocumentNationalID
}
