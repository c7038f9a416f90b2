// Package domain holds the strongly typed identifiers shared across modules.
//
// Each ID is a distinct type over uuid.UUID so the compiler rejects mixups
// (passing a ReviewerID where a SubjectID is expected). Parse helpers enforce
// the invariant that IDs are valid, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "trustgate/pkg/domain-errors"
)

type (
	// SubjectID identifies the actor whose identity is being verified
	// (a user, a parent, or a broker account).
	SubjectID uuid.UUID

	// RequestID identifies a single verification request.
	RequestID uuid.UUID

	// ReviewerID identifies an admin reviewer.
	ReviewerID uuid.UUID

	// AssetID identifies a stored document asset.
	AssetID uuid.UUID
)

// NewRequestID allocates a fresh request identifier.
func NewRequestID() RequestID { return RequestID(uuid.New()) }

// NewAssetID allocates a fresh asset identifier.
func NewAssetID() AssetID { return AssetID(uuid.New()) }

func (i SubjectID) String() string  { return uuid.UUID(i).String() }
func (i RequestID) String() string  { return uuid.UUID(i).String() }
func (i ReviewerID) String() string { return uuid.UUID(i).String() }
func (i AssetID) String() string    { return uuid.UUID(i).String() }

func (i SubjectID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }
func (i RequestID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }
func (i ReviewerID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }
func (i AssetID) IsNil() bool    { return uuid.UUID(i) == uuid.Nil }

// ParseSubjectID parses and validates a subject ID from its string form.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parse(s)
	return SubjectID(u), err
}

// ParseRequestID parses and validates a request ID from its string form.
func ParseRequestID(s string) (RequestID, error) {
	u, err := parse(s)
	return RequestID(u), err
}

// ParseReviewerID parses and validates a reviewer ID from its string form.
func ParseReviewerID(s string) (ReviewerID, error) {
	u, err := parse(s)
	return ReviewerID(u), err
}

// ParseAssetID parses and validates an asset ID from its string form.
func ParseAssetID(s string) (AssetID, error) {
	u, err := parse(s)
	return AssetID(u), err
}

func parse(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}
