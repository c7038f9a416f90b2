// Package request provides the authoritative store for verification
// requests.
//
// The store is pure I/O plus two structural guarantees the service layer
// cannot provide on its own:
//   - Create rejects a second non-terminal request for the same
//     (subject, document type) pair with sentinel.ErrConflict.
//   - Update is an optimistic compare-and-set on the record version; a write
//     against a stale version fails with sentinel.ErrStaleWrite and the
//     caller refetches and retries.
package request

import (
	"context"

	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
)

// Store is the verification request persistence contract.
type Store interface {
	// Create persists a new draft. Returns sentinel.ErrConflict when a
	// non-terminal request already exists for the (subject, document type)
	// pair.
	Create(ctx context.Context, req *models.VerificationRequest) error

	// Get returns the request or sentinel.ErrNotFound.
	Get(ctx context.Context, requestID id.RequestID) (*models.VerificationRequest, error)

	// Update writes the request if its version matches the stored one, then
	// bumps the version. Returns sentinel.ErrStaleWrite on version mismatch
	// and sentinel.ErrNotFound for unknown requests.
	Update(ctx context.Context, req *models.VerificationRequest) error

	// FindActive returns the non-terminal request for the pair, or nil when
	// none exists.
	FindActive(ctx context.Context, subjectID id.SubjectID, docType models.DocumentType) (*models.VerificationRequest, error)

	// LatestBySubject returns the most recently created request for the
	// subject across all document types, or nil when the subject has none.
	// The access gate bases its decision on this record.
	LatestBySubject(ctx context.Context, subjectID id.SubjectID) (*models.VerificationRequest, error)

	// ListByStatus returns all requests in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.VerificationRequest, error)
}
