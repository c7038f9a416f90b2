// Package claim provides the review claim lease store.
//
// A claim is a TTL lease on a verification request held by exactly one
// reviewer at a time. Acquire is atomic: two reviewers racing for the same
// request see exactly one winner. Expired leases are treated as absent, so
// abandoned reviews return to the queue without a background sweeper.
package claim

import (
	"context"
	"time"

	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
)

// Store is the claim lease persistence contract.
type Store interface {
	// Acquire takes the lease for the reviewer. When the same reviewer
	// already holds a live lease the TTL is refreshed. Returns
	// sentinel.ErrConflict when another reviewer holds a live lease.
	Acquire(ctx context.Context, requestID id.RequestID, reviewerID id.ReviewerID, ttl time.Duration) (*models.ReviewClaim, error)

	// Get returns the live lease for the request, or nil when none exists
	// or the lease has expired.
	Get(ctx context.Context, requestID id.RequestID) (*models.ReviewClaim, error)

	// Release drops the lease if the reviewer holds it. Returns
	// sentinel.ErrConflict when another reviewer holds the lease and
	// sentinel.ErrNotFound when no live lease exists.
	Release(ctx context.Context, requestID id.RequestID, reviewerID id.ReviewerID) error
}
