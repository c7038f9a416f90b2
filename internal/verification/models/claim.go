package models

import (
	"time"

	id "trustgate/pkg/domain"
)

// ReviewClaim is the lease granting one reviewer exclusive decision rights
// over a request. It exists only while the request is under review; expiry
// releases the request back to the queue.
type ReviewClaim struct {
	RequestID  id.RequestID
	ReviewerID id.ReviewerID
	ClaimedAt  time.Time
	ExpiresAt  time.Time
}

// IsLive reports whether the lease is still held at the given instant.
func (c *ReviewClaim) IsLive(now time.Time) bool {
	return c != nil && now.Before(c.ExpiresAt)
}

// HeldBy reports whether the lease belongs to the given reviewer.
func (c *ReviewClaim) HeldBy(reviewerID id.ReviewerID) bool {
	return c != nil && c.ReviewerID == reviewerID
}
