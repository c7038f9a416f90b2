package claim

import (
	"context"
	"sync"
	"time"

	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
	"trustgate/pkg/platform/sentinel"
)

// InMemoryStore keeps leases in process memory. Used in tests and
// single-node development; production uses the redis store.
type InMemoryStore struct {
	mu     sync.Mutex
	claims map[id.RequestID]models.ReviewClaim
	now    func() time.Time
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		claims: make(map[id.RequestID]models.ReviewClaim),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemoryStore) Acquire(_ context.Context, requestID id.RequestID, reviewerID id.ReviewerID, ttl time.Duration) (*models.ReviewClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.claims[requestID]; ok && existing.IsLive(now) {
		if !existing.HeldBy(reviewerID) {
			return nil, sentinel.ErrConflict
		}
		// Same holder: refresh the lease.
		existing.ExpiresAt = now.Add(ttl)
		s.claims[requestID] = existing
		return &existing, nil
	}

	lease := models.ReviewClaim{
		RequestID:  requestID,
		ReviewerID: reviewerID,
		ClaimedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	s.claims[requestID] = lease
	return &lease, nil
}

func (s *InMemoryStore) Get(_ context.Context, requestID id.RequestID) (*models.ReviewClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.claims[requestID]
	if !ok || !existing.IsLive(s.now()) {
		return nil, nil
	}
	return &existing, nil
}

func (s *InMemoryStore) Release(_ context.Context, requestID id.RequestID, reviewerID id.ReviewerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.claims[requestID]
	if !ok || !existing.IsLive(s.now()) {
		return sentinel.ErrNotFound
	}
	if !existing.HeldBy(reviewerID) {
		return sentinel.ErrConflict
	}
	delete(s.claims, requestID)
	return nil
}
