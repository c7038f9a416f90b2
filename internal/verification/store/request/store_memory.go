package request

import (
	"context"
	"sync"

	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
	"trustgate/pkg/platform/sentinel"
)

// InMemoryStore keeps requests in process memory. Used in tests and
// single-node development; production uses the postgres store.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.VerificationRequest
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[id.RequestID]*models.VerificationRequest)}
}

func (s *InMemoryStore) Create(_ context.Context, req *models.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.SubjectID == req.SubjectID &&
			existing.DocumentType == req.DocumentType &&
			!existing.IsTerminal() {
			return sentinel.ErrConflict
		}
	}

	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, requestID id.RequestID) (*models.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, req *models.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != req.Version {
		return sentinel.ErrStaleWrite
	}

	req.Version++
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *InMemoryStore) FindActive(_ context.Context, subjectID id.SubjectID, docType models.DocumentType) (*models.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.requests {
		if req.SubjectID == subjectID && req.DocumentType == docType && !req.IsTerminal() {
			return req.Clone(), nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) LatestBySubject(_ context.Context, subjectID id.SubjectID) (*models.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.VerificationRequest
	for _, req := range s.requests {
		if req.SubjectID != subjectID {
			continue
		}
		if latest == nil || req.CreatedAt.After(latest.CreatedAt) {
			latest = req
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, statuses ...models.Status) ([]*models.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[models.Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	var out []*models.VerificationRequest
	for _, req := range s.requests {
		if _, ok := wanted[req.Status]; ok {
			out = append(out, req.Clone())
		}
	}
	return out, nil
}
