package memory

import (
	"context"
	"sync"

	id "trustgate/pkg/domain"
	audit "trustgate/pkg/platform/audit"
)

// InMemoryStore keeps the audit trail per verification request. Used in tests
// and single-node development; production uses the postgres store.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.RequestID][]audit.Event
	order  []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.RequestID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.RequestID][]audit.Event)
	s.order = nil
}

// Append records an event. The trail is append-only: the store exposes no
// delete or update path.
func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.RequestID] = append(s.events[event.RequestID], event)
	s.order = append(s.order, event)
	return nil
}

// ListByRequest returns the trail for one verification request, oldest first.
func (s *InMemoryStore) ListByRequest(_ context.Context, requestID id.RequestID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[requestID]...), nil
}

// ListRecent returns the most recent N events across all requests, newest
// first (compliance feed).
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit > n {
		limit = n
	}
	out := make([]audit.Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.order[i])
	}
	return out, nil
}
