package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore keeps approval requests in a map. Used by tests and the
// in-memory storage backend.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*Request
}

// NewInMemoryStore creates an empty in-memory approval store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[uuid.UUID]*Request)}
}

// CreateApproval inserts a request.
func (s *InMemoryStore) CreateApproval(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("approval %s already exists", r.ID)
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

// GetApproval retrieves a request by ID.
func (s *InMemoryStore) GetApproval(_ context.Context, id uuid.UUID) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

// UpdateApproval persists a request's status fields.
func (s *InMemoryStore) UpdateApproval(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[r.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

// ListPending returns pending requests, oldest first. Empty tenantID matches
// all tenants.
func (s *InMemoryStore) ListPending(_ context.Context, tenantID string) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Request
	for _, r := range s.requests {
		if r.Status != StatusPending {
			continue
		}
		if tenantID != "" && r.TenantID != tenantID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
