package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore implements Store and TransitionLogStore with maps.
// Used in tests and as a zero-config default.
type InMemoryStore struct {
	mu          sync.Mutex
	executions  map[uuid.UUID]*Execution
	byIdemKey   map[string]uuid.UUID // "tenant\x00key" → execution ID
	transitions map[uuid.UUID][]TransitionRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		executions:  make(map[uuid.UUID]*Execution),
		byIdemKey:   make(map[string]uuid.UUID),
		transitions: make(map[uuid.UUID][]TransitionRecord),
	}
}

func idemKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

// CreateExecution inserts a new execution, enforcing idempotency-key uniqueness.
func (s *InMemoryStore) CreateExecution(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; ok {
		return fmt.Errorf("execution %s already exists", exec.ID)
	}
	if exec.IdempotencyKey != "" {
		k := idemKey(exec.TenantID, exec.IdempotencyKey)
		if _, ok := s.byIdemKey[k]; ok {
			return fmt.Errorf("%w: tenant %q key %q", ErrIdempotentDuplicate, exec.TenantID, exec.IdempotencyKey)
		}
		s.byIdemKey[k] = exec.ID
	}

	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *InMemoryStore) GetExecution(_ context.Context, id uuid.UUID) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *exec
	return &cp, nil
}

// GetByIdempotencyKey retrieves an execution by (tenant, idempotency key).
func (s *InMemoryStore) GetByIdempotencyKey(_ context.Context, tenantID, key string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byIdemKey[idemKey(tenantID, key)]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %q key %q", ErrNotFound, tenantID, key)
	}
	cp := *s.executions[id]
	return &cp, nil
}

// UpdateExecution persists the current field values of an existing execution.
func (s *InMemoryStore) UpdateExecution(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, exec.ID)
	}
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

// AppendTransition appends a transition-log row.
func (s *InMemoryStore) AppendTransition(_ context.Context, rec *TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions[rec.ExecutionID] = append(s.transitions[rec.ExecutionID], *rec)
	return nil
}

// ListTransitions returns the transition rows for an execution in append order.
func (s *InMemoryStore) ListTransitions(_ context.Context, executionID uuid.UUID) ([]TransitionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.transitions[executionID]
	out := make([]TransitionRecord, len(recs))
	copy(out, recs)
	return out, nil
}
