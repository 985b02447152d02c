package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements Store with maps. All state resets on restart.
// Every exported method takes the store mutex; InTx holds it for the whole
// callback and hands fn an unlocked view, which gives the same isolation the
// database backends get from row locking.
type InMemoryStore struct {
	mu           sync.Mutex
	budgets      map[uuid.UUID]*Budget
	reservations map[uuid.UUID]*Reservation
	transactions []Transaction
}

// NewInMemoryStore creates an empty in-memory budget store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		budgets:      make(map[uuid.UUID]*Budget),
		reservations: make(map[uuid.UUID]*Reservation),
	}
}

// InTx runs fn while holding the store mutex. The view passed to fn skips
// locking; the transaction owns the mutex for its duration.
func (s *InMemoryStore) InTx(_ context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memoryTx{s: s})
}

// GetActiveBudget returns the tenant-scoped budget covering at.
func (s *InMemoryStore) GetActiveBudget(_ context.Context, tenantID string, at time.Time) (*Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getActiveBudget(tenantID, at)
}

// GetBudget retrieves a budget by ID.
func (s *InMemoryStore) GetBudget(_ context.Context, id uuid.UUID) (*Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getBudget(id)
}

// CreateBudget inserts a new budget envelope.
func (s *InMemoryStore) CreateBudget(_ context.Context, b *Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createBudget(b)
}

// UpdateBudget persists the budget's counters.
func (s *InMemoryStore) UpdateBudget(_ context.Context, b *Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateBudget(b)
}

// CreateReservation inserts a reservation row.
func (s *InMemoryStore) CreateReservation(_ context.Context, r *Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createReservation(r)
}

// GetReservation retrieves a reservation by ID.
func (s *InMemoryStore) GetReservation(_ context.Context, id uuid.UUID) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getReservation(id)
}

// UpdateReservation persists a reservation's status fields.
func (s *InMemoryStore) UpdateReservation(_ context.Context, r *Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateReservation(r)
}

// DeleteReservation removes a reservation row.
func (s *InMemoryStore) DeleteReservation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteReservation(id)
}

// ListActiveReservations returns the still-reserved reservations for an execution.
func (s *InMemoryStore) ListActiveReservations(_ context.Context, executionID uuid.UUID) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listActiveReservations(executionID)
}

// AppendTransaction records an immutable ledger row.
func (s *InMemoryStore) AppendTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendTransaction(tx)
}

// ListTransactions returns a budget's ledger rows, oldest first.
func (s *InMemoryStore) ListTransactions(_ context.Context, budgetID uuid.UUID) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listTransactions(budgetID)
}

// Transactions returns a copy of the ledger, oldest first.
func (s *InMemoryStore) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// Unlocked operations. Callers hold the mutex.

func (s *InMemoryStore) getActiveBudget(tenantID string, at time.Time) (*Budget, error) {
	for _, b := range s.budgets {
		if b.TenantID == tenantID && b.Scope == ScopeTenant && b.Covers(at) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: tenant %q at %s", ErrNoActiveBudget, tenantID, at.Format(time.RFC3339))
}

func (s *InMemoryStore) getBudget(id uuid.UUID) (*Budget, error) {
	b, ok := s.budgets[id]
	if !ok {
		return nil, fmt.Errorf("%w: budget %s", ErrNoActiveBudget, id)
	}
	cp := *b
	return &cp, nil
}

func (s *InMemoryStore) createBudget(b *Budget) error {
	if _, ok := s.budgets[b.ID]; ok {
		return fmt.Errorf("budget %s already exists", b.ID)
	}
	cp := *b
	s.budgets[b.ID] = &cp
	return nil
}

func (s *InMemoryStore) updateBudget(b *Budget) error {
	if _, ok := s.budgets[b.ID]; !ok {
		return fmt.Errorf("%w: budget %s", ErrNoActiveBudget, b.ID)
	}
	cp := *b
	s.budgets[b.ID] = &cp
	return nil
}

func (s *InMemoryStore) createReservation(r *Reservation) error {
	cp := *r
	s.reservations[r.ID] = &cp
	return nil
}

func (s *InMemoryStore) getReservation(id uuid.UUID) (*Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: reservation %s", ErrReservationInvalid, id)
	}
	cp := *r
	return &cp, nil
}

func (s *InMemoryStore) updateReservation(r *Reservation) error {
	if _, ok := s.reservations[r.ID]; !ok {
		return fmt.Errorf("%w: reservation %s", ErrReservationInvalid, r.ID)
	}
	cp := *r
	s.reservations[r.ID] = &cp
	return nil
}

func (s *InMemoryStore) deleteReservation(id uuid.UUID) error {
	delete(s.reservations, id)
	return nil
}

func (s *InMemoryStore) listActiveReservations(executionID uuid.UUID) ([]Reservation, error) {
	var out []Reservation
	for _, r := range s.reservations {
		if r.ExecutionID == executionID && r.Status == ReservationReserved {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) appendTransaction(tx *Transaction) error {
	s.transactions = append(s.transactions, *tx)
	return nil
}

func (s *InMemoryStore) listTransactions(budgetID uuid.UUID) ([]Transaction, error) {
	var out []Transaction
	for _, tx := range s.transactions {
		if tx.BudgetID == budgetID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// memoryTx is the view InTx hands its callback. The enclosing transaction
// holds the mutex, so it delegates to the unlocked operations directly.
type memoryTx struct {
	s *InMemoryStore
}

func (t *memoryTx) InTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}

func (t *memoryTx) GetActiveBudget(_ context.Context, tenantID string, at time.Time) (*Budget, error) {
	return t.s.getActiveBudget(tenantID, at)
}

func (t *memoryTx) GetBudget(_ context.Context, id uuid.UUID) (*Budget, error) {
	return t.s.getBudget(id)
}

func (t *memoryTx) CreateBudget(_ context.Context, b *Budget) error {
	return t.s.createBudget(b)
}

func (t *memoryTx) UpdateBudget(_ context.Context, b *Budget) error {
	return t.s.updateBudget(b)
}

func (t *memoryTx) CreateReservation(_ context.Context, r *Reservation) error {
	return t.s.createReservation(r)
}

func (t *memoryTx) GetReservation(_ context.Context, id uuid.UUID) (*Reservation, error) {
	return t.s.getReservation(id)
}

func (t *memoryTx) UpdateReservation(_ context.Context, r *Reservation) error {
	return t.s.updateReservation(r)
}

func (t *memoryTx) DeleteReservation(_ context.Context, id uuid.UUID) error {
	return t.s.deleteReservation(id)
}

func (t *memoryTx) ListActiveReservations(_ context.Context, executionID uuid.UUID) ([]Reservation, error) {
	return t.s.listActiveReservations(executionID)
}

func (t *memoryTx) AppendTransaction(_ context.Context, tx *Transaction) error {
	return t.s.appendTransaction(tx)
}

func (t *memoryTx) ListTransactions(_ context.Context, budgetID uuid.UUID) ([]Transaction, error) {
	return t.s.listTransactions(budgetID)
}
