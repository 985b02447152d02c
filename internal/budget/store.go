package budget

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store provides persistence for budgets, reservations, and the transaction
// ledger. Implementations must be safe for concurrent use.
type Store interface {
	// GetActiveBudget returns the single tenant-scoped budget whose date range
	// covers at. Returns ErrNoActiveBudget if none exists.
	GetActiveBudget(ctx context.Context, tenantID string, at time.Time) (*Budget, error)
	// GetBudget retrieves a budget by ID. Returns ErrNoActiveBudget if absent.
	GetBudget(ctx context.Context, id uuid.UUID) (*Budget, error)
	// CreateBudget inserts a new budget envelope.
	CreateBudget(ctx context.Context, b *Budget) error
	// UpdateBudget persists the budget's counters.
	UpdateBudget(ctx context.Context, b *Budget) error

	// CreateReservation inserts a reservation row.
	CreateReservation(ctx context.Context, r *Reservation) error
	// GetReservation retrieves a reservation by ID. Returns ErrReservationInvalid if absent.
	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	// UpdateReservation persists a reservation's status fields.
	UpdateReservation(ctx context.Context, r *Reservation) error
	// DeleteReservation removes a reservation row. Used only as the
	// compensating action when the paired budget update fails.
	DeleteReservation(ctx context.Context, id uuid.UUID) error
	// ListActiveReservations returns the still-reserved reservations for an execution.
	ListActiveReservations(ctx context.Context, executionID uuid.UUID) ([]Reservation, error)

	// AppendTransaction writes an immutable ledger row.
	AppendTransaction(ctx context.Context, tx *Transaction) error
	// ListTransactions returns a budget's ledger rows, oldest first.
	ListTransactions(ctx context.Context, budgetID uuid.UUID) ([]Transaction, error)

	// InTx runs fn with a store view whose operations are atomic with respect
	// to concurrent reservations on the same budget. Backends use a database
	// transaction with row locking; the in-memory store uses its mutex.
	InTx(ctx context.Context, fn func(Store) error) error
}
