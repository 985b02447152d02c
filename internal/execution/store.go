package execution

import (
	"context"

	"github.com/google/uuid"
)

// Store persists execution records.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateExecution inserts a new execution. Returns ErrIdempotentDuplicate
	// if an execution with the same (tenant, idempotency key) already exists.
	CreateExecution(ctx context.Context, exec *Execution) error
	// GetExecution retrieves an execution by ID. Returns ErrNotFound if absent.
	GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error)
	// GetByIdempotencyKey retrieves an execution by its deduplication identity.
	// Returns ErrNotFound if absent.
	GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*Execution, error)
	// UpdateExecution persists the current field values of an existing execution.
	UpdateExecution(ctx context.Context, exec *Execution) error
}

// TransitionLogStore is an append-only store for state transition rows.
// No update or delete methods — the log is immutable.
type TransitionLogStore interface {
	// AppendTransition writes a single transition row.
	AppendTransition(ctx context.Context, rec *TransitionRecord) error
	// ListTransitions returns the transition rows for an execution in append order.
	ListTransitions(ctx context.Context, executionID uuid.UUID) ([]TransitionRecord, error)
}
