package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/tendolabs/tendo/internal/execution"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// ExecutionRepository implements execution.Store and
// execution.TransitionLogStore with GORM.
type ExecutionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository creates an ExecutionRepository.
func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// CreateExecution inserts a new execution row. A unique violation on
// (tenant_id, idempotency_key) maps to execution.ErrIdempotentDuplicate so
// the engine can return the winner's result.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, exec *execution.Execution) error {
	model, err := executionToModel(exec)
	if err != nil {
		return fmt.Errorf("encoding execution: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: tenant %q key %q",
				execution.ErrIdempotentDuplicate, exec.TenantID, exec.IdempotencyKey)
		}
		return fmt.Errorf("creating execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (r *ExecutionRepository) GetExecution(ctx context.Context, id uuid.UUID) (*execution.Execution, error) {
	var model ExecutionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", execution.ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting execution: %w", err)
	}
	return executionFromModel(&model), nil
}

// GetByIdempotencyKey retrieves an execution by its deduplication identity.
func (r *ExecutionRepository) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*execution.Execution, error) {
	var model ExecutionModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND idempotency_key = ?", tenantID, key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: tenant %q key %q", execution.ErrNotFound, tenantID, key)
		}
		return nil, fmt.Errorf("getting execution by idempotency key: %w", err)
	}
	return executionFromModel(&model), nil
}

// UpdateExecution persists the current field values of an existing execution.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, exec *execution.Execution) error {
	model, err := executionToModel(exec)
	if err != nil {
		return fmt.Errorf("encoding execution: %w", err)
	}
	// Save writes all columns, including zero values — the domain struct is
	// the source of truth.
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	return nil
}

// AppendTransition writes a single transition log row.
func (r *ExecutionRepository) AppendTransition(ctx context.Context, rec *execution.TransitionRecord) error {
	model, err := transitionToModel(rec)
	if err != nil {
		return fmt.Errorf("encoding transition: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("appending transition: %w", err)
	}
	return nil
}

// ListTransitions returns the transition rows for an execution in append order.
func (r *ExecutionRepository) ListTransitions(ctx context.Context, executionID uuid.UUID) ([]execution.TransitionRecord, error) {
	var models []TransitionModel
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}

	records := make([]execution.TransitionRecord, len(models))
	for i := range models {
		records[i] = transitionFromModel(&models[i])
	}
	return records, nil
}

// isUniqueViolation covers both backends: GORM's translated error for SQLite
// and the raw PostgreSQL error code when translation is bypassed.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
