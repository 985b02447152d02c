package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tendolabs/tendo/internal/budget"
)

// BudgetRepository implements budget.Store with GORM.
// InTx serializes concurrent reservations on the same budget with
// SELECT ... FOR UPDATE row locks.
type BudgetRepository struct {
	db *gorm.DB
	// locking is set on the transactional view handed to InTx callbacks;
	// budget reads inside a transaction take a row lock.
	locking bool
}

// NewBudgetRepository creates a BudgetRepository.
func NewBudgetRepository(db *gorm.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// InTx runs fn inside a database transaction. Budget reads through the view
// passed to fn lock their rows, so reserve/consume/release sequences are
// atomic with respect to concurrent reservations.
func (r *BudgetRepository) InTx(ctx context.Context, fn func(budget.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&BudgetRepository{db: tx, locking: true})
	})
}

func (r *BudgetRepository) budgetQuery(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	// SQLite has no FOR UPDATE; its transactions serialize writers anyway.
	if r.locking && r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// GetActiveBudget returns the tenant-scoped budget covering at.
func (r *BudgetRepository) GetActiveBudget(ctx context.Context, tenantID string, at time.Time) (*budget.Budget, error) {
	var model BudgetModel
	err := r.budgetQuery(ctx).
		Where("tenant_id = ? AND scope = ? AND period_start <= ? AND period_end > ?",
			tenantID, string(budget.ScopeTenant), at, at).
		Order("period_start DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: tenant %q", budget.ErrNoActiveBudget, tenantID)
		}
		return nil, fmt.Errorf("getting active budget: %w", err)
	}
	return budgetFromModel(&model), nil
}

// GetBudget retrieves a budget by ID.
func (r *BudgetRepository) GetBudget(ctx context.Context, id uuid.UUID) (*budget.Budget, error) {
	var model BudgetModel
	err := r.budgetQuery(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", budget.ErrNoActiveBudget, id)
		}
		return nil, fmt.Errorf("getting budget: %w", err)
	}
	return budgetFromModel(&model), nil
}

// CreateBudget inserts a new budget envelope.
func (r *BudgetRepository) CreateBudget(ctx context.Context, b *budget.Budget) error {
	if err := r.db.WithContext(ctx).Create(budgetToModel(b)).Error; err != nil {
		return fmt.Errorf("creating budget: %w", err)
	}
	return nil
}

// UpdateBudget persists the budget's counters.
func (r *BudgetRepository) UpdateBudget(ctx context.Context, b *budget.Budget) error {
	if err := r.db.WithContext(ctx).Save(budgetToModel(b)).Error; err != nil {
		return fmt.Errorf("updating budget: %w", err)
	}
	return nil
}

// CreateReservation inserts a reservation row.
func (r *BudgetRepository) CreateReservation(ctx context.Context, res *budget.Reservation) error {
	if err := r.db.WithContext(ctx).Create(reservationToModel(res)).Error; err != nil {
		return fmt.Errorf("creating reservation: %w", err)
	}
	return nil
}

// GetReservation retrieves a reservation by ID.
func (r *BudgetRepository) GetReservation(ctx context.Context, id uuid.UUID) (*budget.Reservation, error) {
	var model ReservationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", budget.ErrReservationInvalid, id)
		}
		return nil, fmt.Errorf("getting reservation: %w", err)
	}
	return reservationFromModel(&model), nil
}

// UpdateReservation persists a reservation's status fields.
func (r *BudgetRepository) UpdateReservation(ctx context.Context, res *budget.Reservation) error {
	if err := r.db.WithContext(ctx).Save(reservationToModel(res)).Error; err != nil {
		return fmt.Errorf("updating reservation: %w", err)
	}
	return nil
}

// DeleteReservation removes a reservation row. Compensating action only.
func (r *BudgetRepository) DeleteReservation(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&ReservationModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting reservation: %w", err)
	}
	return nil
}

// ListActiveReservations returns the still-reserved reservations for an execution.
func (r *BudgetRepository) ListActiveReservations(ctx context.Context, executionID uuid.UUID) ([]budget.Reservation, error) {
	var models []ReservationModel
	err := r.db.WithContext(ctx).
		Where("execution_id = ? AND status = ?", executionID, string(budget.ReservationReserved)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing reservations: %w", err)
	}

	result := make([]budget.Reservation, len(models))
	for i := range models {
		result[i] = *reservationFromModel(&models[i])
	}
	return result, nil
}

// AppendTransaction writes an immutable ledger row.
func (r *BudgetRepository) AppendTransaction(ctx context.Context, tx *budget.Transaction) error {
	if err := r.db.WithContext(ctx).Create(transactionToModel(tx)).Error; err != nil {
		return fmt.Errorf("appending budget transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a budget's ledger rows, oldest first.
func (r *BudgetRepository) ListTransactions(ctx context.Context, budgetID uuid.UUID) ([]budget.Transaction, error) {
	var models []TransactionModel
	err := r.db.WithContext(ctx).
		Where("budget_id = ?", budgetID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing budget transactions: %w", err)
	}

	result := make([]budget.Transaction, len(models))
	for i := range models {
		result[i] = *transactionFromModel(&models[i])
	}
	return result, nil
}
