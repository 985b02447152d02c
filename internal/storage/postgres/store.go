package postgres

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/tendolabs/tendo/internal/approval"
	"github.com/tendolabs/tendo/internal/audit"
	"github.com/tendolabs/tendo/internal/budget"
	"github.com/tendolabs/tendo/internal/execution"
	"github.com/tendolabs/tendo/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *DB

	// Sub-store instances (created lazily on first access).
	mu         sync.Mutex
	executions *ExecutionRepository
	budgets    *BudgetRepository
	approvals  *ApprovalRepository
	auditStore *AuditRepository
}

// NewStore wraps an open database connection as a unified Store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) executionRepo() *ExecutionRepository {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executions == nil {
		s.executions = NewExecutionRepository(s.db.GormDB())
	}
	return s.executions
}

// Executions returns the execution store.
func (s *Store) Executions() execution.Store {
	return s.executionRepo()
}

// Transitions returns the append-only transition log store.
func (s *Store) Transitions() execution.TransitionLogStore {
	return s.executionRepo()
}

// Budgets returns the budget store.
func (s *Store) Budgets() budget.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budgets == nil {
		s.budgets = NewBudgetRepository(s.db.GormDB())
	}
	return s.budgets
}

// Approvals returns the approval store.
func (s *Store) Approvals() approval.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.approvals == nil {
		s.approvals = NewApprovalRepository(s.db.GormDB())
	}
	return s.approvals
}

// Audit returns the audit trail store.
func (s *Store) Audit() audit.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditStore == nil {
		s.auditStore = NewAuditRepository(s.db.GormDB())
	}
	return s.auditStore
}

// Migrate runs GORM AutoMigrate to create/update tables.
func (s *Store) Migrate(_ context.Context) error {
	return AutoMigrate(s.db.GormDB())
}

// Ping checks the database connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB returns the underlying GORM DB for sub-store construction.
func (s *Store) GormDB() *gorm.DB {
	return s.db.GormDB()
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
