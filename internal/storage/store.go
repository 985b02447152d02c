// Package storage defines the unified Store interface that abstracts all
// persistence operations. Two backends are provided: SQLite (default,
// zero-config) and PostgreSQL (production/multi-tenant).
package storage

import (
	"context"

	"github.com/tendolabs/tendo/internal/approval"
	"github.com/tendolabs/tendo/internal/audit"
	"github.com/tendolabs/tendo/internal/budget"
	"github.com/tendolabs/tendo/internal/execution"
)

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// Store is the unified persistence interface for Tendo.
// It provides access to all domain-specific sub-stores through accessor
// methods. Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	// Sub-store accessors — each returns a domain-specific store interface.
	// The returned stores share the same underlying connection.
	Executions() execution.Store
	Transitions() execution.TransitionLogStore
	Budgets() budget.Store
	Approvals() approval.Store
	Audit() audit.Store

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}
