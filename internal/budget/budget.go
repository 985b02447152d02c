// Package budget implements reserve/consume/release bookkeeping against a
// tenant's spending limit, with an immutable transaction ledger.
package budget

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for budget enforcement.
var (
	ErrNoActiveBudget = errors.New("no active budget")
	ErrExceeded       = errors.New("budget limit exceeded")
	// ErrReservationInvalid — the reservation is missing or already terminal.
	ErrReservationInvalid = errors.New("invalid or expired reservation")
)

// Scope identifies what a budget envelope covers.
type Scope string

const (
	ScopeTenant Scope = "tenant"
	ScopeSkill  Scope = "skill"
	ScopeUser   Scope = "user"
)

// Budget is a spending envelope for a scope over a date range.
type Budget struct {
	ID       uuid.UUID
	TenantID string
	Scope    Scope
	// ScopeRef qualifies skill- and user-scoped budgets (skill key or user ID).
	// Empty for tenant scope.
	ScopeRef string

	LimitUSD    float64
	UsedUSD     float64
	ReservedUSD float64
	// HardLimit: reservations that would exceed the limit fail. Soft-limit
	// budgets may be exceeded, with a logged warning.
	HardLimit bool

	PeriodStart time.Time
	PeriodEnd   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailableUSD returns limit − used − reserved.
func (b *Budget) AvailableUSD() float64 {
	return b.LimitUSD - b.UsedUSD - b.ReservedUSD
}

// Covers reports whether the budget's date range includes t.
func (b *Budget) Covers(t time.Time) bool {
	return !t.Before(b.PeriodStart) && t.Before(b.PeriodEnd)
}

// ReservationStatus is the lifecycle of a reservation. Consumed and released
// are terminal.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
)

// Reservation earmarks an amount of budget for one execution.
type Reservation struct {
	ID          uuid.UUID
	BudgetID    uuid.UUID
	TenantID    string
	ExecutionID uuid.UUID
	AmountUSD   float64
	Status      ReservationStatus
	// ActualAmountUSD is recorded at consumption time; nil until then.
	ActualAmountUSD *float64
	CreatedAt       time.Time
	ConsumedAt      *time.Time
	ReleasedAt      *time.Time
}

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TxReserve TransactionType = "reserve"
	TxConsume TransactionType = "consume"
	TxRelease TransactionType = "release"
	TxAdjust  TransactionType = "adjust"
)

// Transaction is one immutable ledger row. Release rows carry a negative amount.
type Transaction struct {
	ID            uuid.UUID
	BudgetID      uuid.UUID
	ReservationID *uuid.UUID
	TenantID      string
	ExecutionID   *uuid.UUID
	Type          TransactionType
	AmountUSD     float64
	CreatedAt     time.Time
}

// Handle is returned from a successful reservation and threaded through to
// consume.
type Handle struct {
	ReservationID uuid.UUID
	BudgetID      uuid.UUID
	AmountUSD     float64
}

// Status is a read-only projection of a budget's position.
type Status struct {
	BudgetID        uuid.UUID `json:"budget_id"`
	TenantID        string    `json:"tenant_id"`
	LimitUSD        float64   `json:"limit_usd"`
	UsedUSD         float64   `json:"used_usd"`
	ReservedUSD     float64   `json:"reserved_usd"`
	AvailableUSD    float64   `json:"available_usd"`
	UtilizationRate float64   `json:"utilization_rate"`
	HardLimit       bool      `json:"hard_limit"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
}
