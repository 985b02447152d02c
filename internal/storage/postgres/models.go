package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage stored in a JSONB column (TEXT under SQLite).
type JSONB json.RawMessage

// ExecutionModel maps to the "executions" table.
type ExecutionModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID       string    `gorm:"not null;index;uniqueIndex:idx_executions_tenant_idem"`
	IdempotencyKey string    `gorm:"not null;uniqueIndex:idx_executions_tenant_idem"`
	SkillKey       string    `gorm:"not null;index"`
	SkillVersion   string    `gorm:"not null"`

	ExecutorType string `gorm:"not null"`
	ExecutorID   string

	LegalResponsibleUserID string `gorm:"not null"`
	ResponsibilityLevel    int16  `gorm:"not null"`

	State          string `gorm:"not null;index"`
	PreviousState  string
	StateChangedAt time.Time
	StateChangedBy string

	Input JSONB `gorm:"type:jsonb"`

	ReservedCostUSD float64 `gorm:"type:numeric(14,6);not null;default:0"`
	ConsumedCostUSD float64 `gorm:"type:numeric(14,6);not null;default:0"`
	BudgetReleased  bool    `gorm:"not null;default:false"`

	ResultStatus  string
	ResultSummary string
	ErrorCode     string
	ErrorMessage  string

	TraceID           string `gorm:"index"`
	RequestOrigin     string
	ParentExecutionID *uuid.UUID `gorm:"type:uuid"`

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

func (ExecutionModel) TableName() string { return "executions" }

// TransitionModel maps to the append-only "execution_transitions" table.
type TransitionModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExecutionID uuid.UUID `gorm:"type:uuid;not null;index"`
	FromState   string    `gorm:"not null"`
	ToState     string    `gorm:"not null"`
	ActorID     string
	Metadata    JSONB `gorm:"type:jsonb"`
	CreatedAt   time.Time
}

func (TransitionModel) TableName() string { return "execution_transitions" }

// BudgetModel maps to the "budgets" table.
type BudgetModel struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID string    `gorm:"not null;index"`
	Scope    string    `gorm:"not null;default:'tenant'"`
	ScopeRef string

	LimitUSD    float64 `gorm:"type:numeric(14,6);not null"`
	UsedUSD     float64 `gorm:"type:numeric(14,6);not null;default:0"`
	ReservedUSD float64 `gorm:"type:numeric(14,6);not null;default:0"`
	HardLimit   bool    `gorm:"not null;default:true"`

	PeriodStart time.Time `gorm:"not null;index"`
	PeriodEnd   time.Time `gorm:"not null;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (BudgetModel) TableName() string { return "budgets" }

// ReservationModel maps to the "budget_reservations" table.
type ReservationModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	BudgetID    uuid.UUID `gorm:"type:uuid;not null;index"`
	TenantID    string    `gorm:"not null"`
	ExecutionID uuid.UUID `gorm:"type:uuid;not null;index"`
	AmountUSD   float64   `gorm:"type:numeric(14,6);not null"`
	Status      string    `gorm:"not null;default:'reserved'"`

	ActualAmountUSD *float64 `gorm:"type:numeric(14,6)"`

	CreatedAt  time.Time
	ConsumedAt *time.Time
	ReleasedAt *time.Time
}

func (ReservationModel) TableName() string { return "budget_reservations" }

// TransactionModel maps to the append-only "budget_transactions" ledger table.
type TransactionModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	BudgetID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	ReservationID *uuid.UUID `gorm:"type:uuid"`
	TenantID      string     `gorm:"not null;index"`
	ExecutionID   *uuid.UUID `gorm:"type:uuid;index"`
	Type          string     `gorm:"not null"`
	AmountUSD     float64    `gorm:"type:numeric(14,6);not null"`
	CreatedAt     time.Time
}

func (TransactionModel) TableName() string { return "budget_transactions" }

// ApprovalModel maps to the "approvals" table.
type ApprovalModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID    string    `gorm:"not null;index"`
	ExecutionID uuid.UUID `gorm:"type:uuid;not null;index"`
	RequesterID string    `gorm:"not null"`
	ApproverID  string
	Status      string `gorm:"not null;default:'pending';index"`
	Scope       string

	ExpiresAt       time.Time `gorm:"index"`
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason string

	CreatedAt time.Time
}

func (ApprovalModel) TableName() string { return "approvals" }

// AuditEntryModel maps to the append-only "audit_entries" table.
type AuditEntryModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  string    `gorm:"not null;index"`
	Action    string    `gorm:"not null;index"`
	ActorID   string    `gorm:"index"`
	Resource  string    `gorm:"index"`
	Metadata  JSONB     `gorm:"type:jsonb"`
	Timestamp time.Time `gorm:"not null;index"`
}

func (AuditEntryModel) TableName() string { return "audit_entries" }
