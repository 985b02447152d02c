// Package execution defines the domain model for skill executions:
// the execution record, its lifecycle state machine, and the store
// interfaces the engine persists through.
package execution

import (
	"time"

	"github.com/google/uuid"
)

// ExecutorType identifies what kind of actor triggered an execution.
type ExecutorType string

const (
	ExecutorHuman  ExecutorType = "human"
	ExecutorAgent  ExecutorType = "agent"
	ExecutorSystem ExecutorType = "system"
)

// ResponsibilityLevel is an ordinal governing how much human involvement an
// execution requires. Lower numbers are stricter.
type ResponsibilityLevel int

const (
	// ResponsibilityHumanExecutes — a human performs the action directly.
	ResponsibilityHumanExecutes ResponsibilityLevel = 0
	// ResponsibilityHumanApproves — AI may act only after human sign-off.
	ResponsibilityHumanApproves ResponsibilityLevel = 1
	// ResponsibilityHumanReviews — AI acts, a human reviews after the fact.
	ResponsibilityHumanReviews ResponsibilityLevel = 2
	// ResponsibilityAutonomous — AI may run fully autonomously (internal-only).
	ResponsibilityAutonomous ResponsibilityLevel = 3
)

// Valid reports whether the level is within the defined range.
func (r ResponsibilityLevel) Valid() bool {
	return r >= ResponsibilityHumanExecutes && r <= ResponsibilityAutonomous
}

// State is a lifecycle state of an execution.
type State string

const (
	StateCreated         State = "CREATED"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateApproved        State = "APPROVED"
	StateBudgetReserved  State = "BUDGET_RESERVED"
	StateRunning         State = "RUNNING"
	StateCompleted       State = "COMPLETED"
	StateFailed          State = "FAILED"
	StateTimeout         State = "TIMEOUT"
	StateCancelled       State = "CANCELLED"
	StateRolledBack      State = "ROLLED_BACK"
)

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateRolledBack:
		return true
	}
	return false
}

// Execution is one attempt to run one skill for one tenant.
// Created by the engine on first receipt of a request, mutated only through
// the StateMachine, never deleted.
type Execution struct {
	ID             uuid.UUID
	TenantID       string
	IdempotencyKey string // Unique per (tenant, key).
	SkillKey       string
	SkillVersion   string

	ExecutorType ExecutorType
	ExecutorID   string

	// LegalResponsibleUserID is the human legally accountable for this
	// execution. Mandatory — an execution is rejected before any side
	// effect if it is absent.
	LegalResponsibleUserID string
	ResponsibilityLevel    ResponsibilityLevel

	State          State
	PreviousState  State
	StateChangedAt time.Time
	StateChangedBy string // Empty = system.

	Input map[string]any

	ReservedCostUSD float64
	ConsumedCostUSD float64
	BudgetReleased  bool

	ResultStatus  string
	ResultSummary string
	ErrorCode     string
	ErrorMessage  string

	TraceID           string
	RequestOrigin     string
	ParentExecutionID *uuid.UUID // Set for skill-calls-skill chains.

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Request is what a caller hands to the engine. One call to Execute per
// request; retries carry the same idempotency key.
type Request struct {
	TenantID       string
	SkillKey       string
	SkillVersion   string
	Input          map[string]any
	IdempotencyKey string

	ExecutorType ExecutorType
	ExecutorID   string

	LegalResponsibleUserID string
	// ResponsibilityLevel must be set explicitly; nil is rejected.
	ResponsibilityLevel *ResponsibilityLevel

	// ApproverIDs is the chain of users allowed to approve, in order of
	// preference. Informational for the approval request's scope.
	ApproverIDs []string

	TraceID           string
	RequestOrigin     string
	ParentExecutionID *uuid.UUID
}

// Result is returned to every caller, including idempotent replays.
type Result struct {
	ExecutionID    uuid.UUID      `json:"execution_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	State          State          `json:"state"`
	ResultStatus   string         `json:"result_status,omitempty"`
	ResultSummary  string         `json:"result_summary,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	BudgetConsumed float64        `json:"budget_consumed,omitempty"`
}

// TransitionRecord is one append-only row in the transition log.
type TransitionRecord struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	FromState   State
	ToState     State
	ActorID     string // Empty = system.
	Metadata    map[string]any
	CreatedAt   time.Time
}
