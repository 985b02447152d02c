// Package audit records who-did-what-when as an append-only trail. Writes
// are best-effort: a failed append degrades to a warning and never blocks
// the caller's primary operation.
package audit

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable audit record.
type Entry struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id"`
	Resource  string         `json:"resource"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Actions recorded by the engine.
const (
	ActionExecutionStarted   = "execution.started"
	ActionExecutionCompleted = "execution.completed"
	ActionExecutionFailed    = "execution.failed"

	ActionApprovalRequested = "approval.requested"
	ActionApprovalApproved  = "approval.approved"
	ActionApprovalRejected  = "approval.rejected"
	ActionApprovalExpired   = "approval.expired"

	ActionBudgetReserved = "budget.reserved"
	ActionBudgetConsumed = "budget.consumed"
	ActionBudgetReleased = "budget.released"
)

// Filter narrows a Search. Zero values mean "any".
type Filter struct {
	Action   string
	ActorID  string
	Resource string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Store persists audit entries.
type Store interface {
	// Append writes one entry. Implementations must never mutate past rows.
	Append(ctx context.Context, e *Entry) error
	// Search returns entries for the tenant matching the filter, newest first.
	Search(ctx context.Context, tenantID string, f Filter) ([]Entry, error)
}

// Recorder is the write-side API handed to the engine. Every Record* method
// swallows store failures after logging a warning.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a best-effort audit recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one entry. Failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, tenantID, action, actorID, resource string, metadata map[string]any) {
	e := &Entry{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Action:    action,
		ActorID:   actorID,
		Resource:  resource,
		Metadata:  metadata,
		Timestamp: r.now(),
	}
	if err := r.store.Append(ctx, e); err != nil {
		r.logger.WarnContext(ctx, "audit append failed",
			slog.String("tenant_id", tenantID),
			slog.String("action", action),
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
	}
}

// RecordExecution records an execution lifecycle event.
func (r *Recorder) RecordExecution(ctx context.Context, tenantID, action, actorID string, executionID uuid.UUID, metadata map[string]any) {
	r.Record(ctx, tenantID, action, actorID, "execution:"+executionID.String(), metadata)
}

// RecordApproval records an approval decision event.
func (r *Recorder) RecordApproval(ctx context.Context, tenantID, action, actorID string, approvalID uuid.UUID, metadata map[string]any) {
	r.Record(ctx, tenantID, action, actorID, "approval:"+approvalID.String(), metadata)
}

// RecordBudget records a budget event.
func (r *Recorder) RecordBudget(ctx context.Context, tenantID, action, actorID string, budgetID uuid.UUID, metadata map[string]any) {
	r.Record(ctx, tenantID, action, actorID, "budget:"+budgetID.String(), metadata)
}

// Search proxies to the store's filterable read path.
func (r *Recorder) Search(ctx context.Context, tenantID string, f Filter) ([]Entry, error) {
	return r.store.Search(ctx, tenantID, f)
}
