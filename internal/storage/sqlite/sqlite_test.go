package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tendolabs/tendo/internal/approval"
	"github.com/tendolabs/tendo/internal/audit"
	"github.com/tendolabs/tendo/internal/budget"
	"github.com/tendolabs/tendo/internal/execution"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "tendo.db")}, logger)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testExecution(tenantID, key string) *execution.Execution {
	now := time.Now().UTC()
	return &execution.Execution{
		ID:                     uuid.New(),
		TenantID:               tenantID,
		IdempotencyKey:         key,
		SkillKey:               "refund",
		SkillVersion:           "1.0.0",
		ExecutorType:           execution.ExecutorHuman,
		ExecutorID:             "user-1",
		LegalResponsibleUserID: "user-legal",
		ResponsibilityLevel:    execution.ResponsibilityHumanReviews,
		State:                  execution.StateCreated,
		StateChangedAt:         now,
		Input:                  map[string]any{"order_id": "ord-1", "amount": 12.5},
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// --- Executions ---

func TestExecutionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	store := s.Executions()

	exec := testExecution("acme", "key-1")
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TenantID != "acme" || got.SkillKey != "refund" {
		t.Errorf("got tenant=%q skill=%q", got.TenantID, got.SkillKey)
	}
	if got.Input["order_id"] != "ord-1" {
		t.Errorf("input round trip lost order_id: %v", got.Input)
	}
	if got.State != execution.StateCreated {
		t.Errorf("state = %q, want CREATED", got.State)
	}

	byKey, err := store.GetByIdempotencyKey(ctx, "acme", "key-1")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if byKey.ID != exec.ID {
		t.Errorf("got %s, want %s", byKey.ID, exec.ID)
	}

	// Update and re-read.
	started := time.Now().UTC()
	got.State = execution.StateRunning
	got.StartedAt = &started
	got.ReservedCostUSD = 5
	if err := store.UpdateExecution(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("re-get: %v", err)
	}
	if updated.State != execution.StateRunning || updated.StartedAt == nil || updated.ReservedCostUSD != 5 {
		t.Errorf("update not persisted: state=%q started=%v reserved=%v",
			updated.State, updated.StartedAt, updated.ReservedCostUSD)
	}
}

func TestExecution_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Executions().GetExecution(context.Background(), uuid.New())
	if !errors.Is(err, execution.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecution_IdempotentDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	store := s.Executions()

	if err := store.CreateExecution(ctx, testExecution("acme", "dup-key")); err != nil {
		t.Fatalf("first create: %v", err)
	}

	err := store.CreateExecution(ctx, testExecution("acme", "dup-key"))
	if !errors.Is(err, execution.ErrIdempotentDuplicate) {
		t.Fatalf("expected ErrIdempotentDuplicate, got %v", err)
	}

	// Same key under a different tenant is a distinct identity.
	if err := store.CreateExecution(ctx, testExecution("globex", "dup-key")); err != nil {
		t.Fatalf("cross-tenant create: %v", err)
	}
}

func TestTransitionLog_AppendOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID := uuid.New()
	base := time.Now().UTC()
	steps := []execution.State{execution.StateCreated, execution.StateBudgetReserved, execution.StateRunning}
	for i := 1; i < len(steps); i++ {
		rec := &execution.TransitionRecord{
			ID:          uuid.New(),
			ExecutionID: execID,
			FromState:   steps[i-1],
			ToState:     steps[i],
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.Transitions().AppendTransition(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := s.Transitions().ListTransitions(ctx, execID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].ToState != execution.StateBudgetReserved || records[1].ToState != execution.StateRunning {
		t.Errorf("wrong order: %q then %q", records[0].ToState, records[1].ToState)
	}
}

// --- Budget ledger over SQLite ---

func TestLedger_SQLiteBackend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	store := s.Budgets()
	if err := store.CreateBudget(ctx, &budget.Budget{
		ID:          uuid.New(),
		TenantID:    "acme",
		Scope:       budget.ScopeTenant,
		LimitUSD:    10,
		HardLimit:   true,
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("creating budget: %v", err)
	}

	ledger := budget.NewLedger(store, nil)
	execID := uuid.New()

	handle, err := ledger.Reserve(ctx, "acme", execID, 4)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := ledger.Reserve(ctx, "acme", uuid.New(), 7); !errors.Is(err, budget.ErrExceeded) {
		t.Fatalf("over-limit reserve: expected ErrExceeded, got %v", err)
	}

	if err := ledger.Consume(ctx, handle.ReservationID, 3.5); err != nil {
		t.Fatalf("consume: %v", err)
	}

	status, err := ledger.GetStatus(ctx, "acme")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.UsedUSD != 3.5 || status.ReservedUSD != 0 {
		t.Errorf("used=%v reserved=%v, want 3.5/0", status.UsedUSD, status.ReservedUSD)
	}
	if status.AvailableUSD != 6.5 {
		t.Errorf("available = %v, want 6.5", status.AvailableUSD)
	}

	txs, err := ledger.ListTransactions(ctx, "acme")
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("ledger rows = %d, want reserve then consume", len(txs))
	}
	if txs[0].Type != budget.TxReserve || txs[1].Type != budget.TxConsume {
		t.Errorf("row types = %q, %q", txs[0].Type, txs[1].Type)
	}
	if txs[1].AmountUSD != 3.5 {
		t.Errorf("consume row amount = %v, want 3.5", txs[1].AmountUSD)
	}
}

// --- Approvals ---

func TestApprovalStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	store := s.Approvals()
	now := time.Now().UTC()

	req := &approval.Request{
		ID:          uuid.New(),
		TenantID:    "acme",
		ExecutionID: uuid.New(),
		RequesterID: "user-1",
		Status:      approval.StatusPending,
		Scope:       "skill:refund@1.0.0",
		ExpiresAt:   now.Add(24 * time.Hour),
		CreatedAt:   now,
	}
	if err := store.CreateApproval(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Second pending request for another tenant.
	if err := store.CreateApproval(ctx, &approval.Request{
		ID:          uuid.New(),
		TenantID:    "globex",
		ExecutionID: uuid.New(),
		RequesterID: "user-2",
		Status:      approval.StatusPending,
		ExpiresAt:   now.Add(24 * time.Hour),
		CreatedAt:   now.Add(time.Millisecond),
	}); err != nil {
		t.Fatalf("create second: %v", err)
	}

	pending, err := store.ListPending(ctx, "acme")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != req.ID {
		t.Fatalf("pending = %v, want the acme request only", pending)
	}

	all, err := store.ListPending(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all pending = %d, want 2", len(all))
	}

	// Resolve and verify it leaves the pending list.
	resolved := time.Now().UTC()
	req.Status = approval.StatusApproved
	req.ApproverID = "manager-1"
	req.ApprovedAt = &resolved
	if err := store.UpdateApproval(ctx, req); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetApproval(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != approval.StatusApproved || got.ApproverID != "manager-1" {
		t.Errorf("resolution not persisted: %+v", got)
	}

	pending, err = store.ListPending(ctx, "acme")
	if err != nil {
		t.Fatalf("re-list: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("resolved request still pending")
	}
}

func TestApprovalStore_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Approvals().GetApproval(context.Background(), uuid.New())
	if !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// --- Audit ---

func TestAuditStore_SearchFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	store := s.Audit()
	base := time.Now().UTC().Add(-time.Minute)

	entries := []audit.Entry{
		{Action: audit.ActionExecutionStarted, ActorID: "user-1", Resource: "execution:a"},
		{Action: audit.ActionBudgetReserved, ActorID: "user-1", Resource: "budget:b"},
		{Action: audit.ActionExecutionCompleted, ActorID: "user-2", Resource: "execution:a"},
	}
	for i, e := range entries {
		e.ID = uuid.New()
		e.TenantID = "acme"
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		e.Metadata = map[string]any{"seq": i}
		if err := store.Append(ctx, &e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Newest first, tenant scoped.
	got, err := store.Search(ctx, "acme", audit.Filter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Action != audit.ActionExecutionCompleted {
		t.Errorf("first = %q, want newest", got[0].Action)
	}

	other, err := store.Search(ctx, "globex", audit.Filter{})
	if err != nil {
		t.Fatalf("search other tenant: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("tenant isolation broken: %v", other)
	}

	byActor, err := store.Search(ctx, "acme", audit.Filter{ActorID: "user-1"})
	if err != nil {
		t.Fatalf("search by actor: %v", err)
	}
	if len(byActor) != 2 {
		t.Errorf("by actor len = %d, want 2", len(byActor))
	}

	byResource, err := store.Search(ctx, "acme", audit.Filter{Resource: "execution:a", Limit: 1})
	if err != nil {
		t.Fatalf("search by resource: %v", err)
	}
	if len(byResource) != 1 || byResource[0].Action != audit.ActionExecutionCompleted {
		t.Errorf("by resource = %v", byResource)
	}
}
