package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tendolabs/tendo/internal/approval"
	"github.com/tendolabs/tendo/internal/audit"
	"github.com/tendolabs/tendo/internal/budget"
	"github.com/tendolabs/tendo/internal/execution"
	"github.com/tendolabs/tendo/internal/piiguard"
	"github.com/tendolabs/tendo/internal/skill"
)

func piiRejectPolicy() piiguard.Policy {
	return piiguard.Policy{InputHasPII: true, Handling: piiguard.HandlingReject}
}

type harness struct {
	engine      *Engine
	executions  *execution.InMemoryStore
	budgets     *budget.InMemoryStore
	approvals   *approval.Manager
	approvalDB  *approval.InMemoryStore
	auditDB     *audit.InMemoryStore
	registry    *skill.Registry
	invocations *atomic.Int64
}

// newHarness wires an engine over in-memory stores with a $10 hard-limit
// budget for tenant "acme" and one registered skill.
func newHarness(t *testing.T, def *skill.Definition) *harness {
	t.Helper()

	execStore := execution.NewInMemoryStore()
	budgetStore := budget.NewInMemoryStore()
	approvalStore := approval.NewInMemoryStore()
	auditStore := audit.NewInMemoryStore()
	registry := skill.NewRegistry()
	if def != nil {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register skill: %v", err)
		}
	}

	now := time.Now().UTC()
	if err := budgetStore.CreateBudget(context.Background(), &budget.Budget{
		ID:          uuid.New(),
		TenantID:    "acme",
		Scope:       budget.ScopeTenant,
		LimitUSD:    10,
		HardLimit:   true,
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(24 * time.Hour),
		CreatedAt:   now,
	}); err != nil {
		t.Fatalf("seed budget: %v", err)
	}

	approvals := approval.NewManager(approvalStore, 0, nil)
	engine := NewEngine(Deps{
		Executions: execStore,
		Machine:    execution.NewStateMachine(execStore, execStore, nil),
		Ledger:     budget.NewLedger(budgetStore, nil),
		Registry:   registry,
		Approvals:  approvals,
		Audit:      audit.NewRecorder(auditStore, nil),
	})

	return &harness{
		engine:      engine,
		executions:  execStore,
		budgets:     budgetStore,
		approvals:   approvals,
		approvalDB:  approvalStore,
		auditDB:     auditStore,
		registry:    registry,
		invocations: &atomic.Int64{},
	}
}

// countingSkill returns a definition whose handler records invocations on
// the harness and reports cost.
func countingSkill(h **harness, cost float64) *skill.Definition {
	return &skill.Definition{
		Key:     "refund",
		Version: "1.0.0",
		Name:    "Refund",
		Handler: func(context.Context, map[string]any, *skill.Context) (*skill.Output, error) {
			(*h).invocations.Add(1)
			return &skill.Output{
				Output:        map[string]any{"refunded": true},
				ActualCostUSD: cost,
			}, nil
		},
		EstimatedCostUSD:       5,
		Timeout:                time.Minute,
		RequiredResponsibility: execution.ResponsibilityAutonomous,
	}
}

func validRequest(key string) *execution.Request {
	level := execution.ResponsibilityHumanReviews
	return &execution.Request{
		TenantID:               "acme",
		SkillKey:               "refund",
		SkillVersion:           "1.0.0",
		Input:                  map[string]any{"order_id": "o-1"},
		IdempotencyKey:         key,
		ExecutorType:           execution.ExecutorAgent,
		ExecutorID:             "agent-1",
		LegalResponsibleUserID: "user-legal",
		ResponsibilityLevel:    &level,
	}
}

func TestExecute_Success(t *testing.T) {
	var h *harness
	h = newHarness(t, countingSkill(&h, 4))
	ctx := context.Background()

	res, err := h.engine.Execute(ctx, validRequest("k-1"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != execution.StateCompleted {
		t.Errorf("state = %s, want COMPLETED", res.State)
	}
	if res.ResultStatus != "success" || res.BudgetConsumed != 4 {
		t.Errorf("result: %+v", res)
	}
	if res.Output["refunded"] != true {
		t.Errorf("output missing: %+v", res.Output)
	}

	exec, err := h.executions.GetExecution(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if exec.StartedAt == nil || exec.CompletedAt == nil {
		t.Error("timestamps not recorded")
	}
	if exec.ReservedCostUSD != 5 || exec.ConsumedCostUSD != 4 {
		t.Errorf("cost fields: reserved=%v consumed=%v", exec.ReservedCostUSD, exec.ConsumedCostUSD)
	}

	status, _ := budget.NewLedger(h.budgets, nil).GetStatus(ctx, "acme")
	if status.UsedUSD != 4 || status.ReservedUSD != 0 {
		t.Errorf("budget: used=%v reserved=%v, want 4/0", status.UsedUSD, status.ReservedUSD)
	}
}

// failConsumeStore rejects the update that marks a reservation consumed,
// simulating a store outage between skill completion and settlement.
type failConsumeStore struct {
	budget.Store
}

func (s *failConsumeStore) InTx(ctx context.Context, fn func(budget.Store) error) error {
	return s.Store.InTx(ctx, func(inner budget.Store) error {
		return fn(&failConsumeStore{Store: inner})
	})
}

func (s *failConsumeStore) UpdateReservation(ctx context.Context, r *budget.Reservation) error {
	if r.Status == budget.ReservationConsumed {
		return errors.New("reservation table unavailable")
	}
	return s.Store.UpdateReservation(ctx, r)
}

func TestExecute_ConsumeFailureReleasesReservation(t *testing.T) {
	var h *harness
	h = newHarness(t, countingSkill(&h, 4))
	ctx := context.Background()

	engine := NewEngine(Deps{
		Executions: h.executions,
		Machine:    execution.NewStateMachine(h.executions, h.executions, nil),
		Ledger:     budget.NewLedger(&failConsumeStore{Store: h.budgets}, nil),
		Registry:   h.registry,
		Approvals:  h.approvals,
		Audit:      audit.NewRecorder(h.auditDB, nil),
	})

	res, err := engine.Execute(ctx, validRequest("k-consume-fail"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != execution.StateCompleted {
		t.Errorf("state = %s, want COMPLETED", res.State)
	}

	// The reservation must not stay held when consume fails.
	status, err := budget.NewLedger(h.budgets, nil).GetStatus(ctx, "acme")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.ReservedUSD != 0 {
		t.Errorf("reserved = %v after failed consume, want 0", status.ReservedUSD)
	}
	if status.UsedUSD != 0 {
		t.Errorf("used = %v, want 0 when consume never landed", status.UsedUSD)
	}

	exec, err := h.executions.GetExecution(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if !exec.BudgetReleased {
		t.Error("budget not marked released")
	}
}

func TestExecute_Idempotency(t *testing.T) {
	var h *harness
	h = newHarness(t, countingSkill(&h, 4))
	ctx := context.Background()

	first, err := h.engine.Execute(ctx, validRequest("k-1"))
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := h.engine.Execute(ctx, validRequest("k-1"))
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if h.invocations.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", h.invocations.Load())
	}
	if second.ExecutionID != first.ExecutionID {
		t.Errorf("replay returned a different execution: %s vs %s", second.ExecutionID, first.ExecutionID)
	}
	if second.State != first.State || second.BudgetConsumed != first.BudgetConsumed {
		t.Errorf("replay result diverged: %+v vs %+v", second, first)
	}

	// Budget touched exactly once.
	status, _ := budget.NewLedger(h.budgets, nil).GetStatus(ctx, "acme")
	if status.UsedUSD != 4 {
		t.Errorf("used = %v after replay, want 4", status.UsedUSD)
	}
}

func TestExecute_ResponsibilityValidation(t *testing.T) {
	var h *harness
	h = newHarness(t, countingSkill(&h, 1))
	ctx := context.Background()

	req := validRequest("k-1")
	req.LegalResponsibleUserID = ""
	if _, err := h.engine.Execute(ctx, req); !errors.Is(err, execution.ErrResponsibilityInvalid) {
		t.Errorf("missing legal user: %v", err)
	}

	req = validRequest("k-2")
	req.ResponsibilityLevel = nil
	if _, err := h.engine.Execute(ctx, req); !errors.Is(err, execution.ErrResponsibilityInvalid) {
		t.Errorf("missing level: %v", err)
	}

	req = validRequest("k-3")
	bad := execution.ResponsibilityLevel(4)
	req.ResponsibilityLevel = &bad
	if _, err := h.engine.Execute(ctx, req); !errors.Is(err, execution.ErrResponsibilityInvalid) {
		t.Errorf("out-of-range level: %v", err)
	}

	// No side effects: nothing was persisted for any of the failed calls.
	for _, key := range []string{"k-1", "k-2", "k-3"} {
		if _, err := h.executions.GetByIdempotencyKey(ctx, "acme", key); !errors.Is(err, execution.ErrNotFound) {
			t.Errorf("record persisted for rejected request %s", key)
		}
	}
}

func TestExecute_SkillNotFound(t *testing.T) {
	var h *harness
	h = newHarness(t, countingSkill(&h, 1))

	req := validRequest("k-1")
	req.SkillKey = "unknown"
	if _, err := h.engine.Execute(context.Background(), req); !errors.Is(err, skill.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecute_InputValidationFailed(t *testing.T) {
	var h *harness
	def := countingSkill(&h, 1)
	v, err := skill.NewSchemaValidator("refund@1.0.0", `{
		"type": "object",
		"required": ["order_id"],
		"properties": {"order_id": {"type": "string"}}
	}`)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	def.Validator = v
	h = newHarness(t, def)
	ctx := context.Background()

	req := validRequest("k-1")
	req.Input = map[string]any{"order_id": 42}
	if _, err := h.engine.Execute(ctx, req); !errors.Is(err, skill.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := h.executions.GetByIdempotencyKey(ctx, "acme", "k-1"); !errors.Is(err, execution.ErrNotFound) {
		t.Error("record persisted for invalid input")
	}
	if h.invocations.Load() != 0 {
		t.Error("handler ran despite invalid input")
	}
}

func TestExecute_PIIPolicyReject(t *testing.T) {
	var h *harness
	def := countingSkill(&h, 1)
	def.UsesLLM = true
	def.PIIPolicy = piiRejectPolicy()
	h = newHarness(t, def)

	_, err := h.engine.Execute(context.Background(), validRequest("k-1"))
	if err == nil || ErrorCode(err) != CodePIIPolicy {
		t.Fatalf("expected PII policy violation, got %v", err)
	}
	if h.invocations.Load() != 0 {
		t.Error("handler ran despite PII rejection")
	}
}

func TestExecute_ApprovalGateAndResume(t *testing.T) {
	var h *harness
	def := countingSkill(&h, 4)
	// Skill permits at most human-approves autonomy; the request asks for
	// more, so it parks.
	def.RequiredResponsibility = execution.ResponsibilityHumanApproves
	h = newHarness(t, def)
	ctx := context.Background()

	res, err := h.engine.Execute(ctx, validRequest("k-1"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != execution.StatePendingApproval {
		t.Fatalf("state = %s, want PENDING_APPROVAL", res.State)
	}
	if h.invocations.Load() != 0 {
		t.Error("handler ran before approval")
	}

	// No budget is held while parked.
	status, _ := budget.NewLedger(h.budgets, nil).GetStatus(ctx, "acme")
	if status.ReservedUSD != 0 {
		t.Errorf("reserved = %v while pending approval", status.ReservedUSD)
	}

	pending, _ := h.approvals.ListPending(ctx, "acme")
	if len(pending) != 1 || pending[0].ExecutionID != res.ExecutionID {
		t.Fatalf("pending approvals: %+v", pending)
	}

	if _, err := h.approvals.Approve(ctx, pending[0].ID, "manager-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	resumed, err := h.engine.ResumeApproved(ctx, res.ExecutionID, "manager-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.State != execution.StateCompleted {
		t.Errorf("resumed state = %s, want COMPLETED", resumed.State)
	}
	if h.invocations.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", h.invocations.Load())
	}

	recs, _ := h.executions.ListTransitions(ctx, res.ExecutionID)
	var sawApproved bool
	for _, rec := range recs {
		if rec.ToState == execution.StateApproved && rec.ActorID == "manager-1" {
			sawApproved = true
		}
	}
	if !sawApproved {
		t.Error("approval transition missing approver actor")
	}
}

func TestExecute_MandatoryApproval(t *testing.T) {
	var h *harness
	def := countingSkill(&h, 1)
	def.RequiresApproval = true
	h = newHarness(t, def)

	res, err := h.engine.Execute(context.Background(), validRequest("k-1"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != execution.StatePendingApproval {
		t.Fatalf("state = %s, want PENDING_APPROVAL", res.State)
	}
}

func TestExecute_BudgetExceeded(t *testing.T) {
	var h *harness
	def := countingSkill(&h, 1)
	def.EstimatedCostUSD = 50 // Over the $10 hard limit.
	h = newHarness(t, def)
	ctx := context.Background()

	_, err := h.engine.Execute(ctx, validRequest("k-1"))
	if !errors.Is(err, budget.ErrExceeded) {
		t.Fatalf("expected ErrExceeded, got %v", err)
	}

	// The record exists and was settled, not left mid-flight.
	exec, getErr := h.executions.GetByIdempotencyKey(ctx, "acme", "k-1")
	if getErr != nil {
		t.Fatalf("get execution: %v", getErr)
	}
	if exec.State != execution.StateCancelled {
		t.Errorf("state = %s, want CANCELLED", exec.State)
	}
	if exec.StateChangedBy != "user-legal" {
		t.Errorf("cancel actor = %q, want the legal responsible user", exec.StateChangedBy)
	}
	if exec.ErrorCode != CodeBudgetExceeded {
		t.Errorf("error code = %s", exec.ErrorCode)
	}

	status, _ := budget.NewLedger(h.budgets, nil).GetStatus(ctx, "acme")
	if status.ReservedUSD != 0 {
		t.Errorf("reserved = %v after failed reserve", status.ReservedUSD)
	}
	if h.invocations.Load() != 0 {
		t.Error("handler ran despite budget failure")
	}
}

func TestExecute_HandlerFailure(t *testing.T) {
	var h *harness
	def := countingSkill(&h, 1)
	def.Handler = func(context.Context, map[string]any, *skill.Context) (*skill.Output, error) {
		return nil, fmt.Errorf("upstream returned 503 for a@b.com")
	}
	h = newHarness(t, def)
	ctx := context.Background()

	_, err := h.engine.Execute(ctx, validRequest("k-1"))
	if err == nil {
		t.Fatal("expected handler error")
	}

	exec, _ := h.executions.GetByIdempotencyKey(ctx, "acme", "k-1")
	if exec.State != execution.StateFailed {
		t.Errorf("state = %s, want FAILED", exec.State)
	}
	if exec.ErrorCode != CodeInternal {
		t.Errorf("error code = %s", exec.ErrorCode)
	}
	// The persisted message passed through the sanitizer.
	if exec.ErrorMessage == "" || exec.ErrorMessage == "upstream returned 503 for a@b.com" {
		t.Errorf("error message not sanitized: %q", exec.ErrorMessage)
	}
	if !exec.BudgetReleased {
		t.Error("budget release not recorded")
	}

	status, _ := budget.NewLedger(h.budgets, nil).GetStatus(ctx, "acme")
	if status.ReservedUSD != 0 || status.UsedUSD != 0 {
		t.Errorf("budget not released: used=%v reserved=%v", status.UsedUSD, status.ReservedUSD)
	}

	failed, _ := audit.NewRecorder(h.auditDB, nil).Search(ctx, "acme", audit.Filter{Action: audit.ActionExecutionFailed})
	if len(failed) != 1 {
		t.Errorf("audit failed entries: %d, want 1", len(failed))
	}
}

func TestExecute_Timeout(t *testing.T) {
	var h *harness
	def := countingSkill(&h, 1)
	def.Timeout = 30 * time.Millisecond
	def.Handler = func(ctx context.Context, _ map[string]any, _ *skill.Context) (*skill.Output, error) {
		<-ctx.Done() // Honors cancellation, but only after the engine stopped waiting.
		return nil, ctx.Err()
	}
	h = newHarness(t, def)
	ctx := context.Background()

	_, err := h.engine.Execute(ctx, validRequest("k-1"))
	if !errors.Is(err, execution.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	exec, _ := h.executions.GetByIdempotencyKey(ctx, "acme", "k-1")
	if exec.State != execution.StateTimeout {
		t.Errorf("state = %s, want TIMEOUT", exec.State)
	}
	if exec.ErrorCode != CodeTimeout {
		t.Errorf("error code = %s", exec.ErrorCode)
	}

	// Exactly one RUNNING→TIMEOUT, and never a COMPLETED.
	recs, _ := h.executions.ListTransitions(ctx, exec.ID)
	var timeouts, completions int
	for _, rec := range recs {
		if rec.FromState == execution.StateRunning && rec.ToState == execution.StateTimeout {
			timeouts++
		}
		if rec.ToState == execution.StateCompleted {
			completions++
		}
	}
	if timeouts != 1 || completions != 0 {
		t.Errorf("transitions: %d timeouts, %d completions", timeouts, completions)
	}

	status, _ := budget.NewLedger(h.budgets, nil).GetStatus(ctx, "acme")
	if status.ReservedUSD != 0 || status.UsedUSD != 0 {
		t.Errorf("budget not released: used=%v reserved=%v", status.UsedUSD, status.ReservedUSD)
	}
}

func TestCancel(t *testing.T) {
	var h *harness
	def := countingSkill(&h, 1)
	def.RequiresApproval = true
	h = newHarness(t, def)
	ctx := context.Background()

	res, err := h.engine.Execute(ctx, validRequest("k-1"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Cancellation always needs an identified actor.
	if err := h.engine.Cancel(ctx, res.ExecutionID, "", "no longer needed"); !errors.Is(err, execution.ErrActorRequired) {
		t.Fatalf("actorless cancel: %v", err)
	}

	if err := h.engine.Cancel(ctx, res.ExecutionID, "user-legal", "no longer needed"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	exec, _ := h.executions.GetExecution(ctx, res.ExecutionID)
	if exec.State != execution.StateCancelled || exec.StateChangedBy != "user-legal" {
		t.Errorf("after cancel: state=%s actor=%q", exec.State, exec.StateChangedBy)
	}

	// Terminal: a second cancel fails.
	if err := h.engine.Cancel(ctx, res.ExecutionID, "user-legal", "again"); !errors.Is(err, execution.ErrInvalidTransition) {
		t.Errorf("second cancel: %v", err)
	}
}
