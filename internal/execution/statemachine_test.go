package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestExecution(store *InMemoryStore, state State) *Execution {
	exec := &Execution{
		ID:                     uuid.New(),
		TenantID:               "acme",
		IdempotencyKey:         uuid.NewString(),
		SkillKey:               "reporting.monthly",
		SkillVersion:           "1",
		ExecutorType:           ExecutorAgent,
		ExecutorID:             "agent-1",
		LegalResponsibleUserID: "alice",
		ResponsibilityLevel:    ResponsibilityHumanReviews,
		State:                  state,
		CreatedAt:              time.Now().UTC(),
	}
	if err := store.CreateExecution(context.Background(), exec); err != nil {
		panic(err)
	}
	return exec
}

func TestTransition_AllowListComplete(t *testing.T) {
	allowed := map[State][]State{
		StateCreated:         {StatePendingApproval, StateBudgetReserved, StateCancelled},
		StatePendingApproval: {StateApproved, StateCancelled},
		StateApproved:        {StateBudgetReserved, StateCancelled},
		StateBudgetReserved:  {StateRunning, StateCancelled},
		StateRunning:         {StateCompleted, StateFailed, StateTimeout},
		StateFailed:          {StateRolledBack},
		StateTimeout:         {StateRolledBack},
	}
	isAllowed := func(from, to State) bool {
		for _, s := range allowed[from] {
			if s == to {
				return true
			}
		}
		return false
	}

	ctx := context.Background()
	for _, from := range States() {
		for _, to := range States() {
			store := NewInMemoryStore()
			sm := NewStateMachine(store, store, nil)
			exec := newTestExecution(store, from)

			// Actor supplied so only the allow-list is under test.
			err := sm.Transition(ctx, exec, to, "alice", nil)
			if isAllowed(from, to) {
				if err != nil {
					t.Errorf("%s → %s: expected success, got %v", from, to, err)
				}
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s → %s: expected ErrInvalidTransition, got %v", from, to, err)
			}
		}
	}
}

func TestTransition_TerminalStatesImmutable(t *testing.T) {
	ctx := context.Background()
	for _, terminal := range []State{StateCompleted, StateCancelled, StateRolledBack} {
		for _, to := range States() {
			store := NewInMemoryStore()
			sm := NewStateMachine(store, store, nil)
			exec := newTestExecution(store, terminal)

			if err := sm.Transition(ctx, exec, to, "alice", nil); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s → %s: expected ErrInvalidTransition, got %v", terminal, to, err)
			}
		}
	}
}

func TestTransition_CancelRequiresActor(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sm := NewStateMachine(store, store, nil)
	exec := newTestExecution(store, StateCreated)

	err := sm.Transition(ctx, exec, StateCancelled, "", nil)
	if !errors.Is(err, ErrActorRequired) {
		t.Fatalf("expected ErrActorRequired, got %v", err)
	}
	if exec.State != StateCreated {
		t.Errorf("state mutated on rejected transition: %s", exec.State)
	}

	if err := sm.Transition(ctx, exec, StateCancelled, "alice", nil); err != nil {
		t.Fatalf("cancel with actor: %v", err)
	}

	got, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateCancelled {
		t.Errorf("state = %s, want CANCELLED", got.State)
	}
	if got.StateChangedBy != "alice" {
		t.Errorf("state_changed_by = %q, want alice", got.StateChangedBy)
	}
	if got.PreviousState != StateCreated {
		t.Errorf("previous_state = %s, want CREATED", got.PreviousState)
	}
}

func TestTransition_ApproveRequiresActor(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sm := NewStateMachine(store, store, nil)
	exec := newTestExecution(store, StatePendingApproval)

	if err := sm.Transition(ctx, exec, StateApproved, "", nil); !errors.Is(err, ErrActorRequired) {
		t.Fatalf("expected ErrActorRequired, got %v", err)
	}
	if err := sm.Transition(ctx, exec, StateApproved, "bob", nil); err != nil {
		t.Fatalf("approve with actor: %v", err)
	}
}

func TestTransition_SystemTransitionsNeedNoActor(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sm := NewStateMachine(store, store, nil)
	exec := newTestExecution(store, StateCreated)

	for _, to := range []State{StateBudgetReserved, StateRunning, StateCompleted} {
		if err := sm.Transition(ctx, exec, to, "", nil); err != nil {
			t.Fatalf("system transition to %s: %v", to, err)
		}
	}
}

func TestTransition_AppendsLogRow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sm := NewStateMachine(store, store, nil)
	exec := newTestExecution(store, StateCreated)

	if err := sm.Transition(ctx, exec, StateBudgetReserved, "", map[string]any{"reserved_usd": 2.5}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	recs, err := store.ListTransitions(ctx, exec.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 transition row, got %d", len(recs))
	}
	rec := recs[0]
	if rec.FromState != StateCreated || rec.ToState != StateBudgetReserved {
		t.Errorf("row = %s → %s", rec.FromState, rec.ToState)
	}
	if rec.Metadata["reserved_usd"] != 2.5 {
		t.Errorf("metadata = %v", rec.Metadata)
	}
}

type failingTransitionLog struct{}

func (failingTransitionLog) AppendTransition(context.Context, *TransitionRecord) error {
	return errors.New("log unavailable")
}

func (failingTransitionLog) ListTransitions(context.Context, uuid.UUID) ([]TransitionRecord, error) {
	return nil, nil
}

func TestTransition_LogFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sm := NewStateMachine(store, failingTransitionLog{}, nil)
	exec := newTestExecution(store, StateCreated)

	if err := sm.Transition(ctx, exec, StateBudgetReserved, "", nil); err != nil {
		t.Fatalf("transition should succeed despite log failure, got %v", err)
	}

	got, _ := store.GetExecution(ctx, exec.ID)
	if got.State != StateBudgetReserved {
		t.Errorf("state = %s, want BUDGET_RESERVED", got.State)
	}
}

func TestInMemoryStore_IdempotencyKeyUnique(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := &Execution{ID: uuid.New(), TenantID: "acme", IdempotencyKey: "req-1", State: StateCreated}
	if err := store.CreateExecution(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &Execution{ID: uuid.New(), TenantID: "acme", IdempotencyKey: "req-1", State: StateCreated}
	if err := store.CreateExecution(ctx, dup); !errors.Is(err, ErrIdempotentDuplicate) {
		t.Fatalf("expected ErrIdempotentDuplicate, got %v", err)
	}

	// Same key, different tenant is fine.
	other := &Execution{ID: uuid.New(), TenantID: "globex", IdempotencyKey: "req-1", State: StateCreated}
	if err := store.CreateExecution(ctx, other); err != nil {
		t.Fatalf("create for other tenant: %v", err)
	}

	got, err := store.GetByIdempotencyKey(ctx, "acme", "req-1")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("got execution %s, want %s", got.ID, first.ID)
	}
}
