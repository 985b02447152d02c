package execution

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// transitions is the lifecycle allow-list: from → permitted targets.
// Terminal states (COMPLETED, CANCELLED, ROLLED_BACK) have no entry.
var transitions = map[State][]State{
	StateCreated:         {StatePendingApproval, StateBudgetReserved, StateCancelled},
	StatePendingApproval: {StateApproved, StateCancelled},
	StateApproved:        {StateBudgetReserved, StateCancelled},
	StateBudgetReserved:  {StateRunning, StateCancelled},
	StateRunning:         {StateCompleted, StateFailed, StateTimeout},
	StateFailed:          {StateRolledBack},
	StateTimeout:         {StateRolledBack},
}

// CanTransition reports whether from → to is in the allow-list.
func CanTransition(from, to State) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// requiresActor reports whether the transition must carry an identified actor.
// Every cancellation does, and so does granting an approval. Everything else
// may be performed by the system itself.
func requiresActor(from, to State) bool {
	if to == StateCancelled {
		return true
	}
	return from == StatePendingApproval && to == StateApproved
}

// States returns all lifecycle states. Useful for exhaustive checks in tests.
func States() []State {
	return []State{
		StateCreated, StatePendingApproval, StateApproved, StateBudgetReserved,
		StateRunning, StateCompleted, StateFailed, StateTimeout,
		StateCancelled, StateRolledBack,
	}
}

// StateMachine validates and performs lifecycle transitions, appending to the
// transition log. The log write is best-effort: a failure is logged but never
// rolls back an already-persisted state change.
type StateMachine struct {
	store  Store
	log    TransitionLogStore
	logger *slog.Logger
	now    func() time.Time
}

// NewStateMachine creates a StateMachine over the given stores.
func NewStateMachine(store Store, log TransitionLogStore, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &StateMachine{
		store:  store,
		log:    log,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Transition moves exec to newState on behalf of actorID (empty = system).
// Callers set any accompanying fields (StartedAt, ErrorCode, ...) on exec
// before calling; the machine persists the whole record in one update.
//
// Returns ErrInvalidTransition if the pair is not allowed and ErrActorRequired
// if an actor is mandatory but absent. Metadata, when non-nil, is recorded on
// the transition-log row only.
func (m *StateMachine) Transition(ctx context.Context, exec *Execution, newState State, actorID string, metadata map[string]any) error {
	from := exec.State
	if !CanTransition(from, newState) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, newState)
	}
	if requiresActor(from, newState) && actorID == "" {
		return fmt.Errorf("%w: %s → %s", ErrActorRequired, from, newState)
	}

	now := m.now()
	exec.PreviousState = from
	exec.State = newState
	exec.StateChangedAt = now
	exec.StateChangedBy = actorID
	exec.UpdatedAt = now

	if err := m.store.UpdateExecution(ctx, exec); err != nil {
		// Restore in-memory state so the caller's record matches the store.
		exec.State = from
		exec.PreviousState = ""
		return fmt.Errorf("persisting transition %s → %s: %w", from, newState, err)
	}

	rec := &TransitionRecord{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		FromState:   from,
		ToState:     newState,
		ActorID:     actorID,
		Metadata:    metadata,
		CreatedAt:   now,
	}
	if err := m.log.AppendTransition(ctx, rec); err != nil {
		// The transition itself has already succeeded; surface as a warning only.
		m.logger.WarnContext(ctx, "transition log append failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("from", string(from)),
			slog.String("to", string(newState)),
			slog.String("error", err.Error()),
		)
	}

	m.logger.InfoContext(ctx, "execution state changed",
		slog.String("execution_id", exec.ID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(newState)),
		slog.String("actor_id", actorID),
	)

	return nil
}
