package execution

import "errors"

// Sentinel errors for the execution domain. The engine wraps these with
// fmt.Errorf("%w: ...") so callers can test with errors.Is.
var (
	// ErrInvalidTransition — the (from, to) pair is not in the allow-list.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrActorRequired — the transition needs an identified actor and none was given.
	ErrActorRequired = errors.New("transition requires an identified actor")
	// ErrResponsibilityInvalid — missing legal responsible party or a
	// responsibility level outside the defined range.
	ErrResponsibilityInvalid = errors.New("invalid responsibility assignment")
	// ErrTimeout — the skill handler did not settle within its declared timeout.
	ErrTimeout = errors.New("execution timed out")
	// ErrIdempotentDuplicate — an execution with the same (tenant, idempotency
	// key) already exists. The engine converts this into returning the
	// existing execution's result.
	ErrIdempotentDuplicate = errors.New("duplicate idempotency key")
	// ErrNotFound — no execution with the given identity.
	ErrNotFound = errors.New("execution not found")
)
