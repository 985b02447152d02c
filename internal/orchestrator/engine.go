// Package orchestrator implements the execution engine: the single entry
// point that sequences idempotency checks, responsibility validation, skill
// resolution, input and PII validation, approval gating, budget reservation,
// timeout-bounded invocation, and terminal bookkeeping. The collaborating
// components (state machine, ledger, approvals, audit, PII guard) have no
// awareness of each other and are invoked only from here.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tendolabs/tendo/internal/approval"
	"github.com/tendolabs/tendo/internal/audit"
	"github.com/tendolabs/tendo/internal/budget"
	"github.com/tendolabs/tendo/internal/execution"
	"github.com/tendolabs/tendo/internal/llm"
	"github.com/tendolabs/tendo/internal/piiguard"
	"github.com/tendolabs/tendo/internal/skill"
)

// Stable error codes carried on terminal results. Safe to display: every
// message alongside them has passed through the PII sanitizer.
const (
	CodeSkillNotFound       = "SKILL_NOT_FOUND"
	CodeInputValidation     = "INPUT_VALIDATION_FAILED"
	CodeResponsibility      = "RESPONSIBILITY_INVALID"
	CodePIIPolicy           = "PII_POLICY_VIOLATION"
	CodeInvalidTransition   = "INVALID_STATE_TRANSITION"
	CodeActorRequired       = "ACTOR_REQUIRED"
	CodeNoActiveBudget      = "NO_ACTIVE_BUDGET"
	CodeBudgetExceeded      = "BUDGET_EXCEEDED"
	CodeInvalidReservation  = "INVALID_OR_EXPIRED_RESERVATION"
	CodeTimeout             = "EXECUTION_TIMEOUT"
	CodeIdempotentDuplicate = "IDEMPOTENT_DUPLICATE"
	CodeInternal            = "INTERNAL"
)

// defaultSkillTimeout bounds skills that do not declare their own timeout.
const defaultSkillTimeout = 30 * time.Second

// ErrorCode maps a wrapped sentinel onto its stable code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, skill.ErrNotFound):
		return CodeSkillNotFound
	case errors.Is(err, skill.ErrValidation):
		return CodeInputValidation
	case errors.Is(err, execution.ErrResponsibilityInvalid):
		return CodeResponsibility
	case errors.Is(err, piiguard.ErrPolicyViolation):
		return CodePIIPolicy
	case errors.Is(err, execution.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, execution.ErrActorRequired):
		return CodeActorRequired
	case errors.Is(err, budget.ErrNoActiveBudget):
		return CodeNoActiveBudget
	case errors.Is(err, budget.ErrExceeded):
		return CodeBudgetExceeded
	case errors.Is(err, budget.ErrReservationInvalid):
		return CodeInvalidReservation
	case errors.Is(err, execution.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, execution.ErrIdempotentDuplicate):
		return CodeIdempotentDuplicate
	default:
		return CodeInternal
	}
}

// Deps are the collaborators the engine sequences. Executions, StateMachine,
// Ledger, Registry, Approvals, and Audit are required; LLM, Metrics, and
// Tracer are optional.
type Deps struct {
	Executions execution.Store
	Machine    *execution.StateMachine
	Ledger     *budget.Ledger
	Registry   *skill.Registry
	Approvals  *approval.Manager
	Audit      *audit.Recorder
	LLM        llm.Provider
	Metrics    *Metrics
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Engine runs one execution per call to Execute. It spawns no background
// goroutines beyond the per-call timeout race and owns no state that is not
// persisted; it may be invoked concurrently for the same or different tenants.
type Engine struct {
	executions execution.Store
	machine    *execution.StateMachine
	ledger     *budget.Ledger
	registry   *skill.Registry
	approvals  *approval.Manager
	audit      *audit.Recorder
	llm        llm.Provider
	metrics    *Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates an Engine from its collaborators.
func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		executions: deps.Executions,
		machine:    deps.Machine,
		ledger:     deps.Ledger,
		registry:   deps.Registry,
		approvals:  deps.Approvals,
		audit:      deps.Audit,
		llm:        deps.LLM,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one request through the full pipeline. Errors raised before
// the execution record exists leave no persisted side effect; errors raised
// after are first converted into a terminal state, a budget release, and an
// audit entry, then returned.
func (e *Engine) Execute(ctx context.Context, req *execution.Request) (*execution.Result, error) {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.execute",
			trace.WithAttributes(
				attribute.String("tenant_id", req.TenantID),
				attribute.String("skill", req.SkillKey+"@"+req.SkillVersion),
			))
		defer span.End()
	}

	result, err := e.execute(ctx, req)
	if err != nil && e.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
	}
	return result, err
}

func (e *Engine) execute(ctx context.Context, req *execution.Request) (*execution.Result, error) {
	// 1. Idempotency: a retried request returns the first attempt's result
	// unchanged, touching neither budget nor handler.
	if req.IdempotencyKey != "" {
		existing, err := e.executions.GetByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
		switch {
		case err == nil:
			if e.metrics != nil {
				e.metrics.IdempotentReplays.Inc()
			}
			e.logger.InfoContext(ctx, "idempotent replay",
				slog.String("tenant_id", req.TenantID),
				slog.String("idempotency_key", req.IdempotencyKey),
				slog.String("execution_id", existing.ID.String()),
			)
			return resultOf(existing, nil), nil
		case !errors.Is(err, execution.ErrNotFound):
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	// 2. Responsibility validation. Both fields are mandatory before any
	// side effect occurs.
	if req.LegalResponsibleUserID == "" {
		return nil, fmt.Errorf("%w: legal responsible user is required", execution.ErrResponsibilityInvalid)
	}
	if req.ResponsibilityLevel == nil {
		return nil, fmt.Errorf("%w: responsibility level is required", execution.ErrResponsibilityInvalid)
	}
	level := *req.ResponsibilityLevel
	if !level.Valid() {
		return nil, fmt.Errorf("%w: level %d outside [0,3]", execution.ErrResponsibilityInvalid, level)
	}

	// 3. Skill resolution.
	def, err := e.registry.Get(req.SkillKey, req.SkillVersion)
	if err != nil {
		return nil, err
	}

	// 4. Input validation against the skill's declared schema.
	if def.Validator != nil {
		if violations := def.Validator.Validate(req.Input); len(violations) > 0 {
			return nil, fmt.Errorf("%w for %s: %s", skill.ErrValidation, def.Ref(), formatViolations(violations))
		}
	}

	// 5. PII policy enforcement. For LLM-using skills the input handed to
	// the handler is the masked copy.
	input := req.Input
	if def.UsesLLM {
		input, err = piiguard.ValidateForLLM(def.PIIPolicy, req.Input)
		if err != nil {
			return nil, err
		}
	}

	// 6. Execution record in CREATED.
	now := e.now()
	traceID := req.TraceID
	if traceID == "" {
		traceID = ulid.Make().String()
	}
	exec := &execution.Execution{
		ID:                     uuid.New(),
		TenantID:               req.TenantID,
		IdempotencyKey:         req.IdempotencyKey,
		SkillKey:               req.SkillKey,
		SkillVersion:           req.SkillVersion,
		ExecutorType:           req.ExecutorType,
		ExecutorID:             req.ExecutorID,
		LegalResponsibleUserID: req.LegalResponsibleUserID,
		ResponsibilityLevel:    level,
		State:                  execution.StateCreated,
		StateChangedAt:         now,
		Input:                  input,
		TraceID:                traceID,
		RequestOrigin:          req.RequestOrigin,
		ParentExecutionID:      req.ParentExecutionID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := e.executions.CreateExecution(ctx, exec); err != nil {
		if errors.Is(err, execution.ErrIdempotentDuplicate) {
			// Lost a race with a concurrent retry; its record wins.
			existing, getErr := e.executions.GetByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
			if getErr != nil {
				return nil, fmt.Errorf("fetching winning duplicate: %w", getErr)
			}
			return resultOf(existing, nil), nil
		}
		return nil, fmt.Errorf("creating execution: %w", err)
	}
	e.audit.RecordExecution(ctx, exec.TenantID, audit.ActionExecutionStarted, exec.ExecutorID, exec.ID, map[string]any{
		"skill":    def.Ref(),
		"trace_id": exec.TraceID,
	})

	// 7. Approval gate: a skill that mandates sign-off, or a caller asking
	// for more autonomy than the skill permits, parks here.
	if def.RequiresApproval || level > def.RequiredResponsibility {
		if err := e.machine.Transition(ctx, exec, execution.StatePendingApproval, "", nil); err != nil {
			return nil, err
		}
		requester := exec.ExecutorID
		if requester == "" {
			requester = exec.LegalResponsibleUserID
		}
		ar, err := e.approvals.Create(ctx, exec.TenantID, exec.ID, requester, "skill:"+def.Ref())
		if err != nil {
			return nil, err
		}
		e.audit.RecordApproval(ctx, exec.TenantID, audit.ActionApprovalRequested, requester, ar.ID, map[string]any{
			"execution_id": exec.ID.String(),
			"expires_at":   ar.ExpiresAt.Format(time.RFC3339),
		})
		if e.metrics != nil {
			e.metrics.ApprovalsGated.Inc()
		}
		return resultOf(exec, nil), nil
	}

	// 8–11. Reserve, run, settle.
	return e.reserveAndRun(ctx, exec, def)
}

// ResumeApproved picks up an execution parked in PENDING_APPROVAL after its
// approval request has been granted, and runs it to a terminal state.
func (e *Engine) ResumeApproved(ctx context.Context, executionID uuid.UUID, approverID string) (*execution.Result, error) {
	exec, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	def, err := e.registry.Get(exec.SkillKey, exec.SkillVersion)
	if err != nil {
		return nil, err
	}

	if err := e.machine.Transition(ctx, exec, execution.StateApproved, approverID, nil); err != nil {
		return nil, err
	}
	e.audit.RecordExecution(ctx, exec.TenantID, audit.ActionApprovalApproved, approverID, exec.ID, nil)

	return e.reserveAndRun(ctx, exec, def)
}

// Cancel transitions a not-yet-running execution to CANCELLED on behalf of
// actorID and frees any budget it holds.
func (e *Engine) Cancel(ctx context.Context, executionID uuid.UUID, actorID, reason string) error {
	exec, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	exec.ResultStatus = "cancelled"
	exec.ErrorMessage = piiguard.SanitizeErrorMessage(reason)
	if err := e.machine.Transition(ctx, exec, execution.StateCancelled, actorID, nil); err != nil {
		return err
	}
	e.releaseBudget(ctx, exec)
	e.audit.RecordExecution(ctx, exec.TenantID, audit.ActionExecutionFailed, actorID, exec.ID, map[string]any{
		"reason": exec.ErrorMessage,
	})
	return nil
}

// reserveAndRun is steps 8–11, shared by the direct path and the
// resume-after-approval path. exec is in CREATED or APPROVED on entry.
func (e *Engine) reserveAndRun(ctx context.Context, exec *execution.Execution, def *skill.Definition) (*execution.Result, error) {
	// 8. Budget reservation.
	handle, err := e.ledger.Reserve(ctx, exec.TenantID, exec.ID, def.EstimatedCostUSD)
	if err != nil {
		return nil, e.settleReserveFailure(ctx, exec, err)
	}
	exec.ReservedCostUSD = handle.AmountUSD
	if err := e.machine.Transition(ctx, exec, execution.StateBudgetReserved, "", nil); err != nil {
		return nil, err
	}
	e.audit.RecordBudget(ctx, exec.TenantID, audit.ActionBudgetReserved, exec.ExecutorID, handle.BudgetID, map[string]any{
		"execution_id": exec.ID.String(),
		"amount_usd":   handle.AmountUSD,
	})
	if e.metrics != nil {
		e.metrics.BudgetReserved.Inc()
	}

	// 9. Run under the skill's declared timeout.
	start := e.now()
	exec.StartedAt = &start
	if err := e.machine.Transition(ctx, exec, execution.StateRunning, "", nil); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ActiveExecutions.Inc()
	}
	out, runErr := e.invoke(ctx, exec, def)
	duration := time.Since(start).Seconds()
	if e.metrics != nil {
		e.metrics.ActiveExecutions.Dec()
		e.metrics.ExecutionDuration.WithLabelValues(def.Key).Observe(duration)
	}

	if runErr != nil {
		// 11. Failure, including timeout.
		return nil, e.settleFailure(ctx, exec, def, runErr)
	}

	// 10. Success: consume, complete, report.
	consumed := true
	if err := e.ledger.Consume(ctx, handle.ReservationID, out.ActualCostUSD); err != nil {
		// The handler's work is done; the execution still completes. Release
		// the reservation so the failed consume does not leak held budget.
		consumed = false
		e.logger.ErrorContext(ctx, "consuming reservation failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("reservation_id", handle.ReservationID.String()),
			slog.String("error", err.Error()),
		)
		e.releaseBudget(ctx, exec)
	}
	if consumed {
		e.audit.RecordBudget(ctx, exec.TenantID, audit.ActionBudgetConsumed, exec.ExecutorID, handle.BudgetID, map[string]any{
			"execution_id": exec.ID.String(),
			"amount_usd":   out.ActualCostUSD,
		})
	}

	completed := e.now()
	exec.CompletedAt = &completed
	exec.ConsumedCostUSD = out.ActualCostUSD
	exec.ResultStatus = "success"
	exec.ResultSummary = summarize(out.Output)
	if err := e.machine.Transition(ctx, exec, execution.StateCompleted, "", nil); err != nil {
		return nil, err
	}
	e.audit.RecordExecution(ctx, exec.TenantID, audit.ActionExecutionCompleted, exec.ExecutorID, exec.ID, map[string]any{
		"cost_usd":         out.ActualCostUSD,
		"duration_seconds": duration,
	})
	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(def.Key, string(execution.StateCompleted)).Inc()
		if consumed {
			e.metrics.BudgetConsumedUSD.Add(out.ActualCostUSD)
		}
	}

	return resultOf(exec, out.Output), nil
}

// invoke races the handler against the skill's declared timeout. The deadline
// is propagated into the handler's context so the underlying call can honor
// cancellation; the engine stops waiting either way.
func (e *Engine) invoke(ctx context.Context, exec *execution.Execution, def *skill.Definition) (*skill.Output, error) {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = defaultSkillTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ec := &skill.Context{
		ExecutionID: exec.ID,
		TenantID:    exec.TenantID,
		TraceID:     exec.TraceID,
		Logger: e.logger.With(
			slog.String("execution_id", exec.ID.String()),
			slog.String("trace_id", exec.TraceID),
		),
	}
	if def.UsesLLM {
		ec.LLM = e.llm
	}

	type outcome struct {
		out *skill.Output
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := def.Handler(runCtx, exec.Input, ec)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		if o.out == nil {
			o.out = &skill.Output{}
		}
		return o.out, nil
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: skill %s exceeded %s", execution.ErrTimeout, def.Ref(), timeout)
		}
		return nil, runCtx.Err()
	}
}

// settleReserveFailure handles a reservation error after the execution record
// already exists: the record is cancelled on behalf of the legally
// responsible human so the system of record is not left mid-flight.
func (e *Engine) settleReserveFailure(ctx context.Context, exec *execution.Execution, cause error) error {
	exec.ErrorCode = ErrorCode(cause)
	exec.ErrorMessage = piiguard.SanitizeErrorMessage(cause.Error())
	if err := e.machine.Transition(ctx, exec, execution.StateCancelled, exec.LegalResponsibleUserID, nil); err != nil {
		e.logger.ErrorContext(ctx, "cancelling after reservation failure failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	e.audit.RecordExecution(ctx, exec.TenantID, audit.ActionExecutionFailed, exec.ExecutorID, exec.ID, map[string]any{
		"error_code": exec.ErrorCode,
	})
	return cause
}

// settleFailure is step 11: terminal transition, budget release, audit entry,
// then the original error is returned to the caller.
func (e *Engine) settleFailure(ctx context.Context, exec *execution.Execution, def *skill.Definition, cause error) error {
	target := execution.StateFailed
	if errors.Is(cause, execution.ErrTimeout) {
		target = execution.StateTimeout
		if e.metrics != nil {
			e.metrics.TimeoutsTotal.Inc()
		}
	}

	completed := e.now()
	exec.CompletedAt = &completed
	exec.ResultStatus = "error"
	exec.ErrorCode = ErrorCode(cause)
	exec.ErrorMessage = piiguard.SanitizeErrorMessage(cause.Error())
	if err := e.machine.Transition(ctx, exec, target, "", nil); err != nil {
		e.logger.ErrorContext(ctx, "failure transition failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("target", string(target)),
			slog.String("error", err.Error()),
		)
	}

	e.releaseBudget(ctx, exec)

	e.audit.RecordExecution(ctx, exec.TenantID, audit.ActionExecutionFailed, exec.ExecutorID, exec.ID, map[string]any{
		"error_code": exec.ErrorCode,
		"state":      string(target),
	})
	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(def.Key, string(target)).Inc()
	}
	return cause
}

// releaseBudget frees any still-held reservation and records the released
// flag. Always safe: a no-op when nothing is reserved.
func (e *Engine) releaseBudget(ctx context.Context, exec *execution.Execution) {
	if err := e.ledger.Release(ctx, exec.ID); err != nil {
		e.logger.WarnContext(ctx, "budget release failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if exec.ReservedCostUSD > 0 {
		e.audit.RecordBudget(ctx, exec.TenantID, audit.ActionBudgetReleased, exec.ExecutorID, uuid.Nil, map[string]any{
			"execution_id": exec.ID.String(),
			"amount_usd":   exec.ReservedCostUSD,
		})
	}
	exec.BudgetReleased = true
	exec.UpdatedAt = e.now()
	if err := e.executions.UpdateExecution(ctx, exec); err != nil {
		e.logger.WarnContext(ctx, "recording budget release failed",
			slog.String("execution_id", exec.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// resultOf projects an execution record into the caller-facing result.
// output is non-nil only on the fresh completion path; replays return the
// persisted fields without the raw output.
func resultOf(exec *execution.Execution, output map[string]any) *execution.Result {
	return &execution.Result{
		ExecutionID:    exec.ID,
		IdempotencyKey: exec.IdempotencyKey,
		State:          exec.State,
		ResultStatus:   exec.ResultStatus,
		ResultSummary:  exec.ResultSummary,
		Output:         output,
		ErrorCode:      exec.ErrorCode,
		ErrorMessage:   exec.ErrorMessage,
		BudgetConsumed: exec.ConsumedCostUSD,
	}
}

// summarize renders a PII-sanitized, length-capped description of a
// handler's output for the execution record.
func summarize(output map[string]any) string {
	if len(output) == 0 {
		return ""
	}
	sanitized := piiguard.SanitizeForLog(output)
	data, err := json.Marshal(sanitized)
	if err != nil {
		return ""
	}
	s, _ := piiguard.SanitizeForLog(string(data)).(string)
	return s
}

// formatViolations renders schema violations into one error message.
func formatViolations(violations []skill.Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		if v.Field == "" {
			parts[i] = v.Message
			continue
		}
		parts[i] = v.Field + ": " + v.Message
	}
	return strings.Join(parts, "; ")
}
