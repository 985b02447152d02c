// Package httpapi implements the HTTP API gateway for Tendo.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Per-tenant rate limiting via token bucket
//   - All requests logged with the execution trace ID where available
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/tendolabs/tendo/internal/approval"
	"github.com/tendolabs/tendo/internal/audit"
	"github.com/tendolabs/tendo/internal/budget"
	"github.com/tendolabs/tendo/internal/execution"
	"github.com/tendolabs/tendo/internal/observability"
	"github.com/tendolabs/tendo/internal/orchestrator"
	"github.com/tendolabs/tendo/internal/piiguard"
	"github.com/tendolabs/tendo/internal/ratelimit"
	"github.com/tendolabs/tendo/internal/skill"
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr string // e.g., ":8080"
	EnableDocs bool
	APIKeys    map[string]string // API key -> tenant ID mapping. Keys from env.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway over the execution engine.
type Gateway struct {
	config      Config
	engine      *orchestrator.Engine
	executions  execution.Store
	transitions execution.TransitionLogStore
	approvals   *approval.Manager
	ledger      *budget.Ledger
	auditor     *audit.Recorder
	limiter     *ratelimit.Limiter
	logger      *slog.Logger
	server      *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// Deps holds the domain components the gateway exposes.
type Deps struct {
	Engine      *orchestrator.Engine
	Executions  execution.Store
	Transitions execution.TransitionLogStore
	Approvals   *approval.Manager
	Ledger      *budget.Ledger
	Audit       *audit.Recorder
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, deps Deps, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:      cfg,
		engine:      deps.Engine,
		executions:  deps.Executions,
		transitions: deps.Transitions,
		approvals:   deps.Approvals,
		ledger:      deps.Ledger,
		auditor:     deps.Audit,
		limiter:     rl,
		logger:      logger,
		okapi:       okapi.New(),
	}
}

// WithOpenAPIDocs enables the OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Tendo",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Execution endpoints.
	g.group.Post("/executions", g.handleExecute,
		okapi.DocSummary("Execute a skill"),
		okapi.DocTags("Executions"),
		okapi.DocRequestBody(ExecuteRequest{}),
		okapi.DocResponse(execution.Result{}),
		okapi.DocResponse(http.StatusAccepted, execution.Result{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusPaymentRequired, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/executions/{id}", g.handleExecutionGet,
		okapi.DocSummary("Get an execution by ID"),
		okapi.DocTags("Executions"),
		okapi.DocPathParam("id", "string", "Execution ID (UUID)"),
		okapi.DocResponse(ExecutionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/executions/{id}/transitions", g.handleExecutionTransitions,
		okapi.DocSummary("List an execution's state transitions"),
		okapi.DocTags("Executions"),
		okapi.DocPathParam("id", "string", "Execution ID (UUID)"),
		okapi.DocResponse([]TransitionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/executions/{id}/cancel", g.handleExecutionCancel,
		okapi.DocSummary("Cancel an execution"),
		okapi.DocTags("Executions"),
		okapi.DocPathParam("id", "string", "Execution ID (UUID)"),
		okapi.DocRequestBody(CancelRequest{}),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)

	// Approval endpoints.
	g.group.Get("/approvals", g.handleApprovalList,
		okapi.DocSummary("List pending approval requests"),
		okapi.DocTags("Approvals"),
		okapi.DocResponse([]approval.Request{}),
	)
	g.group.Post("/approvals/{id}/approve", g.handleApprove,
		okapi.DocSummary("Approve a pending execution"),
		okapi.DocTags("Approvals"),
		okapi.DocPathParam("id", "string", "Approval request ID (UUID)"),
		okapi.DocRequestBody(DecisionRequest{}),
		okapi.DocResponse(execution.Result{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusGone, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Post("/approvals/{id}/reject", g.handleReject,
		okapi.DocSummary("Reject a pending execution"),
		okapi.DocTags("Approvals"),
		okapi.DocPathParam("id", "string", "Approval request ID (UUID)"),
		okapi.DocRequestBody(DecisionRequest{}),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusGone, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)

	// Budget endpoints.
	g.group.Get("/budget", g.handleBudgetStatus,
		okapi.DocSummary("Get the tenant's current budget status"),
		okapi.DocTags("Budget"),
		okapi.DocResponse(budget.Status{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/budget/transactions", g.handleBudgetTransactions,
		okapi.DocSummary("List the active budget's ledger transactions"),
		okapi.DocTags("Budget"),
		okapi.DocResponse([]TransactionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Audit trail endpoint. Filters come from query parameters:
	// action, actor_id, resource, from, to, limit, offset.
	g.group.Get("/audit", g.handleAuditSearch,
		okapi.DocSummary("Search the tenant's audit trail"),
		okapi.DocTags("Audit"),
		okapi.DocResponse([]audit.Entry{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Execution Handlers ---

// ExecuteRequest is the JSON body for POST /v1/executions.
type ExecuteRequest struct {
	SkillKey       string         `json:"skill_key"`
	SkillVersion   string         `json:"skill_version"`
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`

	ExecutorType string `json:"executor_type,omitempty"` // "human", "ai_agent", "system". Default: "human".
	ExecutorID   string `json:"executor_id"`

	LegalResponsibleUserID string `json:"legal_responsible_user_id"`
	ResponsibilityLevel    *int   `json:"responsibility_level"`

	ApproverIDs []string `json:"approver_ids,omitempty"`
	TraceID     string   `json:"trace_id,omitempty"`
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")
	if err := g.allow(tenantID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.SkillKey == "" {
		return c.AbortBadRequest("skill_key is required")
	}
	if req.IdempotencyKey == "" {
		return c.AbortBadRequest("idempotency_key is required")
	}

	var level *execution.ResponsibilityLevel
	if req.ResponsibilityLevel != nil {
		l := execution.ResponsibilityLevel(*req.ResponsibilityLevel)
		level = &l
	}

	execType := execution.ExecutorType(req.ExecutorType)
	if req.ExecutorType == "" {
		execType = execution.ExecutorHuman
	}

	g.logger.Info("http execute",
		slog.String("tenant_id", tenantID),
		slog.String("skill", req.SkillKey),
		slog.String("idempotency_key", req.IdempotencyKey),
	)

	result, err := g.engine.Execute(c.Context(), &execution.Request{
		TenantID:               tenantID,
		SkillKey:               req.SkillKey,
		SkillVersion:           req.SkillVersion,
		Input:                  req.Input,
		IdempotencyKey:         req.IdempotencyKey,
		ExecutorType:           execType,
		ExecutorID:             req.ExecutorID,
		LegalResponsibleUserID: req.LegalResponsibleUserID,
		ResponsibilityLevel:    level,
		ApproverIDs:            req.ApproverIDs,
		TraceID:                req.TraceID,
		RequestOrigin:          "http",
	})
	if err != nil {
		return g.executionError(c, err)
	}

	if result.State == execution.StatePendingApproval {
		return c.JSON(http.StatusAccepted, result)
	}
	return c.OK(result)
}

// ExecutionResponse is the JSON projection of a stored execution.
type ExecutionResponse struct {
	ID                     string     `json:"id"`
	TenantID               string     `json:"tenant_id"`
	IdempotencyKey         string     `json:"idempotency_key"`
	SkillKey               string     `json:"skill_key"`
	SkillVersion           string     `json:"skill_version"`
	State                  string     `json:"state"`
	ExecutorType           string     `json:"executor_type"`
	ExecutorID             string     `json:"executor_id,omitempty"`
	LegalResponsibleUserID string     `json:"legal_responsible_user_id"`
	ResponsibilityLevel    int        `json:"responsibility_level"`
	ReservedCostUSD        float64    `json:"reserved_cost_usd"`
	ConsumedCostUSD        float64    `json:"consumed_cost_usd"`
	ResultStatus           string     `json:"result_status,omitempty"`
	ResultSummary          string     `json:"result_summary,omitempty"`
	ErrorCode              string     `json:"error_code,omitempty"`
	ErrorMessage           string     `json:"error_message,omitempty"`
	TraceID                string     `json:"trace_id,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
}

func (g *Gateway) handleExecutionGet(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid execution ID")
	}

	exec, err := g.executions.GetExecution(c.Context(), id)
	if err != nil || exec.TenantID != tenantID {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "execution not found"})
	}

	return c.OK(executionResponse(exec))
}

// TransitionResponse is one row of an execution's transition log.
type TransitionResponse struct {
	FromState string         `json:"from_state"`
	ToState   string         `json:"to_state"`
	ActorID   string         `json:"actor_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (g *Gateway) handleExecutionTransitions(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid execution ID")
	}

	exec, err := g.executions.GetExecution(c.Context(), id)
	if err != nil || exec.TenantID != tenantID {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "execution not found"})
	}

	records, err := g.transitions.ListTransitions(c.Context(), id)
	if err != nil {
		return c.AbortInternalServerError("listing transitions failed")
	}

	resp := make([]TransitionResponse, len(records))
	for i, r := range records {
		resp[i] = TransitionResponse{
			FromState: string(r.FromState),
			ToState:   string(r.ToState),
			ActorID:   r.ActorID,
			Metadata:  r.Metadata,
			CreatedAt: r.CreatedAt,
		}
	}
	return c.OK(resp)
}

// CancelRequest is the JSON body for POST /v1/executions/{id}/cancel.
type CancelRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

func (g *Gateway) handleExecutionCancel(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid execution ID")
	}

	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ActorID == "" {
		return c.AbortBadRequest("actor_id is required")
	}

	exec, err := g.executions.GetExecution(c.Context(), id)
	if err != nil || exec.TenantID != tenantID {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "execution not found"})
	}

	if err := g.engine.Cancel(c.Context(), id, req.ActorID, req.Reason); err != nil {
		return g.executionError(c, err)
	}
	return c.OK(okapi.M{"status": "cancelled"})
}

// --- Approval Handlers ---

func (g *Gateway) handleApprovalList(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")

	pending, err := g.approvals.ListPending(c.Context(), tenantID)
	if err != nil {
		return c.AbortInternalServerError("listing approvals failed")
	}
	return c.OK(pending)
}

// approvalForTenant loads an approval and verifies the caller's tenant owns
// it before any resolution. Resolving is irreversible, so the ownership check
// must come first; a foreign approval reads as not found.
func (g *Gateway) approvalForTenant(ctx context.Context, tenantID string, id uuid.UUID) (*approval.Request, error) {
	apr, err := g.approvals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if apr.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	return apr, nil
}

// DecisionRequest is the JSON body for approve/reject endpoints.
type DecisionRequest struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason,omitempty"` // Required for rejections.
}

func (g *Gateway) handleApprove(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid approval ID")
	}

	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ApproverID == "" {
		return c.AbortBadRequest("approver_id is required")
	}

	g.logger.Info("http approval",
		slog.String("tenant_id", tenantID),
		slog.String("approval_id", id.String()),
		slog.String("approver_id", req.ApproverID),
	)

	if _, err := g.approvalForTenant(c.Context(), tenantID, id); err != nil {
		return approvalError(c, err)
	}

	apr, err := g.approvals.Approve(c.Context(), id, req.ApproverID)
	if err != nil {
		return approvalError(c, err)
	}

	result, err := g.engine.ResumeApproved(c.Context(), apr.ExecutionID, req.ApproverID)
	if err != nil {
		// The approval is resolved; surface the execution outcome as-is.
		return g.executionError(c, err)
	}
	return c.OK(result)
}

func (g *Gateway) handleReject(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid approval ID")
	}

	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ApproverID == "" {
		return c.AbortBadRequest("approver_id is required")
	}

	if _, err := g.approvalForTenant(c.Context(), tenantID, id); err != nil {
		return approvalError(c, err)
	}

	apr, err := g.approvals.Reject(c.Context(), id, req.ApproverID, req.Reason)
	if err != nil {
		return approvalError(c, err)
	}

	reason := req.Reason
	if reason == "" {
		reason = "approval rejected"
	}
	if err := g.engine.Cancel(c.Context(), apr.ExecutionID, req.ApproverID, reason); err != nil {
		g.logger.Error("cancel after rejection failed",
			slog.String("execution_id", apr.ExecutionID.String()),
			slog.String("error", err.Error()),
		)
	}
	return c.OK(okapi.M{"status": "rejected"})
}

// --- Budget Handler ---

func (g *Gateway) handleBudgetStatus(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")

	status, err := g.ledger.GetStatus(c.Context(), tenantID)
	if err != nil {
		if errors.Is(err, budget.ErrNoActiveBudget) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "no active budget"})
		}
		return c.AbortInternalServerError("budget status failed")
	}
	return c.OK(status)
}

// TransactionResponse is one row of the active budget's ledger.
type TransactionResponse struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id,omitempty"`
	ExecutionID   string    `json:"execution_id,omitempty"`
	Type          string    `json:"type"`
	AmountUSD     float64   `json:"amount_usd"`
	CreatedAt     time.Time `json:"created_at"`
}

func (g *Gateway) handleBudgetTransactions(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")

	txs, err := g.ledger.ListTransactions(c.Context(), tenantID)
	if err != nil {
		if errors.Is(err, budget.ErrNoActiveBudget) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "no active budget"})
		}
		return c.AbortInternalServerError("listing budget transactions failed")
	}

	resp := make([]TransactionResponse, len(txs))
	for i, tx := range txs {
		r := TransactionResponse{
			ID:        tx.ID.String(),
			Type:      string(tx.Type),
			AmountUSD: tx.AmountUSD,
			CreatedAt: tx.CreatedAt,
		}
		if tx.ReservationID != nil {
			r.ReservationID = tx.ReservationID.String()
		}
		if tx.ExecutionID != nil {
			r.ExecutionID = tx.ExecutionID.String()
		}
		resp[i] = r
	}
	return c.OK(resp)
}

// --- Audit Handler ---

func (g *Gateway) handleAuditSearch(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")

	q := c.Request().URL.Query()
	f := audit.Filter{
		Action:   q.Get("action"),
		ActorID:  q.Get("actor_id"),
		Resource: q.Get("resource"),
	}
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.AbortBadRequest("from must be RFC 3339")
		}
		f.From = ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.AbortBadRequest("to must be RFC 3339")
		}
		f.To = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.AbortBadRequest("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.AbortBadRequest("offset must be a non-negative integer")
		}
		f.Offset = n
	}

	entries, err := g.auditor.Search(c.Context(), tenantID, f)
	if err != nil {
		return c.AbortInternalServerError("audit search failed")
	}
	return c.OK(entries)
}

// --- Health Handlers ---

// HealthResponse is the JSON response for liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped tenant ID on the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		tenantID := ""
		for key, tenant := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				tenantID = tenant
			}
		}
		if tenantID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("tenantID", tenantID)
		return next(c)
	}
}

// --- Helpers ---

func (g *Gateway) allow(tenantID string) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Allow(tenantID)
}

// executionError maps engine errors to HTTP responses. Error messages from
// the engine have already passed through the PII sanitizer.
func (g *Gateway) executionError(c *okapi.Context, err error) error {
	body := okapi.M{
		"error": err.Error(),
		"code":  orchestrator.ErrorCode(err),
	}
	switch {
	case errors.Is(err, skill.ErrNotFound):
		return c.JSON(http.StatusNotFound, body)
	case errors.Is(err, skill.ErrValidation),
		errors.Is(err, execution.ErrResponsibilityInvalid),
		errors.Is(err, execution.ErrActorRequired),
		errors.Is(err, piiguard.ErrPolicyViolation):
		return c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, budget.ErrNoActiveBudget),
		errors.Is(err, budget.ErrExceeded):
		return c.JSON(http.StatusPaymentRequired, body)
	case errors.Is(err, execution.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, execution.ErrNotFound):
		return c.JSON(http.StatusNotFound, body)
	case errors.Is(err, execution.ErrTimeout):
		return c.JSON(http.StatusGatewayTimeout, body)
	default:
		g.logger.Error("execution failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("execution failed")
	}
}

// approvalError maps approval errors to HTTP responses.
func approvalError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "approval not found"})
	case errors.Is(err, approval.ErrExpired):
		return c.JSON(http.StatusGone, okapi.M{"error": "approval expired"})
	case errors.Is(err, approval.ErrAlreadyResolved):
		return c.JSON(http.StatusConflict, okapi.M{"error": "approval already resolved"})
	default:
		return c.AbortInternalServerError("approval error")
	}
}

func executionResponse(exec *execution.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:                     exec.ID.String(),
		TenantID:               exec.TenantID,
		IdempotencyKey:         exec.IdempotencyKey,
		SkillKey:               exec.SkillKey,
		SkillVersion:           exec.SkillVersion,
		State:                  string(exec.State),
		ExecutorType:           string(exec.ExecutorType),
		ExecutorID:             exec.ExecutorID,
		LegalResponsibleUserID: exec.LegalResponsibleUserID,
		ResponsibilityLevel:    int(exec.ResponsibilityLevel),
		ReservedCostUSD:        exec.ReservedCostUSD,
		ConsumedCostUSD:        exec.ConsumedCostUSD,
		ResultStatus:           exec.ResultStatus,
		ResultSummary:          exec.ResultSummary,
		ErrorCode:              exec.ErrorCode,
		ErrorMessage:           exec.ErrorMessage,
		TraceID:                exec.TraceID,
		CreatedAt:              exec.CreatedAt,
		StartedAt:              exec.StartedAt,
		CompletedAt:            exec.CompletedAt,
	}
}
