// Package approval manages human sign-off requests gating executions that
// cannot proceed autonomously. Requests expire after a TTL; sweeping expired
// requests is a background job, not part of the execution path.
package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("approval request not found")
	ErrExpired         = errors.New("approval request expired")
	ErrAlreadyResolved = errors.New("approval request already resolved")
)

// DefaultTTL is how long an approval request stays actionable.
const DefaultTTL = 24 * time.Hour

// Status is the state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Request is one pending human decision tied to an execution.
type Request struct {
	ID          uuid.UUID `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	RequesterID string    `json:"requester_id"`
	// ApproverID is set when the request is approved or rejected.
	ApproverID string `json:"approver_id,omitempty"`
	Status     Status `json:"status"`
	// Scope describes what is being approved, e.g. "skill:refund@1.2.0".
	Scope           string     `json:"scope"`
	ExpiresAt       time.Time  `json:"expires_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Store persists approval requests.
type Store interface {
	CreateApproval(ctx context.Context, r *Request) error
	// GetApproval returns ErrNotFound if absent.
	GetApproval(ctx context.Context, id uuid.UUID) (*Request, error)
	UpdateApproval(ctx context.Context, r *Request) error
	// ListPending returns pending requests for the tenant, oldest first.
	// An empty tenantID lists across all tenants.
	ListPending(ctx context.Context, tenantID string) ([]Request, error)
}

// Manager creates and resolves approval requests.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a manager with the given TTL; zero means DefaultTTL.
func NewManager(store Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new pending request for the execution and returns it.
func (m *Manager) Create(ctx context.Context, tenantID string, executionID uuid.UUID, requesterID, scope string) (*Request, error) {
	now := m.now()
	r := &Request{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ExecutionID: executionID,
		RequesterID: requesterID,
		Status:      StatusPending,
		Scope:       scope,
		ExpiresAt:   now.Add(m.ttl),
		CreatedAt:   now,
	}
	if err := m.store.CreateApproval(ctx, r); err != nil {
		return nil, fmt.Errorf("creating approval request: %w", err)
	}

	m.logger.InfoContext(ctx, "approval requested",
		slog.String("approval_id", r.ID.String()),
		slog.String("tenant_id", tenantID),
		slog.String("execution_id", executionID.String()),
		slog.String("scope", scope),
	)
	return r, nil
}

// Get retrieves a request by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	return m.store.GetApproval(ctx, id)
}

// ListPending lists the tenant's pending requests.
func (m *Manager) ListPending(ctx context.Context, tenantID string) ([]Request, error) {
	return m.store.ListPending(ctx, tenantID)
}

// Approve marks a pending request approved. A request resolves at most once;
// past its expiry it can no longer be approved.
func (m *Manager) Approve(ctx context.Context, id uuid.UUID, approverID string) (*Request, error) {
	return m.resolve(ctx, id, approverID, StatusApproved, "")
}

// Reject marks a pending request rejected with an optional reason.
func (m *Manager) Reject(ctx context.Context, id uuid.UUID, approverID, reason string) (*Request, error) {
	return m.resolve(ctx, id, approverID, StatusRejected, reason)
}

func (m *Manager) resolve(ctx context.Context, id uuid.UUID, approverID string, status Status, reason string) (*Request, error) {
	r, err := m.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, r.Status)
	}

	now := m.now()
	if now.After(r.ExpiresAt) {
		r.Status = StatusExpired
		if err := m.store.UpdateApproval(ctx, r); err != nil {
			return nil, fmt.Errorf("marking approval expired: %w", err)
		}
		return nil, fmt.Errorf("%w: %s expired at %s", ErrExpired, id, r.ExpiresAt.Format(time.RFC3339))
	}

	r.Status = status
	r.ApproverID = approverID
	switch status {
	case StatusApproved:
		r.ApprovedAt = &now
	case StatusRejected:
		r.RejectedAt = &now
		r.RejectionReason = reason
	}
	if err := m.store.UpdateApproval(ctx, r); err != nil {
		return nil, fmt.Errorf("resolving approval: %w", err)
	}

	m.logger.InfoContext(ctx, "approval resolved",
		slog.String("approval_id", id.String()),
		slog.String("approver_id", approverID),
		slog.String("status", string(status)),
	)
	return r, nil
}

// SweepExpired flips pending requests past their expiry to expired and
// returns them, so the caller can cancel the gated executions.
func (m *Manager) SweepExpired(ctx context.Context) ([]Request, error) {
	pending, err := m.store.ListPending(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}

	now := m.now()
	var expired []Request
	for i := range pending {
		r := &pending[i]
		if !now.After(r.ExpiresAt) {
			continue
		}
		r.Status = StatusExpired
		if err := m.store.UpdateApproval(ctx, r); err != nil {
			m.logger.WarnContext(ctx, "expiring approval failed",
				slog.String("approval_id", r.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		expired = append(expired, *r)
	}

	if len(expired) > 0 {
		m.logger.InfoContext(ctx, "expired approvals swept",
			slog.Int("count", len(expired)),
		)
	}
	return expired, nil
}
