package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestManager(t *testing.T) (*Manager, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	return NewManager(store, 0, nil), store
}

func TestCreate_Defaults(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	execID := uuid.New()

	r, err := m.Create(ctx, "acme", execID, "user-1", "skill:refund@1.0.0")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %s, want pending", r.Status)
	}
	if got := r.ExpiresAt.Sub(r.CreatedAt); got != DefaultTTL {
		t.Errorf("ttl = %v, want %v", got, DefaultTTL)
	}
	if r.ExecutionID != execID || r.RequesterID != "user-1" {
		t.Errorf("request fields: %+v", r)
	}
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	r, _ := m.Create(ctx, "acme", uuid.New(), "user-1", "skill:refund@1.0.0")

	resolved, err := m.Approve(ctx, r.ID, "manager-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resolved.Status != StatusApproved || resolved.ApproverID != "manager-1" {
		t.Errorf("resolved: %+v", resolved)
	}
	if resolved.ApprovedAt == nil {
		t.Error("ApprovedAt not set")
	}
}

func TestReject_WithReason(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	r, _ := m.Create(ctx, "acme", uuid.New(), "user-1", "skill:refund@1.0.0")

	resolved, err := m.Reject(ctx, r.ID, "manager-1", "amount too high")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if resolved.Status != StatusRejected || resolved.RejectionReason != "amount too high" {
		t.Errorf("resolved: %+v", resolved)
	}
	if resolved.RejectedAt == nil {
		t.Error("RejectedAt not set")
	}
}

func TestResolve_Once(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	r, _ := m.Create(ctx, "acme", uuid.New(), "user-1", "skill:refund@1.0.0")
	if _, err := m.Approve(ctx, r.ID, "manager-1"); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	if _, err := m.Approve(ctx, r.ID, "manager-2"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second approve: %v, want ErrAlreadyResolved", err)
	}
	if _, err := m.Reject(ctx, r.ID, "manager-2", ""); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("reject after approve: %v, want ErrAlreadyResolved", err)
	}
}

func TestApprove_Expired(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	m := NewManager(store, time.Hour, nil)

	r, _ := m.Create(ctx, "acme", uuid.New(), "user-1", "skill:refund@1.0.0")

	// Jump past the expiry.
	m.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	if _, err := m.Approve(ctx, r.ID, "manager-1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("approve past expiry: %v, want ErrExpired", err)
	}

	got, _ := store.GetApproval(ctx, r.ID)
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestApprove_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Approve(context.Background(), uuid.New(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	m := NewManager(store, time.Hour, nil)

	stale, _ := m.Create(ctx, "acme", uuid.New(), "user-1", "skill:a@1.0.0")

	// Move the clock past the stale request's expiry. The fresh request is
	// seeded with a far-future expiry so it survives the sweep.
	m.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	fresh := &Request{
		ID:          uuid.New(),
		TenantID:    "acme",
		ExecutionID: uuid.New(),
		RequesterID: "user-2",
		Status:      StatusPending,
		ExpiresAt:   time.Now().UTC().Add(48 * time.Hour),
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.CreateApproval(ctx, fresh); err != nil {
		t.Fatalf("seed fresh request: %v", err)
	}

	expired, err := m.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != stale.ID {
		t.Fatalf("swept %+v, want only the stale request", expired)
	}

	pending, _ := m.ListPending(ctx, "acme")
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Errorf("pending after sweep: %+v", pending)
	}
}
