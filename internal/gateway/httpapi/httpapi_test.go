package httpapi

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/tendolabs/tendo/internal/approval"
)

func TestApprovalForTenant_CrossTenantReadsAsNotFound(t *testing.T) {
	ctx := context.Background()
	mgr := approval.NewManager(approval.NewInMemoryStore(), 0, nil)
	g := &Gateway{approvals: mgr}

	req, err := mgr.Create(ctx, "acme", uuid.New(), "user-1", "skill:refund@1.0.0")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := g.approvalForTenant(ctx, "globex", req.ID); !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("cross-tenant lookup: expected ErrNotFound, got %v", err)
	}

	// The foreign caller must not have resolved anything.
	got, err := mgr.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != approval.StatusPending {
		t.Errorf("status = %q after cross-tenant lookup, want pending", got.Status)
	}

	own, err := g.approvalForTenant(ctx, "acme", req.ID)
	if err != nil {
		t.Fatalf("owning tenant lookup: %v", err)
	}
	if own.ID != req.ID {
		t.Errorf("got %s, want %s", own.ID, req.ID)
	}
}

func TestApprovalForTenant_UnknownID(t *testing.T) {
	g := &Gateway{approvals: approval.NewManager(approval.NewInMemoryStore(), 0, nil)}

	_, err := g.approvalForTenant(context.Background(), "acme", uuid.New())
	if !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
