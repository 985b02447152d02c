package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tendolabs/tendo/internal/approval"
)

// ApprovalRepository implements approval.Store with GORM.
type ApprovalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository creates an ApprovalRepository.
func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// CreateApproval inserts a new approval request.
func (r *ApprovalRepository) CreateApproval(ctx context.Context, req *approval.Request) error {
	if err := r.db.WithContext(ctx).Create(approvalToModel(req)).Error; err != nil {
		return fmt.Errorf("creating approval: %w", err)
	}
	return nil
}

// GetApproval retrieves an approval request by ID.
func (r *ApprovalRepository) GetApproval(ctx context.Context, id uuid.UUID) (*approval.Request, error) {
	var model ApprovalModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting approval: %w", err)
	}
	return approvalFromModel(&model), nil
}

// UpdateApproval persists the request's resolution fields.
func (r *ApprovalRepository) UpdateApproval(ctx context.Context, req *approval.Request) error {
	if err := r.db.WithContext(ctx).Save(approvalToModel(req)).Error; err != nil {
		return fmt.Errorf("updating approval: %w", err)
	}
	return nil
}

// ListPending returns pending requests for the tenant, oldest first.
// An empty tenantID lists across all tenants.
func (r *ApprovalRepository) ListPending(ctx context.Context, tenantID string) ([]approval.Request, error) {
	q := r.db.WithContext(ctx).Where("status = ?", string(approval.StatusPending))
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}

	var models []ApprovalModel
	if err := q.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}

	result := make([]approval.Request, len(models))
	for i := range models {
		result[i] = *approvalFromModel(&models[i])
	}
	return result, nil
}
