package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tendolabs/tendo/internal/audit"
)

// AuditRepository implements audit.Store with GORM. Append-only — no update
// or delete methods exist.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes one audit entry.
func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	model, err := auditToModel(e)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Search returns entries for the tenant matching the filter, newest first.
func (r *AuditRepository) Search(ctx context.Context, tenantID string, f audit.Filter) ([]audit.Entry, error) {
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)

	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if !f.From.IsZero() {
		q = q.Where("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("timestamp <= ?", f.To)
	}

	q = q.Order("timestamp DESC")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var models []AuditEntryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("searching audit entries: %w", err)
	}

	result := make([]audit.Entry, len(models))
	for i := range models {
		result[i] = auditFromModel(&models[i])
	}
	return result, nil
}
