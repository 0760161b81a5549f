package persistence

import (
	"context"
	"fmt"

	"github.com/ash-erp/billing/internal/domain/billing"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSequenceRepository implements SequenceRepository using GORM
type GormSequenceRepository struct {
	db *gorm.DB
}

// NewGormSequenceRepository creates a new GormSequenceRepository
func NewGormSequenceRepository(db *gorm.DB) *GormSequenceRepository {
	return &GormSequenceRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *GormSequenceRepository) WithTx(tx *gorm.DB) *GormSequenceRepository {
	return &GormSequenceRepository{db: tx}
}

// Next atomically increments and returns the counter for (tenantID, key).
// The upsert runs as a single statement so two concurrent callers can never
// observe the same value; the losing insert takes the DO UPDATE path under
// the row lock held by the winner.
func (r *GormSequenceRepository) Next(ctx context.Context, tenantID uuid.UUID, key string) (int64, error) {
	var next int64
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO document_sequences (tenant_id, key, last_value, updated_at)
		VALUES (?, ?, 1, NOW())
		ON CONFLICT (tenant_id, key)
		DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
		RETURNING last_value`, tenantID, key).
		Scan(&next).Error
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %q: %w", key, err)
	}
	return next, nil
}

// Ensure GormSequenceRepository implements SequenceRepository
var _ billing.SequenceRepository = (*GormSequenceRepository)(nil)
