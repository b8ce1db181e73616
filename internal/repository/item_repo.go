package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/outreach/internal/domain"
	"gorm.io/gorm"
)

// ItemRepository handles item data operations.
type ItemRepository struct {
	db *gorm.DB
}

// NewItemRepository creates a new ItemRepository.
func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// GetByID retrieves an item by its ID.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// ListByChunk retrieves the items of a chunk in upload order.
func (r *ItemRepository) ListByChunk(ctx context.Context, chunkID string) ([]domain.Item, error) {
	var items []domain.Item
	if err := r.db.WithContext(ctx).
		Where("chunk_id = ?", chunkID).
		Order("position ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// UpdatePhase records the raw status and error message of one phase of an item.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: item ID.
//   - phase: phase whose columns are written.
//   - raw: raw status string as reported by the collaborator.
//   - errMsg: last error message, empty on success.
//
// Returns:
//   - error: domain.ErrNotFound if the item does not exist.
func (r *ItemRepository) UpdatePhase(ctx context.Context, id string, phase domain.Phase, raw, errMsg string) error {
	statusCol, errCol := domain.PhaseColumns(phase)
	res := r.db.WithContext(ctx).Model(&domain.Item{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			statusCol:    raw,
			errCol:       errMsg,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update item phase: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
