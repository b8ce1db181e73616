package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/status"
	"gorm.io/gorm"
)

// itemInsertBatch bounds the number of rows per INSERT when persisting items.
const itemInsertBatch = 500

// UploadRepository handles upload data operations.
type UploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository creates a new UploadRepository.
func NewUploadRepository(db *gorm.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// CreateWithPlan persists an upload together with its chunks and items in one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - upload: upload record.
//   - chunks: planned chunks belonging to upload.
//   - items: items belonging to the chunks.
//
// Returns:
//   - error: non-nil if any insert fails; nothing is persisted in that case.
func (r *UploadRepository) CreateWithPlan(ctx context.Context, upload *domain.Upload, chunks []domain.Chunk, items []domain.Item) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(upload).Error; err != nil {
			return fmt.Errorf("failed to create upload: %w", err)
		}
		if len(chunks) > 0 {
			if err := tx.Create(&chunks).Error; err != nil {
				return fmt.Errorf("failed to create chunks: %w", err)
			}
		}
		if len(items) > 0 {
			if err := tx.CreateInBatches(&items, itemInsertBatch).Error; err != nil {
				return fmt.Errorf("failed to create items: %w", err)
			}
		}
		return nil
	})
}

// GetByID retrieves an upload by its ID.
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*domain.Upload, error) {
	var upload domain.Upload
	if err := r.db.WithContext(ctx).First(&upload, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &upload, nil
}

// UpdateStatus sets the rolled-up status of an upload.
func (r *UploadRepository) UpdateStatus(ctx context.Context, id string, overall status.Canonical) error {
	res := r.db.WithContext(ctx).Model(&domain.Upload{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"overall_status": overall,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update upload status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
