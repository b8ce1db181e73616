package repository

import (
	"context"
	"fmt"

	"github.com/timmy/outreach/internal/domain"
	"gorm.io/gorm"
)

// ChunkRepository handles chunk data operations.
type ChunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// GetByID retrieves a chunk by its ID.
func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.Chunk, error) {
	var chunk domain.Chunk
	if err := r.db.WithContext(ctx).First(&chunk, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &chunk, nil
}

// ListByUpload retrieves all chunks of an upload ordered by chunk number.
func (r *ChunkRepository) ListByUpload(ctx context.Context, uploadID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	if err := r.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("chunk_number ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

// Update saves every column of an existing chunk.
func (r *ChunkRepository) Update(ctx context.Context, chunk *domain.Chunk) error {
	res := r.db.WithContext(ctx).Model(chunk).Select("*").Omit("created_at").Updates(chunk)
	if res.Error != nil {
		return fmt.Errorf("failed to update chunk: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a chunk and all of its items.
func (r *ChunkRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.Item{}, "chunk_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete chunk items: %w", err)
		}
		res := tx.Delete(&domain.Chunk{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete chunk: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}
