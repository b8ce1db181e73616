package domain

import (
	"time"

	"github.com/timmy/outreach/internal/status"
)

// Upload represents one bulk ingestion job and its rolled-up status.
type Upload struct {
	ID            string           `gorm:"type:text;primaryKey" json:"id"`
	Owner         string           `gorm:"type:text;not null;index" json:"owner"`
	TotalItems    int              `gorm:"default:0" json:"total_items"`
	ChunkSize     int              `gorm:"not null" json:"chunk_size"`
	TotalChunks   int              `gorm:"default:0" json:"total_chunks"`
	OverallStatus status.Canonical `gorm:"type:text" json:"overall_status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Upload.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Upload) TableName() string {
	return "uploads"
}
