package domain

import (
	"time"

	"github.com/timmy/outreach/internal/status"
)

// ChunkState is the lifecycle state of a chunk run.
// Values include ChunkStatePending, ChunkStateProcessing, ChunkStatePaused,
// ChunkStateCompleted, and ChunkStateFailed.
type ChunkState string

const (
	ChunkStatePending    ChunkState = "PENDING"
	ChunkStateProcessing ChunkState = "PROCESSING"
	ChunkStatePaused     ChunkState = "PAUSED"
	ChunkStateCompleted  ChunkState = "COMPLETED"
	ChunkStateFailed     ChunkState = "FAILED"
)

// Terminal reports whether no further transitions leave this state.
func (s ChunkState) Terminal() bool {
	return s == ChunkStateCompleted || s == ChunkStateFailed
}

// Chunk is one contiguous slice [StartIndex, EndIndex) of an upload's items.
type Chunk struct {
	ID              string           `gorm:"type:text;primaryKey" json:"id"`
	UploadID        string           `gorm:"type:text;not null;index:idx_chunks_upload_number,unique" json:"upload_id"`
	ChunkNumber     int              `gorm:"not null;index:idx_chunks_upload_number,unique" json:"chunk_number"`
	StartIndex      int              `json:"start_index"`
	EndIndex        int              `json:"end_index"`
	ItemCount       int              `json:"item_count"`
	State           ChunkState       `gorm:"type:text;index;default:PENDING" json:"state"`
	Status          status.Canonical `gorm:"type:text" json:"status"`
	ProcessedCount  int              `gorm:"default:0" json:"processed_count"`
	FailedCount     int              `gorm:"default:0" json:"failed_count"`
	ProgressPercent int              `gorm:"default:0" json:"progress_percent"`
	ErrorMessage    string           `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Chunk.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Chunk) TableName() string {
	return "chunks"
}
