package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/logger"
	"github.com/timmy/outreach/internal/service"
)

// UploadService is the part of service.UploadService the handler needs.
type UploadService interface {
	CreateUpload(ctx context.Context, req service.CreateUploadRequest) (*domain.Upload, []domain.Chunk, error)
	Snapshot(ctx context.Context, uploadID string) (*service.Snapshot, error)
}

// UploadHandler handles upload creation and reconciliation snapshots.
type UploadHandler struct {
	uploads UploadService
}

// NewUploadHandler creates a new upload handler.
// Parameters:
//   - uploads: upload service instance.
//
// Returns:
//   - *UploadHandler: initialized handler.
func NewUploadHandler(uploads UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// CreateUploadRequest is the body of POST /api/v1/uploads.
type CreateUploadRequest struct {
	Owner     string   `json:"owner"`
	Targets   []string `json:"targets" binding:"required,min=1"`
	ChunkSize int      `json:"chunk_size"`
}

// CreateUploadResponse echoes the planned upload.
type CreateUploadResponse struct {
	Upload *domain.Upload `json:"upload"`
	Chunks []domain.Chunk `json:"chunks"`
}

// Create handles POST /api/v1/uploads.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *UploadHandler) Create(c *gin.Context) {
	var req CreateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	upload, chunks, err := h.uploads.CreateUpload(c.Request.Context(), service.CreateUploadRequest{
		Owner:     req.Owner,
		Targets:   req.Targets,
		ChunkSize: req.ChunkSize,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateUploadResponse{Upload: upload, Chunks: chunks})
}

// Get handles GET /api/v1/uploads/:id.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *UploadHandler) Get(c *gin.Context) {
	uploadID := c.Param("id")
	snap, err := h.uploads.Snapshot(logger.SetUploadID(c.Request.Context(), uploadID), uploadID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
