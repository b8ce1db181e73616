package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/outreach/internal/api/middleware"
	"github.com/timmy/outreach/internal/logger"
)

// ChunkController is implemented by orchestrator.Orchestrator.
type ChunkController interface {
	Start(ctx context.Context, chunkID string) error
	Pause(ctx context.Context, chunkID string) error
	Resume(ctx context.Context, chunkID string) error
	Stop(ctx context.Context, chunkID string) error
	Delete(ctx context.Context, chunkID string) error
}

// ChunkHandler exposes chunk control operations.
// Every operation acknowledges with 202 once the state change is accepted;
// processing itself continues in the background and reports over /ws.
type ChunkHandler struct {
	chunks ChunkController
}

// NewChunkHandler creates a new chunk handler.
// Parameters:
//   - chunks: chunk controller instance.
//
// Returns:
//   - *ChunkHandler: initialized handler.
func NewChunkHandler(chunks ChunkController) *ChunkHandler {
	return &ChunkHandler{chunks: chunks}
}

// Start handles POST /api/v1/chunks/:id/start.
func (h *ChunkHandler) Start(c *gin.Context) { h.control(c, "start", h.chunks.Start) }

// Pause handles POST /api/v1/chunks/:id/pause.
func (h *ChunkHandler) Pause(c *gin.Context) { h.control(c, "pause", h.chunks.Pause) }

// Resume handles POST /api/v1/chunks/:id/resume.
func (h *ChunkHandler) Resume(c *gin.Context) { h.control(c, "resume", h.chunks.Resume) }

// Stop handles POST /api/v1/chunks/:id/stop.
func (h *ChunkHandler) Stop(c *gin.Context) { h.control(c, "stop", h.chunks.Stop) }

// Delete handles DELETE /api/v1/chunks/:id.
func (h *ChunkHandler) Delete(c *gin.Context) { h.control(c, "delete", h.chunks.Delete) }

func (h *ChunkHandler) control(c *gin.Context, op string, fn func(context.Context, string) error) {
	chunkID := c.Param("id")
	ctx := logger.SetChunkID(c.Request.Context(), chunkID)

	if err := fn(ctx, chunkID); err != nil {
		respondError(c, err)
		return
	}

	middleware.GetLogger(c).WithField(logger.FieldChunkID, chunkID).Infof("Chunk %s accepted", op)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
