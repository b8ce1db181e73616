package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/logger"
)

// PhaseRecorder is implemented by orchestrator.Orchestrator.
type PhaseRecorder interface {
	RecordPhaseResult(ctx context.Context, itemID string, phase domain.Phase, raw, errMsg string) error
}

// ItemHandler receives asynchronous phase callbacks from collaborators.
type ItemHandler struct {
	recorder PhaseRecorder
}

// NewItemHandler creates a new item handler.
func NewItemHandler(recorder PhaseRecorder) *ItemHandler {
	return &ItemHandler{recorder: recorder}
}

// PhaseCallback is the body a collaborator posts when a phase finishes.
type PhaseCallback struct {
	Status string `json:"status" binding:"required"`
	Error  string `json:"error"`
}

// RecordPhase handles POST /api/v1/items/:id/phases/:phase.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *ItemHandler) RecordPhase(c *gin.Context) {
	phase, err := domain.ParsePhase(c.Param("phase"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req PhaseCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	itemID := c.Param("id")
	ctx := logger.SetItemPhase(c.Request.Context(), itemID, string(phase))
	if err := h.recorder.RecordPhaseResult(ctx, itemID, phase, req.Status, req.Error); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
