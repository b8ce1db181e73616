package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/outreach/internal/batch"
	"github.com/timmy/outreach/internal/collaborator"
	"github.com/timmy/outreach/internal/orchestrator"
	"github.com/timmy/outreach/internal/service"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var validation *batch.ValidationError
	var transition *orchestrator.StateTransitionError
	var collab *collaborator.Error

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrChunkNotFound),
		errors.Is(err, orchestrator.ErrItemNotFound),
		errors.Is(err, service.ErrUploadNotFound):
		return http.StatusNotFound
	case errors.As(err, &transition):
		return http.StatusConflict
	case errors.As(err, &collab):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": ...} with the mapped status and attaches
// the error to the gin context for the request logger.
func respondError(c *gin.Context, err error) {
	code := statusFor(err)
	_ = c.Error(err)
	c.JSON(code, gin.H{"error": err.Error()})
}
