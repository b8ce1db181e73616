package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RunCounter reports how many chunk runs are executing.
type RunCounter interface {
	ActiveRuns() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db   Pinger
	runs RunCounter
}

// NewHealthHandler creates a new health handler.
// Either dependency may be nil.
func NewHealthHandler(db Pinger, runs RunCounter) *HealthHandler {
	return &HealthHandler{db: db, runs: runs}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"error":  "database unreachable: " + err.Error(),
			})
			return
		}
	}
	if h.runs != nil {
		body["active_runs"] = h.runs.ActiveRuns()
	}

	c.JSON(http.StatusOK, body)
}
