package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/outreach/internal/api/handler"
	"github.com/timmy/outreach/internal/api/middleware"
	"github.com/timmy/outreach/internal/config"
	"github.com/timmy/outreach/internal/logger"
)

// Deps bundles what the router wires into handlers.
type Deps struct {
	Uploads  handler.UploadService
	Chunks   handler.ChunkController
	Items    handler.PhaseRecorder
	Health   *handler.HealthHandler
	Progress gin.HandlerFunc
	Logger   *logger.Logger
}

// SetupRouter configures the Gin router with all routes.
// Parameters:
//   - deps: services backing the handlers; Progress serves GET /ws.
//   - cfg: server configuration (mode and CORS).
//
// Returns:
//   - *gin.Engine: configured router.
func SetupRouter(deps Deps, cfg config.ServerConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	uploadHandler := handler.NewUploadHandler(deps.Uploads)
	chunkHandler := handler.NewChunkHandler(deps.Chunks)
	itemHandler := handler.NewItemHandler(deps.Items)
	healthHandler := deps.Health
	if healthHandler == nil {
		healthHandler = handler.NewHealthHandler(nil, nil)
	}

	r.GET("/health", healthHandler.Health)
	if deps.Progress != nil {
		r.GET("/ws", deps.Progress)
	}

	v1 := r.Group("/api/v1")
	{
		// Uploads
		v1.POST("/uploads", uploadHandler.Create)
		v1.GET("/uploads/:id", uploadHandler.Get)

		// Chunk control
		v1.POST("/chunks/:id/start", chunkHandler.Start)
		v1.POST("/chunks/:id/pause", chunkHandler.Pause)
		v1.POST("/chunks/:id/resume", chunkHandler.Resume)
		v1.POST("/chunks/:id/stop", chunkHandler.Stop)
		v1.DELETE("/chunks/:id", chunkHandler.Delete)

		// Collaborator callbacks
		v1.POST("/items/:id/phases/:phase", itemHandler.RecordPhase)
	}

	return r
}
