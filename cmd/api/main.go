package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/outreach/internal/api"
	"github.com/timmy/outreach/internal/api/handler"
	"github.com/timmy/outreach/internal/api/middleware"
	"github.com/timmy/outreach/internal/collaborator"
	"github.com/timmy/outreach/internal/config"
	"github.com/timmy/outreach/internal/logger"
	"github.com/timmy/outreach/internal/orchestrator"
	"github.com/timmy/outreach/internal/progress"
	"github.com/timmy/outreach/internal/repository"
	"github.com/timmy/outreach/internal/service"
	"github.com/timmy/outreach/internal/storage"
)

func main() {
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to get database handle")
	}
	defer sqlDB.Close()

	uploadRepo := repository.NewUploadRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	itemRepo := repository.NewItemRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Chunk manifests are archived only when a bucket is configured
	var archiver orchestrator.Archiver
	if cfg.Storage.Enabled {
		objectStorage, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		archiver = service.NewChunkArchiver(objectStorage, cfg.Storage.Prefix)
		appLogger.WithField("bucket", cfg.Storage.Bucket).Info("Chunk manifest archiving enabled")
	}

	hub := progress.NewHub(cfg.Progress, appLogger)
	hub.SetOriginCheck(func(origin string) bool {
		return middleware.IsOriginAllowed(origin, cfg.Server.CORS)
	})

	orch := orchestrator.New(orchestrator.Deps{
		Uploads:    uploadRepo,
		Chunks:     chunkRepo,
		Items:      itemRepo,
		Processors: collaborator.NewHTTPSet(cfg.Collaborators, cfg.Orchestrator.Timeout),
		Publisher:  hub,
		Archiver:   archiver,
		Logger:     appLogger,
	}, cfg.Orchestrator)

	uploadService := service.NewUploadService(uploadRepo, chunkRepo, cfg.Orchestrator.ChunkSize)

	metrics := progress.NewMetricsReporter(hub, func() map[string]interface{} {
		return map[string]interface{}{
			"connections": hub.Connections(),
			"activeRuns":  orch.ActiveRuns(),
		}
	}, cfg.Progress.MetricsInterval)
	go metrics.Run(ctx)

	router := api.SetupRouter(api.Deps{
		Uploads:  uploadService,
		Chunks:   orch,
		Items:    orch,
		Health:   handler.NewHealthHandler(sqlDB, orch),
		Progress: hub.Handle,
		Logger:   appLogger,
	}, cfg.Server)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// Persisted chunk state is kept. Chunks left PROCESSING are picked up again
	// with pause+resume or stop+start after restart.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Orchestrator did not drain in time")
	}
	hub.Close()

	appLogger.Info("Server exited")
}
