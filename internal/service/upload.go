package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/timmy/outreach/internal/batch"
	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/logger"
	"github.com/timmy/outreach/internal/orchestrator"
	"github.com/timmy/outreach/internal/status"
)

// ErrUploadNotFound is returned when an upload id is unknown.
var ErrUploadNotFound = errors.New("upload not found")

// UploadStore persists uploads with their plan.
type UploadStore interface {
	CreateWithPlan(ctx context.Context, upload *domain.Upload, chunks []domain.Chunk, items []domain.Item) error
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
}

// ChunkLister lists the chunks of an upload.
type ChunkLister interface {
	ListByUpload(ctx context.Context, uploadID string) ([]domain.Chunk, error)
}

// UploadService turns an ingested target list into a planned upload.
type UploadService struct {
	uploads          UploadStore
	chunks           ChunkLister
	defaultChunkSize int
}

// NewUploadService creates a new UploadService.
func NewUploadService(uploads UploadStore, chunks ChunkLister, defaultChunkSize int) *UploadService {
	if defaultChunkSize <= 0 {
		defaultChunkSize = batch.DefaultChunkSize
	}
	return &UploadService{uploads: uploads, chunks: chunks, defaultChunkSize: defaultChunkSize}
}

// CreateUploadRequest is the parsed output of the ingestion step.
type CreateUploadRequest struct {
	Owner     string
	Targets   []string
	ChunkSize int
}

// CreateUpload plans and persists an upload, its chunks and its items.
// Parameters:
//   - ctx: request context.
//   - req: owner, target URLs in upload order, and an optional chunk size.
//
// Returns:
//   - *domain.Upload: persisted upload.
//   - []domain.Chunk: planned chunks in order.
//   - error: *batch.ValidationError for bad planning inputs, or a store error.
func (s *UploadService) CreateUpload(ctx context.Context, req CreateUploadRequest) (*domain.Upload, []domain.Chunk, error) {
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.defaultChunkSize
	}

	plan, err := batch.Plan(len(req.Targets), chunkSize)
	if err != nil {
		return nil, nil, err
	}

	upload := &domain.Upload{
		ID:            uuid.NewString(),
		Owner:         strings.TrimSpace(req.Owner),
		TotalItems:    len(req.Targets),
		ChunkSize:     chunkSize,
		TotalChunks:   len(plan),
		OverallStatus: status.Pending,
	}

	chunks := make([]domain.Chunk, 0, len(plan))
	items := make([]domain.Item, 0, len(req.Targets))
	for _, d := range plan {
		chunk := domain.Chunk{
			ID:          uuid.NewString(),
			UploadID:    upload.ID,
			ChunkNumber: d.ChunkNumber,
			StartIndex:  d.Start,
			EndIndex:    d.End,
			ItemCount:   d.Count,
			State:       domain.ChunkState(d.State),
			Status:      status.Pending,
		}
		chunks = append(chunks, chunk)

		for pos := d.Start; pos < d.End; pos++ {
			items = append(items, domain.Item{
				ID:               uuid.NewString(),
				UploadID:         upload.ID,
				ChunkID:          chunk.ID,
				Position:         pos,
				TargetURL:        strings.TrimSpace(req.Targets[pos]),
				ExtractionStatus: "pending",
				GenerationStatus: "pending",
				SubmissionStatus: "pending",
			})
		}
	}

	if err := s.uploads.CreateWithPlan(ctx, upload, chunks, items); err != nil {
		return nil, nil, fmt.Errorf("failed to persist upload: %w", err)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldUploadID: upload.ID,
		logger.FieldCount:    upload.TotalItems,
		"chunks":             upload.TotalChunks,
	}).Info("Upload planned")

	return upload, chunks, nil
}

// Snapshot is the reconciliation view of an upload, recomputed from the store.
type Snapshot struct {
	Upload   *domain.Upload `json:"upload"`
	Chunks   []domain.Chunk `json:"chunks"`
	Current  int            `json:"current"`
	Total    int            `json:"total"`
	Progress int            `json:"progress"`
	Status   string         `json:"status"`
}

// Snapshot loads an upload and its chunks and recomputes the rollup.
// Clients use it to reconcile after missing pushed events.
func (s *UploadService) Snapshot(ctx context.Context, uploadID string) (*Snapshot, error) {
	upload, err := s.uploads.GetByID(ctx, uploadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to load upload: %w", err)
	}
	chunks, err := s.chunks.ListByUpload(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	statuses := make([]status.Canonical, len(chunks))
	current, total := 0, 0
	for i := range chunks {
		statuses[i] = chunks[i].Status
		current += chunks[i].ProcessedCount
		total += chunks[i].ItemCount
	}
	overall := status.AggregateUpload(statuses)
	upload.OverallStatus = overall

	return &Snapshot{
		Upload:   upload,
		Chunks:   chunks,
		Current:  current,
		Total:    total,
		Progress: orchestrator.ProgressPercent(current, total),
		Status:   overall.String(),
	}, nil
}
