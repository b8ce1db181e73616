// Package service holds the application services that sit between the
// HTTP handlers and the stores: upload planning and chunk archiving.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/logger"
	"github.com/timmy/outreach/internal/storage"
)

// ChunkArchiver writes a JSON manifest of a finished chunk to object storage.
type ChunkArchiver struct {
	store  storage.ObjectStorage
	prefix string
}

// NewChunkArchiver creates a new ChunkArchiver. Keys are placed under prefix.
func NewChunkArchiver(store storage.ObjectStorage, prefix string) *ChunkArchiver {
	return &ChunkArchiver{store: store, prefix: prefix}
}

type chunkManifest struct {
	ArchivedAt time.Time      `json:"archived_at"`
	Chunk      *domain.Chunk  `json:"chunk"`
	Items      []manifestItem `json:"items"`
}

type manifestItem struct {
	ID        string `json:"id"`
	Position  int    `json:"position"`
	TargetURL string `json:"target_url"`
	Status    string `json:"status"`

	Extraction string `json:"extraction"`
	Generation string `json:"generation"`
	Submission string `json:"submission"`
	Error      string `json:"error,omitempty"`
}

// ManifestKey returns the object key of a chunk manifest.
func (a *ChunkArchiver) ManifestKey(chunk *domain.Chunk) string {
	return path.Join(a.prefix, chunk.UploadID, fmt.Sprintf("chunk-%05d-%s.json", chunk.ChunkNumber, chunk.ID))
}

// ArchiveChunk stores the manifest of chunk and its items.
func (a *ChunkArchiver) ArchiveChunk(ctx context.Context, chunk *domain.Chunk, items []domain.Item) error {
	manifest := chunkManifest{
		ArchivedAt: time.Now().UTC(),
		Chunk:      chunk,
		Items:      make([]manifestItem, 0, len(items)),
	}
	for i := range items {
		it := &items[i]
		entry := manifestItem{
			ID:         it.ID,
			Position:   it.Position,
			TargetURL:  it.TargetURL,
			Status:     it.CanonicalStatus().String(),
			Extraction: it.ExtractionStatus,
			Generation: it.GenerationStatus,
			Submission: it.SubmissionStatus,
		}
		for _, p := range domain.Phases {
			if _, errMsg := it.PhaseStatus(p); errMsg != "" {
				entry.Error = errMsg
			}
		}
		manifest.Items = append(manifest.Items, entry)
	}

	body, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	key := a.ManifestKey(chunk)
	if err := a.store.Put(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("failed to store manifest: %w", err)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldChunkID: chunk.ID,
		logger.FieldCount:   len(items),
		"manifest":          a.store.URL(key),
	}).Info("Chunk manifest archived")
	return nil
}
