package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/progress"
	"github.com/timmy/outreach/internal/status"
)

// memStore is an in-memory UploadStore, ChunkStore and ItemStore.
type memStore struct {
	mu      sync.Mutex
	uploads map[string]domain.Upload
	chunks  map[string]domain.Chunk
	items   map[string]domain.Item
}

func newMemStore() *memStore {
	return &memStore{
		uploads: make(map[string]domain.Upload),
		chunks:  make(map[string]domain.Chunk),
		items:   make(map[string]domain.Item),
	}
}

// seed creates one upload with one chunk of n items.
func (s *memStore) seed(n int) (uploadID, chunkID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uploadID, chunkID = "U1", "C1"
	s.uploads[uploadID] = domain.Upload{ID: uploadID, TotalItems: n, ChunkSize: n, TotalChunks: 1}
	s.chunks[chunkID] = domain.Chunk{
		ID: chunkID, UploadID: uploadID, ChunkNumber: 1,
		EndIndex: n, ItemCount: n, State: domain.ChunkStatePending,
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("I%d", i)
		s.items[id] = domain.Item{
			ID: id, UploadID: uploadID, ChunkID: chunkID, Position: i,
			TargetURL: fmt.Sprintf("https://site%d.example", i),
		}
	}
	return uploadID, chunkID
}

// seedChunks creates one upload split into chunks of perChunk items each.
func (s *memStore) seedChunks(chunks, perChunk int) (uploadID string, chunkIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uploadID = "U1"
	total := chunks * perChunk
	s.uploads[uploadID] = domain.Upload{ID: uploadID, TotalItems: total, ChunkSize: perChunk, TotalChunks: chunks}
	for c := 0; c < chunks; c++ {
		chunkID := fmt.Sprintf("C%d", c+1)
		chunkIDs = append(chunkIDs, chunkID)
		s.chunks[chunkID] = domain.Chunk{
			ID: chunkID, UploadID: uploadID, ChunkNumber: c + 1,
			StartIndex: c * perChunk, EndIndex: (c + 1) * perChunk,
			ItemCount: perChunk, State: domain.ChunkStatePending,
		}
		for i := c * perChunk; i < (c+1)*perChunk; i++ {
			id := fmt.Sprintf("I%d", i)
			s.items[id] = domain.Item{
				ID: id, UploadID: uploadID, ChunkID: chunkID, Position: i,
				TargetURL: fmt.Sprintf("https://site%d.example", i),
			}
		}
	}
	return uploadID, chunkIDs
}

type uploadStore struct{ *memStore }
type chunkStore struct{ *memStore }
type itemStore struct{ *memStore }

func (s uploadStore) GetByID(_ context.Context, id string) (*domain.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (s uploadStore) UpdateStatus(_ context.Context, id string, overall status.Canonical) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.OverallStatus = overall
	s.uploads[id] = u
	return nil
}

func (s chunkStore) GetByID(_ context.Context, id string) (*domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (s chunkStore) ListByUpload(_ context.Context, uploadID string) ([]domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Chunk
	for _, c := range s.chunks {
		if c.UploadID == uploadID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNumber < out[j].ChunkNumber })
	return out, nil
}

func (s chunkStore) Update(_ context.Context, chunk *domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[chunk.ID]; !ok {
		return domain.ErrNotFound
	}
	s.chunks[chunk.ID] = *chunk
	return nil
}

func (s chunkStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.chunks, id)
	for itemID, item := range s.items {
		if item.ChunkID == id {
			delete(s.items, itemID)
		}
	}
	return nil
}

func (s itemStore) GetByID(_ context.Context, id string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (s itemStore) ListByChunk(_ context.Context, chunkID string) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Item
	for _, item := range s.items {
		if item.ChunkID == chunkID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s itemStore) UpdatePhase(_ context.Context, id string, phase domain.Phase, raw, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.SetPhaseStatus(phase, raw, errMsg)
	s.items[id] = item
	return nil
}

func (s *memStore) chunk(id string) domain.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[id]
}

// item returns a copy of the stored item.
func (s *memStore) item(id string) *domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[id]
	return &it
}

func (s *memStore) upload(id string) domain.Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[id]
}

// eventLog records published events.
type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Publish(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) ofKind(kind progress.Kind) []progress.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []progress.Event
	for _, e := range l.events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
