// Package orchestrator drives chunks through their lifecycle and
// dispatches their items to the phase collaborators.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/outreach/internal/collaborator"
	"github.com/timmy/outreach/internal/config"
	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/logger"
	"github.com/timmy/outreach/internal/progress"
	"github.com/timmy/outreach/internal/status"
)

// UploadStore persists uploads.
type UploadStore interface {
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
	UpdateStatus(ctx context.Context, id string, overall status.Canonical) error
}

// ChunkStore persists chunks.
type ChunkStore interface {
	GetByID(ctx context.Context, id string) (*domain.Chunk, error)
	ListByUpload(ctx context.Context, uploadID string) ([]domain.Chunk, error)
	Update(ctx context.Context, chunk *domain.Chunk) error
	Delete(ctx context.Context, id string) error
}

// ItemStore persists items.
type ItemStore interface {
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	ListByChunk(ctx context.Context, chunkID string) ([]domain.Item, error)
	UpdatePhase(ctx context.Context, id string, phase domain.Phase, raw, errMsg string) error
}

// Archiver stores a manifest of a chunk once it reaches a terminal state.
type Archiver interface {
	ArchiveChunk(ctx context.Context, chunk *domain.Chunk, items []domain.Item) error
}

// Deps groups the collaborators of an Orchestrator. Publisher, Archiver and
// Logger are optional.
type Deps struct {
	Uploads    UploadStore
	Chunks     ChunkStore
	Items      ItemStore
	Processors collaborator.Set
	Publisher  progress.Publisher
	Archiver   Archiver
	Logger     *logger.Logger
}

// Orchestrator owns the chunk state machine. Control operations are
// serialized; item dispatch runs concurrently inside each chunk run, with
// concurrency and pacing shared by all runs of an upload.
type Orchestrator struct {
	uploads    UploadStore
	chunks     ChunkStore
	items      ItemStore
	processors collaborator.Set
	pub        progress.Publisher
	archiver   Archiver
	cfg        config.OrchestratorConfig
	log        *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*run
	limits map[string]*uploadLimit
}

type nopPublisher struct{}

func (nopPublisher) Publish(progress.Event) {}

// New creates an Orchestrator.
// Parameters:
//   - deps: stores, processors and optional publisher/archiver.
//   - cfg: concurrency, pacing and retry settings.
//
// Returns:
//   - *Orchestrator: orchestrator with no active runs.
func New(deps Deps, cfg config.OrchestratorConfig) *Orchestrator {
	if cfg.MaxConcurrentOps <= 0 {
		cfg.MaxConcurrentOps = 5
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	pub := deps.Publisher
	if pub == nil {
		pub = nopPublisher{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		uploads:    deps.Uploads,
		chunks:     deps.Chunks,
		items:      deps.Items,
		processors: deps.Processors,
		pub:        pub,
		archiver:   deps.Archiver,
		cfg:        cfg,
		log:        log.WithField(logger.FieldComponent, "orchestrator"),
		ctx:        ctx,
		cancel:     cancel,
		runs:       make(map[string]*run),
		limits:     make(map[string]*uploadLimit),
	}
}

// Start moves a PENDING chunk to PROCESSING and begins dispatching its
// unfinished items.
func (o *Orchestrator) Start(ctx context.Context, chunkID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.runs[chunkID]; ok {
		return &StateTransitionError{ChunkID: chunkID, Op: "start", From: r.state()}
	}
	chunk, err := o.loadChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	if chunk.State != domain.ChunkStatePending {
		return &StateTransitionError{ChunkID: chunkID, Op: "start", From: chunk.State}
	}

	now := time.Now()
	chunk.State = domain.ChunkStateProcessing
	chunk.Status = status.Processing
	chunk.StartedAt = &now
	chunk.CompletedAt = nil
	chunk.ErrorMessage = ""

	o.log.WithFields(logger.Fields{
		logger.FieldChunkID:  chunk.ID,
		logger.FieldUploadID: chunk.UploadID,
		logger.FieldCount:    chunk.ItemCount,
	}).Info("Starting chunk")

	if err := o.settleLocked(ctx, chunk); err != nil {
		return err
	}
	o.rollupUploadLocked(ctx, chunk.UploadID)
	return nil
}

// Pause suspends dispatch of a PROCESSING chunk. In-flight item
// operations complete and their results are recorded.
func (o *Orchestrator) Pause(ctx context.Context, chunkID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.runs[chunkID]; ok {
		return r.pause(ctx)
	}
	return o.setIdleStateLocked(ctx, chunkID, "pause", domain.ChunkStateProcessing, domain.ChunkStatePaused)
}

// Resume continues dispatch of a PAUSED chunk.
func (o *Orchestrator) Resume(ctx context.Context, chunkID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.runs[chunkID]; ok {
		return r.resume(ctx)
	}
	if err := o.setIdleStateLocked(ctx, chunkID, "resume", domain.ChunkStatePaused, domain.ChunkStateProcessing); err != nil {
		return err
	}
	chunk, err := o.loadChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	return o.settleLocked(ctx, chunk)
}

// Stop halts dispatch of a PROCESSING or PAUSED chunk and returns it to
// PENDING so it can be started again.
func (o *Orchestrator) Stop(ctx context.Context, chunkID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.runs[chunkID]; ok {
		if err := r.halt(ctx); err != nil {
			return err
		}
		delete(o.runs, chunkID)
		o.rollupUploadLocked(ctx, r.uploadID)
		return nil
	}

	chunk, err := o.loadChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	if chunk.State != domain.ChunkStateProcessing && chunk.State != domain.ChunkStatePaused {
		return &StateTransitionError{ChunkID: chunkID, Op: "stop", From: chunk.State}
	}
	chunk.State = domain.ChunkStatePending
	chunk.Status = status.Pending
	if err := o.chunks.Update(ctx, chunk); err != nil {
		return fmt.Errorf("failed to stop chunk: %w", err)
	}
	o.pub.Publish(progress.ChunkProgress(chunk))
	o.rollupUploadLocked(ctx, chunk.UploadID)
	return nil
}

// Delete removes a chunk and its items. PROCESSING chunks must be paused
// or stopped first.
func (o *Orchestrator) Delete(ctx context.Context, chunkID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.runs[chunkID]; ok {
		from := r.state()
		if from != domain.ChunkStatePaused {
			return &StateTransitionError{ChunkID: chunkID, Op: "delete", From: from}
		}
		r.abandon()
		delete(o.runs, chunkID)
	}

	chunk, err := o.loadChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	if chunk.State == domain.ChunkStateProcessing {
		return &StateTransitionError{ChunkID: chunkID, Op: "delete", From: chunk.State}
	}
	if err := o.chunks.Delete(ctx, chunkID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrChunkNotFound
		}
		return fmt.Errorf("failed to delete chunk: %w", err)
	}

	o.log.WithFields(logger.Fields{
		logger.FieldChunkID:  chunkID,
		logger.FieldUploadID: chunk.UploadID,
	}).Info("Chunk deleted")
	o.rollupUploadLocked(ctx, chunk.UploadID)
	return nil
}

// RecordPhaseResult applies a phase outcome reported asynchronously by a
// collaborator and advances the chunk when possible.
// Parameters:
//   - ctx: request context.
//   - itemID: item the result belongs to.
//   - phase: phase being reported.
//   - raw: raw status string as reported.
//   - errMsg: optional error text.
//
// Returns:
//   - error: ErrItemNotFound for unknown items, or a store error.
func (o *Orchestrator) RecordPhaseResult(ctx context.Context, itemID string, phase domain.Phase, raw, errMsg string) error {
	item, err := o.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("failed to load item: %w", err)
	}
	if err := o.items.UpdatePhase(ctx, itemID, phase, raw, errMsg); err != nil {
		return fmt.Errorf("failed to record phase result: %w", err)
	}
	item.SetPhaseStatus(phase, raw, errMsg)

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldItemID:  itemID,
		logger.FieldChunkID: item.ChunkID,
		logger.FieldPhase:   string(phase),
		logger.FieldStatus:  raw,
	}).Debug("Phase result recorded")

	o.mu.Lock()
	defer o.mu.Unlock()

	// An active run picks the item up on its next pass.
	if _, ok := o.runs[item.ChunkID]; ok {
		return nil
	}

	chunk, err := o.loadChunk(ctx, item.ChunkID)
	if err != nil {
		return err
	}
	switch chunk.State {
	case domain.ChunkStateProcessing:
		return o.settleLocked(ctx, chunk)
	case domain.ChunkStateCompleted:
		return o.refreshCompletedLocked(ctx, chunk)
	}
	return nil
}

// ActiveRuns returns the number of chunks currently dispatching items.
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

// Shutdown stops all runs without changing persisted chunk state and
// waits for in-flight work until ctx expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) loadChunk(ctx context.Context, chunkID string) (*domain.Chunk, error) {
	chunk, err := o.chunks.GetByID(ctx, chunkID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrChunkNotFound
		}
		return nil, fmt.Errorf("failed to load chunk: %w", err)
	}
	return chunk, nil
}

// setIdleStateLocked flips the state of a chunk that has no active run.
func (o *Orchestrator) setIdleStateLocked(ctx context.Context, chunkID, op string, from, to domain.ChunkState) error {
	chunk, err := o.loadChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	if chunk.State != from {
		return &StateTransitionError{ChunkID: chunkID, Op: op, From: chunk.State}
	}
	chunk.State = to
	if err := o.chunks.Update(ctx, chunk); err != nil {
		return fmt.Errorf("failed to %s chunk: %w", op, err)
	}
	o.pub.Publish(progress.ChunkProgress(chunk))
	return nil
}

// settleLocked decides what a PROCESSING chunk without a run does next:
// dispatch items that still need it, complete once every item settled,
// or keep waiting on collaborator callbacks. Caller holds o.mu.
func (o *Orchestrator) settleLocked(ctx context.Context, chunk *domain.Chunk) error {
	items, err := o.items.ListByChunk(ctx, chunk.ID)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	processed, failed := tally(items)
	chunk.ProcessedCount = max(chunk.ProcessedCount, processed)
	chunk.FailedCount = max(chunk.FailedCount, failed)
	chunk.ProgressPercent = ProgressPercent(chunk.ProcessedCount, chunk.ItemCount)

	if len(dispatchable(items)) > 0 {
		if err := o.chunks.Update(ctx, chunk); err != nil {
			return fmt.Errorf("failed to update chunk: %w", err)
		}
		o.pub.Publish(progress.ChunkProgress(chunk))
		o.launchLocked(chunk)
		return nil
	}

	if processed < len(items) {
		chunk.Status = status.Processing
		if err := o.chunks.Update(ctx, chunk); err != nil {
			return fmt.Errorf("failed to update chunk: %w", err)
		}
		o.pub.Publish(progress.ChunkProgress(chunk))
		return nil
	}

	return o.completeLocked(ctx, chunk, items)
}

func (o *Orchestrator) completeLocked(ctx context.Context, chunk *domain.Chunk, items []domain.Item) error {
	now := time.Now()
	chunk.State = domain.ChunkStateCompleted
	chunk.Status = status.AggregateChunk(canonicals(items))
	chunk.CompletedAt = &now
	if err := o.chunks.Update(ctx, chunk); err != nil {
		return fmt.Errorf("failed to complete chunk: %w", err)
	}

	o.log.WithFields(logger.Fields{
		logger.FieldChunkID: chunk.ID,
		logger.FieldStatus:  chunk.Status.String(),
		"failed":            chunk.FailedCount,
	}).Info("Chunk completed")

	o.pub.Publish(progress.ChunkProgress(chunk))
	o.publishPhaseTotals(chunk.ID, items)
	o.archiveAsync(chunk, items)
	o.rollupUploadLocked(ctx, chunk.UploadID)
	return nil
}

func (o *Orchestrator) failLocked(ctx context.Context, chunk *domain.Chunk, cause error) {
	now := time.Now()
	chunk.State = domain.ChunkStateFailed
	chunk.Status = status.Failed
	chunk.ErrorMessage = cause.Error()
	chunk.CompletedAt = &now
	if err := o.chunks.Update(ctx, chunk); err != nil {
		o.log.WithError(err).WithField(logger.FieldChunkID, chunk.ID).Error("Failed to persist chunk failure")
	}

	o.log.WithError(cause).WithField(logger.FieldChunkID, chunk.ID).Error("Chunk failed")
	o.pub.Publish(progress.ChunkProgress(chunk))

	if items, err := o.items.ListByChunk(ctx, chunk.ID); err == nil {
		o.publishPhaseTotals(chunk.ID, items)
		o.archiveAsync(chunk, items)
	}
	o.rollupUploadLocked(ctx, chunk.UploadID)
}

// publishPhaseTotals sends the closing update of every phase, its status
// rolled up from the items' statuses in that phase.
func (o *Orchestrator) publishPhaseTotals(chunkID string, items []domain.Item) {
	for _, phase := range domain.Phases {
		statuses := make([]status.Canonical, len(items))
		processed, failed := 0, 0
		for i := range items {
			raw, _ := items[i].PhaseStatus(phase)
			statuses[i] = status.Normalize(raw)
			switch statuses[i] {
			case status.Failed:
				failed++
				processed++
			case status.Completed, status.PartiallyCompleted:
				processed++
			}
		}
		o.pub.Publish(progress.PhaseUpdate(phase, chunkID, status.AggregateChunk(statuses), processed, failed))
	}
}

// refreshCompletedLocked recomputes the rollups of a completed chunk after
// a late collaborator callback changed one of its items.
func (o *Orchestrator) refreshCompletedLocked(ctx context.Context, chunk *domain.Chunk) error {
	items, err := o.items.ListByChunk(ctx, chunk.ID)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	processed, failed := tally(items)
	chunk.ProcessedCount = max(chunk.ProcessedCount, processed)
	chunk.FailedCount = max(chunk.FailedCount, failed)
	chunk.ProgressPercent = ProgressPercent(chunk.ProcessedCount, chunk.ItemCount)
	chunk.Status = status.AggregateChunk(canonicals(items))
	if err := o.chunks.Update(ctx, chunk); err != nil {
		return fmt.Errorf("failed to update chunk: %w", err)
	}
	o.pub.Publish(progress.ChunkProgress(chunk))
	o.rollupUploadLocked(ctx, chunk.UploadID)
	return nil
}

// rollupUploadLocked recomputes and persists the upload's overall status
// and publishes upload progress. Failures are logged only.
func (o *Orchestrator) rollupUploadLocked(ctx context.Context, uploadID string) {
	chunks, err := o.chunks.ListByUpload(ctx, uploadID)
	if err != nil {
		o.log.WithError(err).WithField(logger.FieldUploadID, uploadID).Warn("Failed to list chunks for rollup")
		return
	}

	statuses := make([]status.Canonical, 0, len(chunks))
	current, total := 0, 0
	for i := range chunks {
		statuses = append(statuses, chunks[i].Status)
		current += chunks[i].ProcessedCount
		total += chunks[i].ItemCount
	}
	overall := status.AggregateUpload(statuses)

	if err := o.uploads.UpdateStatus(ctx, uploadID, overall); err != nil {
		o.log.WithError(err).WithField(logger.FieldUploadID, uploadID).Warn("Failed to update upload status")
	}
	o.pub.Publish(progress.UploadProgress(uploadID, current, total, ProgressPercent(current, total), overall))
}

func (o *Orchestrator) archiveAsync(chunk *domain.Chunk, items []domain.Item) {
	if o.archiver == nil {
		return
	}
	snapshot := *chunk
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.archiver.ArchiveChunk(o.ctx, &snapshot, items); err != nil {
			o.log.WithError(err).WithField(logger.FieldChunkID, snapshot.ID).Warn("Failed to archive chunk manifest")
		}
	}()
}

// tally counts settled and failed items.
func tally(items []domain.Item) (processed, failed int) {
	for i := range items {
		if items[i].Settled() {
			processed++
		}
		if items[i].Failed() {
			failed++
		}
	}
	return processed, failed
}

func dispatchable(items []domain.Item) []domain.Item {
	var out []domain.Item
	for i := range items {
		if _, ok := items[i].NextPhase(); ok {
			out = append(out, items[i])
		}
	}
	return out
}

func canonicals(items []domain.Item) []status.Canonical {
	out := make([]status.Canonical, len(items))
	for i := range items {
		out[i] = items[i].CanonicalStatus()
	}
	return out
}
