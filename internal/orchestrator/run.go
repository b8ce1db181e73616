package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/outreach/internal/collaborator"
	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/logger"
	"github.com/timmy/outreach/internal/progress"
	"github.com/timmy/outreach/internal/status"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// uploadLimit bounds and paces item operations across every run of one
// upload. Guarded by o.mu except for sem and limiter.
type uploadLimit struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	runs    int
}

// acquireLimitLocked returns the upload's shared limit and counts the
// calling run against it. Caller holds o.mu.
func (o *Orchestrator) acquireLimitLocked(uploadID string) *uploadLimit {
	lim, ok := o.limits[uploadID]
	if !ok {
		every := rate.Inf
		if o.cfg.RequestDelay > 0 {
			every = rate.Every(o.cfg.RequestDelay)
		}
		lim = &uploadLimit{
			sem:     semaphore.NewWeighted(int64(o.cfg.MaxConcurrentOps)),
			limiter: rate.NewLimiter(every, 1),
		}
		o.limits[uploadID] = lim
	}
	lim.runs++
	return lim
}

// releaseLimitLocked drops the upload's limit once its last run exits.
// Caller holds o.mu.
func (o *Orchestrator) releaseLimitLocked(uploadID string) {
	lim, ok := o.limits[uploadID]
	if !ok {
		return
	}
	lim.runs--
	if lim.runs <= 0 {
		delete(o.limits, uploadID)
	}
}

// run dispatches the items of one chunk. While a run is registered it
// owns the chunk row; every chunk write goes through r.mu.
type run struct {
	o        *Orchestrator
	chunkID  string
	uploadID string
	limit    *uploadLimit
	log      *logger.Logger

	mu          sync.Mutex
	chunk       domain.Chunk
	paused      bool
	halted      bool
	abandoned   bool
	wake        chan struct{}
	fault       error
	phaseDone   map[domain.Phase]int
	phaseFailed map[domain.Phase]int
}

// launchLocked registers and starts a run for chunk. Caller holds o.mu.
func (o *Orchestrator) launchLocked(chunk *domain.Chunk) {
	r := &run{
		o:           o,
		chunkID:     chunk.ID,
		uploadID:    chunk.UploadID,
		limit:       o.acquireLimitLocked(chunk.UploadID),
		log:         o.log.WithFields(logger.Fields{logger.FieldChunkID: chunk.ID, logger.FieldUploadID: chunk.UploadID}),
		chunk:       *chunk,
		paused:      chunk.State == domain.ChunkStatePaused,
		wake:        make(chan struct{}),
		phaseDone:   make(map[domain.Phase]int),
		phaseFailed: make(map[domain.Phase]int),
	}
	o.runs[chunk.ID] = r

	o.wg.Add(1)
	go r.execute()
}

func (r *run) execute() {
	defer r.o.wg.Done()
	ctx := r.o.ctx

	for {
		if r.stopped() || ctx.Err() != nil {
			break
		}
		items, err := r.o.items.ListByChunk(ctx, r.chunkID)
		if err != nil {
			if ctx.Err() == nil {
				r.setFault(fmt.Errorf("failed to list items: %w", err))
			}
			break
		}
		r.reseed(items)

		pending := dispatchable(items)
		if len(pending) == 0 {
			break
		}
		if err := r.pass(ctx, pending); err != nil {
			r.setFault(err)
			break
		}
	}

	r.finish()
}

// pass dispatches one batch of items. The upload's limit bounds the
// operations actually in flight.
func (r *run) pass(ctx context.Context, items []domain.Item) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.cfg.MaxConcurrentOps)

	for i := range items {
		if r.stopped() || gctx.Err() != nil {
			break
		}
		item := items[i]
		g.Go(func() error {
			return r.processItem(gctx, &item)
		})
	}
	return g.Wait()
}

// processItem runs the item through its remaining phases in order. It
// returns a non-nil error only for chunk-wide faults.
func (r *run) processItem(ctx context.Context, item *domain.Item) error {
	for {
		phase, ok := item.NextPhase()
		if !ok {
			break
		}

		res, err := r.dispatch(ctx, item, phase)
		if errors.Is(err, errNotDispatched) {
			// The phase stays pending for a later start.
			return nil
		}

		raw, errMsg := res.RawStatus, res.Error
		if err != nil {
			raw, errMsg = "failed", err.Error()
		}
		if uerr := r.o.items.UpdatePhase(r.o.ctx, item.ID, phase, raw, errMsg); uerr != nil {
			return &FaultError{ChunkID: r.chunkID, Cause: fmt.Errorf("failed to record phase result: %w", uerr)}
		}
		item.SetPhaseStatus(phase, raw, errMsg)
		r.phaseFinished(phase, status.Normalize(raw))

		if collaborator.IsUnreachable(err) {
			return &FaultError{ChunkID: r.chunkID, Cause: err}
		}
	}

	if item.Settled() {
		r.itemSettled(item.Failed())
	}
	return nil
}

// dispatch sends one phase of an item to its collaborator, retrying
// transient failures. Every attempt waits for the gate and the upload's
// limit.
func (r *run) dispatch(ctx context.Context, item *domain.Item, phase domain.Phase) (collaborator.Result, error) {
	proc, ok := r.o.processors[phase]
	if !ok {
		return collaborator.Result{}, &collaborator.Error{
			Kind:    collaborator.KindRejected,
			Phase:   phase,
			Message: "no collaborator configured",
		}
	}

	log := r.log.WithFields(logger.Fields{
		logger.FieldItemID: item.ID,
		logger.FieldPhase:  string(phase),
	})

	var lastErr error
	for attempt := 1; attempt <= r.o.cfg.RetryAttempts; attempt++ {
		if err := r.acquire(ctx); err != nil {
			return collaborator.Result{}, errNotDispatched
		}

		start := time.Now()
		actx, cancel := context.WithTimeout(r.o.ctx, r.o.cfg.Timeout)
		res, err := proc.Process(actx, item)
		cancel()
		r.limit.sem.Release(1)

		if err == nil && status.Normalize(res.RawStatus) == status.Pending {
			err = &collaborator.Error{
				Kind:    collaborator.KindTransient,
				Phase:   phase,
				Message: fmt.Sprintf("collaborator left item %s", res.RawStatus),
			}
		}
		if err == nil {
			log.WithFields(logger.Fields{
				logger.FieldAttempt:    attempt,
				logger.FieldStatus:     res.RawStatus,
				logger.FieldDurationMs: time.Since(start).Milliseconds(),
			}).Debug("Phase dispatched")
			return res, nil
		}

		lastErr = err
		log.WithError(err).WithField(logger.FieldAttempt, attempt).Warn("Phase attempt failed")

		if r.o.ctx.Err() != nil {
			return collaborator.Result{}, errNotDispatched
		}
		var ce *collaborator.Error
		if errors.As(err, &ce) && !ce.Retryable() {
			break
		}
	}
	return collaborator.Result{}, lastErr
}

// acquire takes a slot of the upload's concurrency budget and a pacing
// token. A run paused or stopped meanwhile gives the slot back. On success
// the caller releases the slot.
func (r *run) acquire(ctx context.Context) error {
	for {
		if err := r.waitGate(ctx); err != nil {
			return err
		}
		if err := r.limit.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		if err := r.limit.limiter.Wait(ctx); err != nil {
			r.limit.sem.Release(1)
			return err
		}
		if r.open() {
			return nil
		}
		r.limit.sem.Release(1)
	}
}

func (r *run) open() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.paused && !r.halted && !r.abandoned
}

// waitGate blocks while the run is paused.
func (r *run) waitGate(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		if r.halted || r.abandoned {
			r.mu.Unlock()
			return errNotDispatched
		}
		if !r.paused {
			r.mu.Unlock()
			return nil
		}
		wake := r.wake
		r.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *run) stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted || r.abandoned || r.fault != nil
}

func (r *run) state() domain.ChunkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunk.State
}

func (r *run) setFault(err error) {
	r.mu.Lock()
	if r.fault == nil {
		r.fault = err
	}
	r.mu.Unlock()
}

// reseed raises the counters to what the store reports; they never decrease.
func (r *run) reseed(items []domain.Item) {
	processed, failed := tally(items)

	r.mu.Lock()
	defer r.mu.Unlock()
	if processed <= r.chunk.ProcessedCount && failed <= r.chunk.FailedCount {
		return
	}
	r.chunk.ProcessedCount = max(r.chunk.ProcessedCount, processed)
	r.chunk.FailedCount = max(r.chunk.FailedCount, failed)
	r.persistLocked()
}

func (r *run) itemSettled(failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chunk.ProcessedCount < r.chunk.ItemCount {
		r.chunk.ProcessedCount++
	}
	if failed {
		r.chunk.FailedCount++
	}
	r.persistLocked()
}

func (r *run) phaseFinished(phase domain.Phase, outcome status.Canonical) {
	r.mu.Lock()
	r.phaseDone[phase]++
	if outcome == status.Failed {
		r.phaseFailed[phase]++
	}
	done, failed := r.phaseDone[phase], r.phaseFailed[phase]
	r.mu.Unlock()

	r.o.pub.Publish(progress.PhaseUpdate(phase, r.chunkID, status.Processing, done, failed))
}

// persistLocked writes the chunk row and publishes its progress. Halted
// runs no longer own the row and skip the write. Caller holds r.mu.
func (r *run) persistLocked() {
	if r.halted || r.abandoned {
		return
	}
	r.chunk.ProgressPercent = ProgressPercent(r.chunk.ProcessedCount, r.chunk.ItemCount)
	if err := r.o.chunks.Update(r.o.ctx, &r.chunk); err != nil {
		r.log.WithError(err).Warn("Failed to persist chunk progress")
		return
	}
	snapshot := r.chunk
	r.o.pub.Publish(progress.ChunkProgress(&snapshot))
}

func (r *run) pause(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chunk.State != domain.ChunkStateProcessing {
		return &StateTransitionError{ChunkID: r.chunkID, Op: "pause", From: r.chunk.State}
	}
	r.paused = true
	r.chunk.State = domain.ChunkStatePaused
	if err := r.o.chunks.Update(ctx, &r.chunk); err != nil {
		return fmt.Errorf("failed to pause chunk: %w", err)
	}
	r.log.Info("Chunk paused")
	snapshot := r.chunk
	r.o.pub.Publish(progress.ChunkProgress(&snapshot))
	return nil
}

func (r *run) resume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chunk.State != domain.ChunkStatePaused {
		return &StateTransitionError{ChunkID: r.chunkID, Op: "resume", From: r.chunk.State}
	}
	r.chunk.State = domain.ChunkStateProcessing
	if err := r.o.chunks.Update(ctx, &r.chunk); err != nil {
		r.chunk.State = domain.ChunkStatePaused
		return fmt.Errorf("failed to resume chunk: %w", err)
	}
	r.paused = false
	close(r.wake)
	r.wake = make(chan struct{})
	r.log.Info("Chunk resumed")
	snapshot := r.chunk
	r.o.pub.Publish(progress.ChunkProgress(&snapshot))
	return nil
}

// halt stops dispatch and returns the chunk to PENDING.
func (r *run) halt(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunk.State = domain.ChunkStatePending
	r.chunk.Status = status.Pending
	if err := r.o.chunks.Update(ctx, &r.chunk); err != nil {
		return fmt.Errorf("failed to stop chunk: %w", err)
	}
	r.halted = true
	close(r.wake)
	r.wake = make(chan struct{})
	r.log.Info("Chunk stopped")
	snapshot := r.chunk
	r.o.pub.Publish(progress.ChunkProgress(&snapshot))
	return nil
}

// abandon releases the chunk row without writing it, ahead of deletion.
func (r *run) abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = true
	close(r.wake)
	r.wake = make(chan struct{})
}

// finish deregisters the run and settles the chunk.
func (r *run) finish() {
	o := r.o
	o.mu.Lock()
	defer o.mu.Unlock()

	o.releaseLimitLocked(r.uploadID)
	if o.runs[r.chunkID] == r {
		delete(o.runs, r.chunkID)
	}

	r.mu.Lock()
	halted := r.halted || r.abandoned
	fault := r.fault
	chunk := r.chunk
	r.mu.Unlock()

	if halted || o.ctx.Err() != nil {
		return
	}
	if fault != nil {
		o.failLocked(o.ctx, &chunk, fault)
		return
	}
	if chunk.State == domain.ChunkStatePaused {
		// Resume settles the chunk once dispatch is allowed again.
		return
	}
	if err := o.settleLocked(o.ctx, &chunk); err != nil {
		r.log.WithError(err).Error("Failed to settle chunk")
	}
}
