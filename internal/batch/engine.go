package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Brownbull/gmni-boletapp-sub015/internal/extraction"
)

// ErrItemNotFound is returned by Retry when the given id does not
// belong to the current session. It signals a caller programming
// error, not a transient extraction failure.
var ErrItemNotFound = errors.New("batch: item not found in session")

// CompleteFunc receives the index-ordered results together with the
// original input sequence, exactly once per batch.
type CompleteFunc func(results []Result, images []Image)

// Engine owns one batch session at a time: it runs the Scheduler,
// feeds its snapshots through a Notifier, exposes read-only session
// snapshots, and coordinates out-of-band retries. All session state is
// mutated only here or in the Scheduler; external callers only ever
// see copies.
type Engine struct {
	scheduler *Scheduler
	extractor extraction.Extractor

	mu         sync.Mutex
	states     []ItemState
	progress   Progress
	processing bool
	token      *Token
	notifier   *Notifier
	opts       Options
}

// NewEngine creates an Engine backed by the given extractor.
func NewEngine(extractor extraction.Extractor) *Engine {
	return &Engine{
		scheduler: NewScheduler(extractor),
		extractor: extractor,
	}
}

// Start runs one batch to completion and returns the index-ordered
// results. It blocks until every item is terminal (or cancellation has
// drained in-flight work); callers wanting asynchrony run it in their
// own goroutine.
//
// Only one batch may be active at a time: starting while a prior batch
// is still processing returns an empty result immediately without
// touching the extractor, so two batches never interleave against the
// shared session state. Input indices are normalized to slice order.
func (e *Engine) Start(ctx context.Context, images []Image, opts Options, hooks Hooks, onComplete CompleteFunc) ([]Result, error) {
	e.mu.Lock()
	if e.processing {
		e.mu.Unlock()
		slog.Warn("Batch already in progress, ignoring start request")
		return []Result{}, nil
	}

	normalized := make([]Image, len(images))
	copy(normalized, images)
	for i := range normalized {
		normalized[i].Index = i
	}

	token := NewToken()
	notifier := NewNotifier(hooks)

	e.processing = true
	e.token = token
	e.notifier = notifier
	e.opts = opts
	e.progress = Progress{Current: 0, Total: len(normalized)}
	e.states = make([]ItemState, len(normalized))
	for i, img := range normalized {
		e.states[i] = ItemState{ID: img.ID, Index: img.Index, Status: StatusPending}
	}
	e.mu.Unlock()

	// Merge snapshots per changed index rather than wholesale. An
	// out-of-band retry may have rewritten an item the scheduler still
	// holds a stale terminal view of; another item's transition must not
	// regress it.
	var lastSeen []ItemState
	onStatus := func(states []ItemState) {
		e.mu.Lock()
		// A mid-run Reset clears e.states; late snapshots from the
		// draining scheduler are then dropped.
		if len(e.states) == len(states) {
			for i := range states {
				if lastSeen == nil || states[i].Status != lastSeen[i].Status {
					e.states[i] = states[i]
				}
			}
		}
		lastSeen = states
		e.mu.Unlock()
		notifier.Observe(states)
	}
	onProgress := func(current, total int) {
		e.mu.Lock()
		e.progress = Progress{Current: current, Total: total}
		e.mu.Unlock()
	}

	results, err := e.scheduler.Run(ctx, normalized, opts, onStatus, onProgress, token)

	e.mu.Lock()
	e.processing = false
	e.token = nil
	e.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("starting batch: %w", err)
	}

	slog.Info("Batch complete",
		"total", len(results),
		"failed", countFailed(results),
		"cancelled", token.Cancelled(),
	)

	if onComplete != nil {
		onComplete(results, normalized)
	}
	return results, nil
}

// Retry re-runs extraction for exactly one previously failed item. The
// call runs directly against the extractor, outside the main pool's
// concurrency accounting, and touches no other item's state.
//
// An unknown id returns ErrItemNotFound; an ordinary extraction
// failure does not return an error but is reported in the Result and
// recorded on the item.
func (e *Engine) Retry(ctx context.Context, id string, image Image) (Result, error) {
	e.mu.Lock()
	idx := -1
	for i := range e.states {
		if e.states[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		e.mu.Unlock()
		return Result{}, fmt.Errorf("retrying item %q: %w", id, ErrItemNotFound)
	}

	e.states[idx].Status = StatusProcessing
	e.states[idx].Progress = 0
	e.states[idx].Err = ""
	e.states[idx].Transaction = nil
	opts := e.opts
	snapshot := e.snapshotLocked()
	notifier := e.notifier
	e.mu.Unlock()

	if notifier != nil {
		notifier.Observe(snapshot)
	}

	tx, err := e.extractor.Extract(ctx, image.Payload, image.ContentType, opts.Extraction)

	e.mu.Lock()
	if err != nil {
		e.states[idx].Status = StatusError
		e.states[idx].Progress = 100
		e.states[idx].Err = err.Error()
	} else {
		e.states[idx].Status = StatusReady
		e.states[idx].Progress = 100
		e.states[idx].Transaction = tx
	}
	result := resultFromState(e.states[idx])
	snapshot = e.snapshotLocked()
	e.mu.Unlock()

	if notifier != nil {
		notifier.Observe(snapshot)
	}

	if err != nil {
		slog.Warn("Retry extraction failed", "id", id, "error", err)
	}
	return result, nil
}

// Cancel requests cooperative cancellation of the active batch. It is
// synchronous and idempotent; with no active batch it is a no-op.
// In-flight extraction calls still settle and are folded into the
// final results; only not-yet-dispatched items are affected.
func (e *Engine) Cancel() {
	e.mu.Lock()
	token := e.token
	e.mu.Unlock()
	if token == nil {
		return
	}
	token.Cancel()
}

// Reset clears the session back to its pre-start state. It does not
// cancel in-flight work; callers cancel first when needed.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = nil
	e.progress = Progress{}
	e.processing = false
	e.token = nil
	e.notifier = nil
	e.opts = Options{}
}

// Snapshot returns a copy of the current session state.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Session{
		States:       e.snapshotLocked(),
		Progress:     e.progress,
		IsProcessing: e.processing,
	}
}

func (e *Engine) snapshotLocked() []ItemState {
	snap := make([]ItemState, len(e.states))
	copy(snap, e.states)
	return snap
}

func countFailed(results []Result) int {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	return failed
}
