package batch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Brownbull/gmni-boletapp-sub015/internal/extraction"
)

// DefaultConcurrencyLimit is the number of extraction calls kept in
// flight when Options.ConcurrencyLimit is zero.
const DefaultConcurrencyLimit = 3

// CancelledReason is the error recorded on items that were never
// dispatched because the batch was cancelled before their turn. They
// still receive a terminal state so a completed batch always yields
// exactly one result per input.
const CancelledReason = "cancelled"

// Options configures one batch invocation. Extraction options are
// threaded through to the extractor unchanged.
type Options struct {
	ConcurrencyLimit int
	Extraction       extraction.Options
}

// StatusFunc receives the full current state array after every item
// transition. The slice is a snapshot; consumers may retain it.
type StatusFunc func(states []ItemState)

// ProgressFunc is invoked whenever the count of terminal items changes.
type ProgressFunc func(current, total int)

// Scheduler drives extraction calls for a batch of images through a
// sliding-window worker pool. It owns no session state across runs;
// the Engine layers session ownership on top.
type Scheduler struct {
	extractor extraction.Extractor
}

// NewScheduler creates a Scheduler backed by the given extractor.
func NewScheduler(extractor extraction.Extractor) *Scheduler {
	return &Scheduler{extractor: extractor}
}

// tracker serializes state mutation and snapshot delivery for one run.
// Callbacks fire while the lock is held so snapshots are delivered in
// the order transitions occur.
type tracker struct {
	mu         sync.Mutex
	states     []ItemState
	terminal   int
	onStatus   StatusFunc
	onProgress ProgressFunc
}

func (t *tracker) snapshotLocked() []ItemState {
	snap := make([]ItemState, len(t.states))
	copy(snap, t.states)
	return snap
}

// update applies mutate to one item, then emits a full-array snapshot
// and, if the terminal count changed, a progress update.
func (t *tracker) update(i int, mutate func(*ItemState)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasTerminal := t.states[i].Status.Terminal()
	mutate(&t.states[i])

	if !wasTerminal && t.states[i].Status.Terminal() {
		t.terminal++
	}

	if t.onStatus != nil {
		t.onStatus(t.snapshotLocked())
	}
	if t.onProgress != nil && !wasTerminal && t.states[i].Status.Terminal() {
		t.onProgress(t.terminal, len(t.states))
	}
}

// Run processes every image and returns one result per input, ordered
// by ascending index. The pool keeps min(remaining, concurrencyLimit)
// calls in flight: a bounded group is fed in ascending index order and
// a new call is dispatched the moment a slot frees.
//
// Extraction failures never abort the run; they are recorded on the
// failing item. The returned error is reserved for scheduler-internal
// faults. The cancellation token is consulted once per item at its
// dispatch boundary: items whose turn arrives after cancellation are
// marked error with CancelledReason without touching the extractor,
// while calls already in flight settle normally.
func (s *Scheduler) Run(ctx context.Context, images []Image, opts Options, onStatus StatusFunc, onProgress ProgressFunc, token *Token) ([]Result, error) {
	limit := opts.ConcurrencyLimit
	if limit < 1 {
		limit = DefaultConcurrencyLimit
	}

	t := &tracker{
		states:     make([]ItemState, len(images)),
		onStatus:   onStatus,
		onProgress: onProgress,
	}
	for i, img := range images {
		t.states[i] = ItemState{ID: img.ID, Index: img.Index, Status: StatusPending}
	}

	// Announce the initial all-pending snapshot so subscribers hold an
	// authoritative view before the first transition.
	if onStatus != nil {
		t.mu.Lock()
		onStatus(t.snapshotLocked())
		t.mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := range images {
		i := i
		img := images[i]
		g.Go(func() error {
			if token != nil && token.Cancelled() {
				t.update(i, func(st *ItemState) {
					st.Status = StatusError
					st.Progress = 100
					st.Err = CancelledReason
				})
				return nil
			}

			t.update(i, func(st *ItemState) {
				st.Status = StatusProcessing
				st.Progress = 0
			})

			tx, err := s.extractor.Extract(gctx, img.Payload, img.ContentType, opts.Extraction)
			if err != nil {
				t.update(i, func(st *ItemState) {
					st.Status = StatusError
					st.Progress = 100
					st.Err = err.Error()
				})
				return nil
			}

			t.update(i, func(st *ItemState) {
				st.Status = StatusReady
				st.Progress = 100
				st.Transaction = tx
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("running batch: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	results := make([]Result, len(t.states))
	for i, st := range t.states {
		results[i] = resultFromState(st)
	}
	return results, nil
}
