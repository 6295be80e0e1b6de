package batch

import (
	"sync"

	"github.com/Brownbull/gmni-boletapp-sub015/internal/extraction"
)

// Hooks are the optional per-item lifecycle callbacks. Any field may
// be nil.
type Hooks struct {
	// OnItemStart fires the first time an item enters processing.
	OnItemStart func(index int)
	// OnItemSuccess fires the first time an item reaches ready.
	OnItemSuccess func(index int, tx *extraction.Transaction)
	// OnItemError fires the first time an item reaches error.
	OnItemError func(index int, message string)
}

// announcement records what has already been reported for one item.
type announcement struct {
	started  bool
	finished bool
}

// Notifier turns the scheduler's repeated full-array snapshots into
// exactly-once lifecycle callbacks. The scheduler may emit many
// overlapping snapshots that still show an item in a status it already
// reported; the Notifier diffs each item's status against the last
// announced value and fires each hook at most once per item. For a
// given item at most one of OnItemSuccess/OnItemError ever fires, even
// when a retry later flips the item's terminal status.
type Notifier struct {
	mu        sync.Mutex
	hooks     Hooks
	announced map[int]*announcement
}

// NewNotifier creates a Notifier wrapping the given hooks.
func NewNotifier(hooks Hooks) *Notifier {
	return &Notifier{
		hooks:     hooks,
		announced: make(map[int]*announcement),
	}
}

// Observe consumes one snapshot and fires whichever callbacks have not
// yet been announced. The record is updated before each hook fires so
// reentrant snapshots cannot double-announce.
func (n *Notifier) Observe(states []ItemState) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, st := range states {
		a, ok := n.announced[st.Index]
		if !ok {
			a = &announcement{}
			n.announced[st.Index] = a
		}

		if st.Status == StatusProcessing && !a.started {
			a.started = true
			if n.hooks.OnItemStart != nil {
				n.hooks.OnItemStart(st.Index)
			}
		}

		if st.Status.Terminal() && !a.finished {
			// An item that went terminal without an observed
			// processing snapshot (a cancelled item, or coalesced
			// snapshots) still counts as started.
			a.started = true
			a.finished = true
			switch st.Status {
			case StatusReady:
				if n.hooks.OnItemSuccess != nil {
					n.hooks.OnItemSuccess(st.Index, st.Transaction)
				}
			case StatusError:
				if n.hooks.OnItemError != nil {
					n.hooks.OnItemError(st.Index, st.Err)
				}
			}
		}
	}
}
