package batch

import "github.com/Brownbull/gmni-boletapp-sub015/internal/extraction"

// Status is the lifecycle status of one image within a batch.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Terminal reports whether a status admits no further transition
// without an explicit retry.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// Image is one immutable batch input. Index is the stable 0..N-1
// position used for final ordering; ID is a caller-supplied identifier
// distinct from the index. Payload is opaque to the engine and is only
// forwarded to the extractor.
type Image struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	Payload     []byte `json:"-"`
	ContentType string `json:"content_type"`
}

// ItemState tracks one image's lifecycle within a batch session.
// There is exactly one ItemState per input image for the lifetime of a
// session; it is mutated only by the Scheduler or the Engine's retry.
type ItemState struct {
	ID          string                  `json:"id"`
	Index       int                     `json:"index"`
	Status      Status                  `json:"status"`
	Progress    int                     `json:"progress"` // 0..100
	Transaction *extraction.Transaction `json:"transaction,omitempty"`
	Err         string                  `json:"error,omitempty"`
}

// Result is the immutable terminal snapshot of one item, produced once
// it reaches ready or error.
type Result struct {
	ID          string                  `json:"id"`
	Index       int                     `json:"index"`
	Success     bool                    `json:"success"`
	Transaction *extraction.Transaction `json:"transaction,omitempty"`
	Err         string                  `json:"error,omitempty"`
}

// Progress counts terminal items against the batch total.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Session is a read-only snapshot of the engine's current batch state.
type Session struct {
	States       []ItemState `json:"states"`
	Progress     Progress    `json:"progress"`
	IsProcessing bool        `json:"is_processing"`
}

// resultFromState derives the terminal snapshot for a state. The state
// must already be terminal.
func resultFromState(st ItemState) Result {
	return Result{
		ID:          st.ID,
		Index:       st.Index,
		Success:     st.Status == StatusReady,
		Transaction: st.Transaction,
		Err:         st.Err,
	}
}
