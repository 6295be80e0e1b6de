package batch

import "sync/atomic"

// Token is a cooperative cancellation flag shared between a caller and
// the Scheduler. The Scheduler consults it only before dispatching a
// new extraction call; work already in flight is never interrupted.
type Token struct {
	cancelled atomic.Bool
}

// NewToken creates a fresh, uncancelled Token.
func NewToken() *Token {
	return &Token{}
}

// Cancel marks the token cancelled. It is synchronous and idempotent;
// the flag is observable immediately even while extraction calls are
// still settling.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}
