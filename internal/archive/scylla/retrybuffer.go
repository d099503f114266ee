package scylla

import (
	"context"
	"sync"

	"github.com/acme/outbound-voice-orchestrator/internal/domain"
)

// pendingWrite is one buffered archive write that failed its first
// best-effort attempt. kind picks which Archive method retries it, since the
// initial-snapshot write and a later status transition touch different
// columns of the same append-only history row.
type pendingWrite struct {
	kind  writeKind
	state domain.CallState
}

type writeKind int

const (
	writeKindAttempt writeKind = iota
	writeKindStatus
)

// RetryBuffer holds CallState archive writes whose first attempt failed, so
// the maintenance process can retry them on its own tick instead of the hot
// path blocking on Scylla availability.
type RetryBuffer struct {
	mu      sync.Mutex
	pending []pendingWrite
}

// NewRetryBuffer constructs an empty RetryBuffer.
func NewRetryBuffer() *RetryBuffer {
	return &RetryBuffer{}
}

// Add enqueues a failed initial-snapshot write for a later retry.
func (b *RetryBuffer) Add(state domain.CallState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingWrite{kind: writeKindAttempt, state: state})
}

// AddStatusUpdate enqueues a failed status-transition write for a later retry.
func (b *RetryBuffer) AddStatusUpdate(state domain.CallState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingWrite{kind: writeKindStatus, state: state})
}

// Flush attempts to re-archive every buffered write against archive, keeping
// whatever still fails for the next call.
func (b *RetryBuffer) Flush(ctx context.Context, archive *Archive) (flushed int, err error) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	var remaining []pendingWrite
	for _, w := range pending {
		w := w
		var archiveErr error
		switch w.kind {
		case writeKindStatus:
			archiveErr = archive.UpdateStatus(ctx, w.state.CallID, w.state.CreatedAt, w.state.Status, w.state.AnsweredBy)
		default:
			archiveErr = archive.RecordAttempt(ctx, &w.state)
		}
		if archiveErr != nil {
			remaining = append(remaining, w)
			err = archiveErr
			continue
		}
		flushed++
	}

	if len(remaining) > 0 {
		b.mu.Lock()
		b.pending = append(remaining, b.pending...)
		b.mu.Unlock()
	}

	return flushed, err
}

// Len reports how many snapshots are currently buffered.
func (b *RetryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
