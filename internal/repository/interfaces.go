// Package repository declares the storage-agnostic interfaces the
// scheduler, initiator, and status ingress depend on. The embedded-sqlite
// implementations live in internal/store/sqlite.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/domain"
)

var (
	ErrNotFound = errors.New("repository: not found")
	ErrConflict = errors.New("repository: conflict")
)

// QueueRepository persists QueueEntry rows.
type QueueRepository interface {
	Insert(ctx context.Context, entry *domain.QueueEntry) error
	// NextBatchForDispatch selects up to limit pending, due entries ordered
	// by scheduled_at then id.
	NextBatchForDispatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error)
	// ClaimInFlight performs the atomic pending->in-flight transition; ok
	// is false if another claimant already took the row.
	ClaimInFlight(ctx context.Context, id string, now time.Time) (ok bool, err error)
	MarkFailed(ctx context.Context, id string, lastError string) error
	Delete(ctx context.Context, id string) error
	// RecoverStaleInFlight resets in-flight rows whose last_attempt_at is
	// older than olderThan back to pending.
	RecoverStaleInFlight(ctx context.Context, olderThan time.Time) (int64, error)
	CountPending(ctx context.Context) (int64, error)
}

// CallStateRepository persists CallState rows.
type CallStateRepository interface {
	Get(ctx context.Context, callID string) (*domain.CallState, error)
	Put(ctx context.Context, state *domain.CallState) error
	UpdateAnsweredBy(ctx context.Context, callID string, answeredBy domain.AnsweredBy) error
	UpdateStatus(ctx context.Context, callID string, status domain.CallStatus) error
	UpdateConversationID(ctx context.Context, callID string, conversationID string) error
	// SetRetryScheduled sets the latch atomically and reports whether this
	// call was the one to set it (false if it was already set).
	SetRetryScheduled(ctx context.Context, callID string) (didSet bool, err error)
	CountInFlight(ctx context.Context) (int64, error)
}

// OAuthTokenRepository reads OAuthTokenRecord rows. The core never writes
// tokens; refresh is out of scope.
type OAuthTokenRepository interface {
	Get(ctx context.Context, locationID string) (*domain.OAuthTokenRecord, error)
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]domain.OAuthTokenRecord, error)
}
