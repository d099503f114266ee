// Package scylla is a best-effort archive of call history. It is never the
// system of record: the embedded store owns that role. A write failure here
// is logged and swallowed, never propagated to the caller.
package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/outbound-voice-orchestrator/internal/domain"
)

// Archive mirrors CallState transitions into Scylla for long-term history
// and ad-hoc querying, partitioned by day.
type Archive struct {
	session *gocql.Session
}

// NewArchive constructs an Archive over an already-connected session.
func NewArchive(session *gocql.Session) *Archive {
	return &Archive{session: session}
}

// RecordAttempt appends an immutable snapshot of a call attempt to the
// bucketed history table. Callers should not block the hot path on its
// error; it is informational only.
func (a *Archive) RecordAttempt(ctx context.Context, state *domain.CallState) error {
	bucket := bucketDate(state.CreatedAt)

	err := a.session.Query(`INSERT INTO call_history (bucket, created_at, call_id, contact_id, phone,
		attempt_index, status, answered_by, conversation_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bucket, state.CreatedAt, state.CallID, state.ContactID, state.Phone,
		state.AttemptIndex, string(state.Status), string(state.AnsweredBy), state.ConversationID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("archive: insert call_history: %w", err)
	}
	return nil
}

// UpdateStatus appends a status-change row; the archive keeps the full
// sequence of transitions rather than overwriting in place, since
// ALLOW FILTERING reads over a wide column family are cheap only when the
// clustering key is append-only.
func (a *Archive) UpdateStatus(ctx context.Context, callID string, createdAt time.Time, status domain.CallStatus, answeredBy domain.AnsweredBy) error {
	bucket := bucketDate(createdAt)

	err := a.session.Query(`INSERT INTO call_history (bucket, created_at, call_id, status, answered_by)
		VALUES (?, ?, ?, ?, ?)`,
		bucket, time.Now().UTC(), callID, string(status), string(answeredBy),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("archive: insert status row: %w", err)
	}
	return nil
}

// ListByBucket returns up to limit history rows recorded on the given day
// (200 when limit is not positive).
func (a *Archive) ListByBucket(ctx context.Context, day time.Time, limit int) ([]domain.CallState, error) {
	if limit <= 0 {
		limit = 200
	}

	iter := a.session.Query(`SELECT created_at, call_id, contact_id, phone, attempt_index, status,
		answered_by, conversation_id FROM call_history WHERE bucket = ?`,
		bucketDate(day)).WithContext(ctx).PageSize(limit).Iter()

	var (
		createdAt      time.Time
		callID         string
		contactID      string
		phone          string
		attemptIndex   int
		status         string
		answeredBy     string
		conversationID string
	)

	var out []domain.CallState
	for len(out) < limit && iter.Scan(&createdAt, &callID, &contactID, &phone, &attemptIndex, &status, &answeredBy, &conversationID) {
		out = append(out, domain.CallState{
			CallID:         callID,
			ContactID:      contactID,
			Phone:          phone,
			AttemptIndex:   attemptIndex,
			Status:         domain.CallStatus(status),
			AnsweredBy:     domain.AnsweredBy(answeredBy),
			ConversationID: conversationID,
			CreatedAt:      createdAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("archive: iter close: %w", err)
	}
	return out, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
