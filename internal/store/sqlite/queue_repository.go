package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
)

// QueueRepository implements repository.QueueRepository against the
// embedded store.
type QueueRepository struct {
	db *Store
}

// NewQueueRepository constructs the repository.
func NewQueueRepository(db *Store) *QueueRepository {
	return &QueueRepository{db: db}
}

const queueColumns = `id, contact_id, phone, first_name, full_name, email, full_address,
	attempt_index, status, scheduled_at, created_at, first_attempt_at, last_attempt_at,
	last_error, call_options_blob, initial_signed_url, past_call_summary, original_conv_id,
	is_abrupt_retry`

type queueRow struct {
	ID               string         `db:"id"`
	ContactID        string         `db:"contact_id"`
	Phone            string         `db:"phone"`
	FirstName        string         `db:"first_name"`
	FullName         string         `db:"full_name"`
	Email            string         `db:"email"`
	FullAddress      string         `db:"full_address"`
	AttemptIndex     int            `db:"attempt_index"`
	Status           string         `db:"status"`
	ScheduledAt      string         `db:"scheduled_at"`
	CreatedAt        string         `db:"created_at"`
	FirstAttemptAt   string         `db:"first_attempt_at"`
	LastAttemptAt    sql.NullString `db:"last_attempt_at"`
	LastError        string         `db:"last_error"`
	CallOptionsBlob  []byte         `db:"call_options_blob"`
	InitialSignedURL string         `db:"initial_signed_url"`
	PastCallSummary  string         `db:"past_call_summary"`
	OriginalConvID   string         `db:"original_conv_id"`
	IsAbruptRetry    int            `db:"is_abrupt_retry"`
}

func (r queueRow) toDomain() (domain.QueueEntry, error) {
	scheduledAt, err := time.Parse(time.RFC3339Nano, r.ScheduledAt)
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("parse scheduled_at: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("parse created_at: %w", err)
	}
	firstAttemptAt, err := time.Parse(time.RFC3339Nano, r.FirstAttemptAt)
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("parse first_attempt_at: %w", err)
	}

	entry := domain.QueueEntry{
		ID:               r.ID,
		ContactID:        r.ContactID,
		Phone:            r.Phone,
		FirstName:        r.FirstName,
		FullName:         r.FullName,
		Email:            r.Email,
		FullAddress:      r.FullAddress,
		AttemptIndex:     r.AttemptIndex,
		Status:           domain.QueueEntryStatus(r.Status),
		ScheduledAt:      scheduledAt,
		CreatedAt:        createdAt,
		FirstAttemptAt:   firstAttemptAt,
		LastError:        r.LastError,
		CallOptionsBlob:  r.CallOptionsBlob,
		InitialSignedURL: r.InitialSignedURL,
		PastCallSummary:  r.PastCallSummary,
		OriginalConvID:   r.OriginalConvID,
		IsAbruptRetry:    r.IsAbruptRetry != 0,
	}
	if r.LastAttemptAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, r.LastAttemptAt.String)
		if err != nil {
			return domain.QueueEntry{}, fmt.Errorf("parse last_attempt_at: %w", err)
		}
		entry.LastAttemptAt = &t
	}
	return entry, nil
}

// Insert adds a new queue entry.
func (r *QueueRepository) Insert(ctx context.Context, entry *domain.QueueEntry) error {
	q := `INSERT INTO queue_entries (` + queueColumns + `) VALUES (
		:id, :contact_id, :phone, :first_name, :full_name, :email, :full_address,
		:attempt_index, :status, :scheduled_at, :created_at, :first_attempt_at, :last_attempt_at,
		:last_error, :call_options_blob, :initial_signed_url, :past_call_summary, :original_conv_id,
		:is_abrupt_retry)`

	params := map[string]any{
		"id":                 entry.ID,
		"contact_id":         entry.ContactID,
		"phone":              entry.Phone,
		"first_name":         entry.FirstName,
		"full_name":          entry.FullName,
		"email":              entry.Email,
		"full_address":       entry.FullAddress,
		"attempt_index":      entry.AttemptIndex,
		"status":             string(entry.Status),
		"scheduled_at":       entry.ScheduledAt.UTC().Format(time.RFC3339Nano),
		"created_at":         entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		"first_attempt_at":   entry.FirstAttemptAt.UTC().Format(time.RFC3339Nano),
		"last_attempt_at":    nullableTime(entry.LastAttemptAt),
		"last_error":         entry.LastError,
		"call_options_blob":  entry.CallOptionsBlob,
		"initial_signed_url": entry.InitialSignedURL,
		"past_call_summary":  entry.PastCallSummary,
		"original_conv_id":   entry.OriginalConvID,
		"is_abrupt_retry":    boolToInt(entry.IsAbruptRetry),
	}

	if _, err := r.db.DB().NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("queue repo: insert: %w", err)
	}
	return nil
}

// NextBatchForDispatch selects due pending entries FIFO by scheduled_at,
// then by id.
func (r *QueueRepository) NextBatchForDispatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.DB().QueryxContext(ctx, `SELECT `+queueColumns+` FROM queue_entries
		WHERE status = 'pending' AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, id ASC
		LIMIT ?`, now.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("queue repo: select dispatch batch: %w", err)
	}
	defer rows.Close()

	var out []domain.QueueEntry
	for rows.Next() {
		var row queueRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("queue repo: scan: %w", err)
		}
		entry, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ClaimInFlight performs the atomic pending->in-flight transition.
func (r *QueueRepository) ClaimInFlight(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.DB().ExecContext(ctx,
		`UPDATE queue_entries SET status = 'in-flight', last_attempt_at = ? WHERE id = ? AND status = 'pending'`,
		now.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("queue repo: claim in-flight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue repo: rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkFailed transitions a queue entry to failed with a recorded error.
func (r *QueueRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	_, err := r.db.DB().ExecContext(ctx,
		`UPDATE queue_entries SET status = 'failed', last_error = ? WHERE id = ?`, lastError, id)
	if err != nil {
		return fmt.Errorf("queue repo: mark failed: %w", err)
	}
	return nil
}

// Delete removes a queue entry (on successful initiation).
func (r *QueueRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.DB().ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("queue repo: delete: %w", err)
	}
	return nil
}

// RecoverStaleInFlight resets in-flight rows stuck since before olderThan
// back to pending.
func (r *QueueRepository) RecoverStaleInFlight(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx,
		`UPDATE queue_entries SET status = 'pending', last_error = 'stale in-flight recovered'
		 WHERE status = 'in-flight' AND (last_attempt_at IS NULL OR last_attempt_at < ?)`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("queue repo: recover stale in-flight: %w", err)
	}
	return res.RowsAffected()
}

// CountPending reports the current pending-entry backlog (for the depth
// metric).
func (r *QueueRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.DB().GetContext(ctx, &n, `SELECT COUNT(*) FROM queue_entries WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("queue repo: count pending: %w", err)
	}
	return n, nil
}

var _ repository.QueueRepository = (*QueueRepository)(nil)

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
