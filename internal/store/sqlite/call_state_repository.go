package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
)

// CallStateRepository implements repository.CallStateRepository against the
// embedded store.
type CallStateRepository struct {
	db *Store
}

// NewCallStateRepository constructs the repository.
func NewCallStateRepository(db *Store) *CallStateRepository {
	return &CallStateRepository{db: db}
}

const callStateColumns = `call_id, contact_id, phone, attempt_index, status, created_at,
	signed_url, first_name, full_name, email, full_address, answered_by, conversation_id,
	first_attempt_at, retry_scheduled, past_call_summary, original_conv_id`

type callStateRow struct {
	CallID          string `db:"call_id"`
	ContactID       string `db:"contact_id"`
	Phone           string `db:"phone"`
	AttemptIndex    int    `db:"attempt_index"`
	Status          string `db:"status"`
	CreatedAt       string `db:"created_at"`
	SignedURL       string `db:"signed_url"`
	FirstName       string `db:"first_name"`
	FullName        string `db:"full_name"`
	Email           string `db:"email"`
	FullAddress     string `db:"full_address"`
	AnsweredBy      string `db:"answered_by"`
	ConversationID  string `db:"conversation_id"`
	FirstAttemptAt  string `db:"first_attempt_at"`
	RetryScheduled  int    `db:"retry_scheduled"`
	PastCallSummary string `db:"past_call_summary"`
	OriginalConvID  string `db:"original_conv_id"`
}

func (r callStateRow) toDomain() (domain.CallState, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return domain.CallState{}, fmt.Errorf("parse created_at: %w", err)
	}
	firstAttemptAt, err := time.Parse(time.RFC3339Nano, r.FirstAttemptAt)
	if err != nil {
		return domain.CallState{}, fmt.Errorf("parse first_attempt_at: %w", err)
	}

	return domain.CallState{
		CallID:          r.CallID,
		ContactID:       r.ContactID,
		Phone:           r.Phone,
		AttemptIndex:    r.AttemptIndex,
		Status:          domain.CallStatus(r.Status),
		CreatedAt:       createdAt,
		SignedURL:       r.SignedURL,
		FirstName:       r.FirstName,
		FullName:        r.FullName,
		Email:           r.Email,
		FullAddress:     r.FullAddress,
		AnsweredBy:      domain.AnsweredBy(r.AnsweredBy),
		ConversationID:  r.ConversationID,
		FirstAttemptAt:  firstAttemptAt,
		RetryScheduled:  r.RetryScheduled != 0,
		PastCallSummary: r.PastCallSummary,
		OriginalConvID:  r.OriginalConvID,
	}, nil
}

// Get returns the CallState for callID, or repository.ErrNotFound.
func (r *CallStateRepository) Get(ctx context.Context, callID string) (*domain.CallState, error) {
	row := r.db.DB().QueryRowxContext(ctx, `SELECT `+callStateColumns+` FROM call_state WHERE call_id = ?`, callID)

	var record callStateRow
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call state repo: get: %w", err)
	}

	state, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Put inserts or replaces the full CallState row.
func (r *CallStateRepository) Put(ctx context.Context, state *domain.CallState) error {
	q := `INSERT INTO call_state (` + callStateColumns + `) VALUES (
		:call_id, :contact_id, :phone, :attempt_index, :status, :created_at, :signed_url,
		:first_name, :full_name, :email, :full_address, :answered_by, :conversation_id,
		:first_attempt_at, :retry_scheduled, :past_call_summary, :original_conv_id)
		ON CONFLICT(call_id) DO UPDATE SET
			contact_id = excluded.contact_id,
			phone = excluded.phone,
			attempt_index = excluded.attempt_index,
			status = excluded.status,
			created_at = excluded.created_at,
			signed_url = excluded.signed_url,
			first_name = excluded.first_name,
			full_name = excluded.full_name,
			email = excluded.email,
			full_address = excluded.full_address,
			answered_by = excluded.answered_by,
			conversation_id = excluded.conversation_id,
			first_attempt_at = excluded.first_attempt_at,
			retry_scheduled = excluded.retry_scheduled,
			past_call_summary = excluded.past_call_summary,
			original_conv_id = excluded.original_conv_id`

	params := map[string]any{
		"call_id":           state.CallID,
		"contact_id":        state.ContactID,
		"phone":             state.Phone,
		"attempt_index":     state.AttemptIndex,
		"status":            string(state.Status),
		"created_at":        state.CreatedAt.UTC().Format(time.RFC3339Nano),
		"signed_url":        state.SignedURL,
		"first_name":        state.FirstName,
		"full_name":         state.FullName,
		"email":             state.Email,
		"full_address":      state.FullAddress,
		"answered_by":       string(state.AnsweredBy),
		"conversation_id":   state.ConversationID,
		"first_attempt_at":  state.FirstAttemptAt.UTC().Format(time.RFC3339Nano),
		"retry_scheduled":   boolToInt(state.RetryScheduled),
		"past_call_summary": state.PastCallSummary,
		"original_conv_id":  state.OriginalConvID,
	}

	if _, err := r.db.DB().NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("call state repo: put: %w", err)
	}
	return nil
}

// UpdateAnsweredBy patches the answered-by classification.
func (r *CallStateRepository) UpdateAnsweredBy(ctx context.Context, callID string, answeredBy domain.AnsweredBy) error {
	if _, err := r.db.DB().ExecContext(ctx,
		`UPDATE call_state SET answered_by = ? WHERE call_id = ?`, string(answeredBy), callID); err != nil {
		return fmt.Errorf("call state repo: update answered_by: %w", err)
	}
	return nil
}

// UpdateStatus patches the carrier status.
func (r *CallStateRepository) UpdateStatus(ctx context.Context, callID string, status domain.CallStatus) error {
	if _, err := r.db.DB().ExecContext(ctx,
		`UPDATE call_state SET status = ? WHERE call_id = ?`, string(status), callID); err != nil {
		return fmt.Errorf("call state repo: update status: %w", err)
	}
	return nil
}

// UpdateConversationID persists the agent-assigned conversation id from
// the conversation_initiation_metadata frame.
func (r *CallStateRepository) UpdateConversationID(ctx context.Context, callID string, conversationID string) error {
	if _, err := r.db.DB().ExecContext(ctx,
		`UPDATE call_state SET conversation_id = ? WHERE call_id = ?`, conversationID, callID); err != nil {
		return fmt.Errorf("call state repo: update conversation id: %w", err)
	}
	return nil
}

// SetRetryScheduled atomically sets the latch; didSet is false if another
// caller already set it first.
func (r *CallStateRepository) SetRetryScheduled(ctx context.Context, callID string) (bool, error) {
	res, err := r.db.DB().ExecContext(ctx,
		`UPDATE call_state SET retry_scheduled = 1 WHERE call_id = ? AND retry_scheduled = 0`, callID)
	if err != nil {
		return false, fmt.Errorf("call state repo: set retry scheduled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("call state repo: rows affected: %w", err)
	}
	return n > 0, nil
}

// CountInFlight reports calls not yet in a terminal status.
func (r *CallStateRepository) CountInFlight(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.DB().GetContext(ctx, &n,
		`SELECT COUNT(*) FROM call_state WHERE status NOT IN ('completed', 'canceled', 'failed')`)
	if err != nil {
		return 0, fmt.Errorf("call state repo: count in flight: %w", err)
	}
	return n, nil
}

var _ repository.CallStateRepository = (*CallStateRepository)(nil)
