package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
)

// OAuthTokenRepository implements repository.OAuthTokenRepository against
// the embedded store. Rows are written out-of-band by the CRM integration
// this orchestrator does not own; this repository only reads.
type OAuthTokenRepository struct {
	db *Store
}

// NewOAuthTokenRepository constructs the repository.
func NewOAuthTokenRepository(db *Store) *OAuthTokenRepository {
	return &OAuthTokenRepository{db: db}
}

const oauthTokenColumns = `location_id, access_token, refresh_token, expires_at`

type oauthTokenRow struct {
	LocationID   string `db:"location_id"`
	AccessToken  string `db:"access_token"`
	RefreshToken string `db:"refresh_token"`
	ExpiresAt    string `db:"expires_at"`
}

func (r oauthTokenRow) toDomain() (domain.OAuthTokenRecord, error) {
	expiresAt, err := time.Parse(time.RFC3339Nano, r.ExpiresAt)
	if err != nil {
		return domain.OAuthTokenRecord{}, fmt.Errorf("parse expires_at: %w", err)
	}
	return domain.OAuthTokenRecord{
		LocationID:   r.LocationID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// Get returns the token record for locationID, or repository.ErrNotFound.
func (r *OAuthTokenRepository) Get(ctx context.Context, locationID string) (*domain.OAuthTokenRecord, error) {
	row := r.db.DB().QueryRowxContext(ctx,
		`SELECT `+oauthTokenColumns+` FROM oauth_tokens WHERE location_id = ?`, locationID)

	var record oauthTokenRow
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("oauth token repo: get: %w", err)
	}

	token, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// ListExpiringBefore returns every token whose expires_at is before cutoff,
// for the maintenance process to flag ahead of a call attempt.
func (r *OAuthTokenRepository) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]domain.OAuthTokenRecord, error) {
	rows, err := r.db.DB().QueryxContext(ctx,
		`SELECT `+oauthTokenColumns+` FROM oauth_tokens WHERE expires_at < ? ORDER BY expires_at ASC`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("oauth token repo: list expiring: %w", err)
	}
	defer rows.Close()

	var out []domain.OAuthTokenRecord
	for rows.Next() {
		var row oauthTokenRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("oauth token repo: scan: %w", err)
		}
		token, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	return out, rows.Err()
}

var _ repository.OAuthTokenRepository = (*OAuthTokenRepository)(nil)
