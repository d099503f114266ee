package domain

import "time"

// OAuthTokenRecord is an externally-refreshed CRM OAuth credential. The core
// only reads it; refresh is out of scope.
type OAuthTokenRecord struct {
	LocationID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the token is no longer usable as of now.
func (t OAuthTokenRecord) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
