package model

import (
	"time"
)

// Session is a shared, named bundle of filter state joinable by multiple
// clients via a short code. The code is immutable once created; ending a
// session only flips IsActive (soft delete), rows are retained for the
// retention job.
type Session struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"session_code" json:"sessionCode"`
	Filters   FilterSet `db:"current_filters" json:"currentFilters"`
	IsActive  bool      `db:"is_active" json:"isActive"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Expired reports whether the session is past its expiry instant. Expiry is
// advisory: the row may still read is_active=true, but an expired session
// must be treated as not joinable.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

type CreateSessionParams struct {
	ID        string
	Code      string
	Filters   FilterSet
	ExpiresAt time.Time
}
