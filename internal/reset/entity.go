package reset

import (
	"time"

	resetrepo "github.com/ovaphlow/pitchfork/service-lungcheck/internal/reset/repo"
)

// Token is a single-use password reset credential.
type Token struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// ValidAt reports whether the token can still be used at t. A token is
// rejected from the instant it expires.
func (t *Token) ValidAt(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

func fromRow(r *resetrepo.Row) *Token { return (*Token)(r) }
