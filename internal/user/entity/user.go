package entity

import "time"

// User represents an account row in the `users` table.
type User struct {
	ID                int64      `db:"id"`
	Username          string     `db:"username"`
	PasswordHash      string     `db:"password_hash"`
	PasswordAlgo      *string    `db:"password_algo"`
	Email             *string    `db:"email"`
	CreatedAt         time.Time  `db:"created_at"`
	PasswordUpdatedAt *time.Time `db:"password_updated_at"`
}

// HasEmail reports whether a reset link can be delivered to the user.
func (u *User) HasEmail() bool {
	return u.Email != nil && *u.Email != ""
}
