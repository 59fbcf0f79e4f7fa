package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/database"
)

// ErrNotFound is returned when no user row matches.
var ErrNotFound = errors.New("user not found")

const userColumns = `id, username, password_hash, password_algo, email, created_at, password_updated_at`

// UserRepo provides data access for the users table. It works on a *sqlx.DB
// or on a *sqlx.Tx so password updates can join a caller's transaction.
type UserRepo struct {
	db sqlx.ExtContext
}

func NewUserRepo(db sqlx.ExtContext) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row and returns its id. A username that already
// exists yields database.ErrDuplicate.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	q := r.db.Rebind(`INSERT INTO users (username, password_hash, password_algo, email, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if err := sqlx.GetContext(ctx, r.db, &u.ID, q, u.Username, u.PasswordHash, u.PasswordAlgo, u.Email, u.CreatedAt); err != nil {
		return 0, fmt.Errorf("insert user: %w", database.MapInsertError(err))
	}
	return u.ID, nil
}

// GetByUsername fetches by exact (case-sensitive) username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE username = ?`)
	return r.get(ctx, q, username)
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	return r.get(ctx, q, id)
}

func (r *UserRepo) get(ctx context.Context, q string, arg any) (*entity.User, error) {
	var row entity.User
	if err := sqlx.GetContext(ctx, r.db, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// UpdatePassword replaces the password hash & algo.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash, algo string) error {
	q := r.db.Rebind(`UPDATE users SET password_hash = ?, password_algo = ?, password_updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, hash, algo, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
