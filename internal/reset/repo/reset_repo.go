package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/database"
)

var ErrNotFound = errors.New("reset token not found")

// Row mirrors the password_resets table.
type Row struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// ResetRepo accesses password_resets. It runs on a pool or inside a tx.
type ResetRepo struct {
	db sqlx.ExtContext
}

func NewResetRepo(db sqlx.ExtContext) *ResetRepo {
	return &ResetRepo{db: db}
}

// Save inserts a token. A token collision surfaces as database.ErrDuplicate.
func (r *ResetRepo) Save(ctx context.Context, userID int64, token string, expiresAt, createdAt time.Time) (int64, error) {
	q := r.db.Rebind(`INSERT INTO password_resets (user_id, token, expires_at, created_at) VALUES (?, ?, ?, ?) RETURNING id`)
	var id int64
	if err := sqlx.GetContext(ctx, r.db, &id, q, userID, token, expiresAt.UTC(), createdAt.UTC()); err != nil {
		return 0, database.MapInsertError(err)
	}
	return id, nil
}

func (r *ResetRepo) Get(ctx context.Context, token string) (*Row, error) {
	q := r.db.Rebind(`SELECT id, user_id, token, expires_at, created_at FROM password_resets WHERE token = ?`)
	var row Row
	if err := sqlx.GetContext(ctx, r.db, &row, q, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reset token: %w", err)
	}
	return &row, nil
}

// ListForUser returns every stored token of a user, oldest first.
func (r *ResetRepo) ListForUser(ctx context.Context, userID int64) ([]Row, error) {
	q := r.db.Rebind(`SELECT id, user_id, token, expires_at, created_at FROM password_resets WHERE user_id = ? ORDER BY id`)
	var rows []Row
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, userID); err != nil {
		return nil, fmt.Errorf("list reset tokens: %w", err)
	}
	return rows, nil
}

// Delete removes a token and returns how many rows went away.
func (r *ResetRepo) Delete(ctx context.Context, token string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM password_resets WHERE token = ?`), token)
	if err != nil {
		return 0, fmt.Errorf("delete reset token: %w", err)
	}
	return res.RowsAffected()
}

func (r *ResetRepo) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM password_resets WHERE id = ?`), id)
	return err
}

func (r *ResetRepo) DeleteForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM password_resets WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("delete user reset tokens: %w", err)
	}
	return res.RowsAffected()
}
