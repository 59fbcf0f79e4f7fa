package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/setting/entity"
)

// Repo is the repository implementation for settings.
type Repo struct {
	db sqlx.ExtContext
}

// NewRepo constructs a new Repo on a pool or transaction.
func NewRepo(db sqlx.ExtContext) *Repo {
	return &Repo{db: db}
}

// GetByID returns sql.ErrNoRows when the id is unknown.
func (r *Repo) GetByID(ctx context.Context, id string) (*entity.Setting, error) {
	var st entity.Setting
	q := r.db.Rebind(`SELECT id, category, value, created_at, updated_at FROM settings WHERE id = ?`)
	if err := sqlx.GetContext(ctx, r.db, &st, q, id); err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateIfAbsent inserts the setting unless the id exists and reports whether
// this call created it.
func (r *Repo) CreateIfAbsent(ctx context.Context, st *entity.Setting) (bool, error) {
	q := r.db.Rebind(`INSERT INTO settings (id, category, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, q, st.ID, st.Category, st.Value, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
