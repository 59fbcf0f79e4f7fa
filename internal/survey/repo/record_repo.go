package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey/entity"
)

// Columns lists the feature columns in model order.
var Columns = []string{
	"gender", "age", "smoking", "yellow_fingers", "anxiety", "peer_pressure",
	"chronic_disease", "fatigue", "allergy", "wheezing", "alcohol_consuming",
	"coughing", "shortness_of_breath", "swallowing_difficulty", "chest_pain",
}

// RecordRepo writes and reads the health_data table.
type RecordRepo struct {
	db sqlx.ExtContext
}

func NewRecordRepo(db sqlx.ExtContext) *RecordRepo { return &RecordRepo{db: db} }

// Insert stores the vector verbatim and returns the new row id.
func (r *RecordRepo) Insert(ctx context.Context, f entity.Features, at time.Time) (int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(Columns)+1), ", ")
	q := r.db.Rebind(fmt.Sprintf(`INSERT INTO health_data (%s, created_at) VALUES (%s) RETURNING id`,
		strings.Join(Columns, ", "), placeholders))

	args := make([]any, 0, len(Columns)+1)
	for _, v := range f {
		args = append(args, v)
	}
	args = append(args, at.UTC())

	var id int64
	if err := sqlx.GetContext(ctx, r.db, &id, q, args...); err != nil {
		return 0, fmt.Errorf("insert health_data: %w", err)
	}
	return id, nil
}

// SetPrediction records the classifier output for a row.
func (r *RecordRepo) SetPrediction(ctx context.Context, id int64, prediction int) error {
	q := r.db.Rebind(`UPDATE health_data SET prediction = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, q, prediction, id); err != nil {
		return fmt.Errorf("update health_data: %w", err)
	}
	return nil
}

// GetByID fetches one row.
func (r *RecordRepo) GetByID(ctx context.Context, id int64) (*entity.Record, error) {
	q := r.db.Rebind(`SELECT id, ` + strings.Join(Columns, ", ") + `, prediction, created_at FROM health_data WHERE id = ?`)
	var rec entity.Record
	if err := sqlx.GetContext(ctx, r.db, &rec, q, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns rows in id order, limit <= 0 means no limit.
func (r *RecordRepo) List(ctx context.Context, limit, offset int) ([]entity.Record, error) {
	q := `SELECT id, ` + strings.Join(Columns, ", ") + `, prediction, created_at FROM health_data ORDER BY id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	var out []entity.Record
	if err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored rows.
func (r *RecordRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM health_data`); err != nil {
		return 0, err
	}
	return n, nil
}
