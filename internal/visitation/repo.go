package visitation

import (
	"context"
	"database/sql"
	"fmt"

	"leveltwo/internal/model"
	"leveltwo/internal/store"
)

// Repository persists member_assignments.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// List returns every assignment.
func (r *Repository) List(ctx context.Context) ([]model.Assignment, error) {
	rows, err := r.db.Client.QueryContext(ctx,
		`SELECT member_id, servant_id FROM member_assignments WHERE servant_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.Assignment, 0)
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.MemberID, &a.ServantID); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// Upsert writes all assignments in one transaction, one row per member.
func (r *Repository) Upsert(ctx context.Context, as []model.Assignment) ([]bool, error) {
	inserted := make([]bool, 0, len(as))
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, a := range as {
			var ins bool
			err := tx.QueryRowContext(ctx, `
				INSERT INTO member_assignments (member_id, servant_id)
				VALUES ($1, $2)
				ON CONFLICT (member_id) DO UPDATE SET
					servant_id = EXCLUDED.servant_id,
					updated_at = NOW()
				RETURNING (xmax = 0)
			`, a.MemberID, a.ServantID).Scan(&ins)
			if err != nil {
				return fmt.Errorf("assign %s: %w", a.MemberID, err)
			}
			inserted = append(inserted, ins)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}
