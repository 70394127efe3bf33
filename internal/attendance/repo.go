package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leveltwo/internal/model"
	"leveltwo/internal/store"
)

// Repository persists attendance and visit records in Postgres.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// Change is one upserted row and whether it was newly inserted.
type Change struct {
	Record   model.Record
	Inserted bool
}

// Entry is a record joined with the member's name.
type Entry struct {
	model.Record
	MemberName string `json:"member_name"`
}

// actorColumn maps the wire field recorded_by onto the table's column.
func actorColumn(kind model.Kind) string {
	if kind == model.KindVisits {
		return "visited_by"
	}
	return "recorded_by"
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, extra ...any) (model.Record, error) {
	var (
		rec   model.Record
		notes sql.NullString
		actor sql.NullString
	)
	dest := append([]any{&rec.MemberID, &rec.Date, &rec.Status, &notes, &actor, &rec.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Record{}, err
	}
	rec.Notes = notes.String
	if actor.Valid {
		rec.RecordedBy = &actor.String
	}
	return rec, nil
}

func columns(kind model.Kind) string {
	return "t.member_id, t.date::text, t.status, t.notes, t." + actorColumn(kind) + ", t.created_at"
}

// List returns every record of kind on date.
func (r *Repository) List(ctx context.Context, kind model.Kind, date string) ([]model.Record, error) {
	rows, err := r.db.Client.QueryContext(ctx,
		`SELECT `+columns(kind)+` FROM `+kind.Table()+` t WHERE t.date = $1`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Upsert writes every record in one transaction keyed on (member_id, date).
// created_at keeps its first value; a NULL actor does not erase the stored one.
func (r *Repository) Upsert(ctx context.Context, kind model.Kind, recs []model.Record) ([]Change, error) {
	actor := actorColumn(kind)
	query := fmt.Sprintf(`
		INSERT INTO %[1]s AS t (member_id, date, status, notes, %[2]s)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (member_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			%[2]s = COALESCE(EXCLUDED.%[2]s, t.%[2]s),
			updated_at = NOW()
		RETURNING %[3]s, (xmax = 0) AS inserted
	`, kind.Table(), actor, columns(kind))

	out := make([]Change, 0, len(recs))
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range recs {
			var inserted bool
			saved, err := scanRecord(tx.QueryRowContext(ctx, query,
				rec.MemberID, rec.Date, rec.Status, rec.Notes, rec.RecordedBy), &inserted)
			if err != nil {
				return fmt.Errorf("upsert %s %s/%s: %w", kind, rec.MemberID, rec.Date, err)
			}
			out = append(out, Change{Record: saved, Inserted: inserted})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the record of member on date.
func (r *Repository) Delete(ctx context.Context, kind model.Kind, memberID, date string) (model.Record, error) {
	rec, err := scanRecord(r.db.Client.QueryRowContext(ctx,
		`DELETE FROM `+kind.Table()+` t WHERE t.member_id = $1 AND t.date = $2 RETURNING `+columns(kind),
		memberID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, ErrNotFound
	}
	return rec, err
}

// Range returns records between from and to inclusive, newest date first,
// optionally narrowed to one member.
func (r *Repository) Range(ctx context.Context, kind model.Kind, from, to, memberID string) ([]Entry, error) {
	query := `SELECT ` + columns(kind) + `, m.name
		FROM ` + kind.Table() + ` t JOIN members m ON m.id = t.member_id
		WHERE t.date BETWEEN $1 AND $2`
	args := []any{from, to}
	if memberID != "" {
		query += ` AND t.member_id = $3`
		args = append(args, memberID)
	}
	query += ` ORDER BY t.date DESC, m.name`

	rows, err := r.db.Client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		rec, err := scanRecord(rows, &e.MemberName)
		if err != nil {
			return nil, err
		}
		e.Record = rec
		res = append(res, e)
	}
	return res, rows.Err()
}
