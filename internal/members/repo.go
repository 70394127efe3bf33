package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"leveltwo/internal/model"
	"leveltwo/internal/store"
)

// PostgresRepository persists members in Postgres.
type PostgresRepository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (model.Member, error) {
	var (
		m     model.Member
		notes sql.NullString
	)
	types := pgtype.NewMap()
	if err := row.Scan(&m.ID, &m.Name, types.SQLScanner(&m.Phones), &notes, &m.CreatedAt); err != nil {
		return model.Member{}, err
	}
	m.Notes = notes.String
	return m, nil
}

const memberColumns = `id, name, phones, notes, created_at`

// List returns every member ordered by name.
func (r *PostgresRepository) List(ctx context.Context) ([]model.Member, error) {
	rows, err := r.db.Client.QueryContext(ctx, `SELECT `+memberColumns+` FROM members ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// Get returns a single member.
func (r *PostgresRepository) Get(ctx context.Context, id string) (model.Member, error) {
	m, err := scanMember(r.db.Client.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Member{}, ErrNotFound
	}
	return m, err
}

// Create inserts all members in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, ms []model.Member) ([]model.Member, error) {
	out := make([]model.Member, 0, len(ms))
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, m := range ms {
			saved, err := scanMember(tx.QueryRowContext(ctx, `
				INSERT INTO members (id, name, phones, notes)
				VALUES ($1, $2, $3, $4)
				RETURNING `+memberColumns,
				m.ID, m.Name, m.Phones, nullString(m.Notes)))
			if err != nil {
				return fmt.Errorf("insert member %q: %w", m.Name, err)
			}
			out = append(out, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update overwrites name, phones and notes.
func (r *PostgresRepository) Update(ctx context.Context, m model.Member) (model.Member, error) {
	saved, err := scanMember(r.db.Client.QueryRowContext(ctx, `
		UPDATE members
		SET name = $2, phones = $3, notes = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+memberColumns,
		m.ID, m.Name, m.Phones, nullString(m.Notes)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Member{}, ErrNotFound
	}
	return saved, err
}

// Delete removes the member; records and assignment cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (model.Member, error) {
	m, err := scanMember(r.db.Client.QueryRowContext(ctx, `DELETE FROM members WHERE id = $1 RETURNING `+memberColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Member{}, ErrNotFound
	}
	return m, err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
