package users

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"leveltwo/internal/model"
	"leveltwo/internal/store"
)

const uniqueViolation = "23505"

// PostgresRepository persists users and refresh tokens.
type PostgresRepository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, name, email, role, password_hash, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// Create inserts a user.
func (r *PostgresRepository) Create(ctx context.Context, u model.User) (model.User, error) {
	saved, err := scanUser(r.db.Client.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, role, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		u.ID, u.Name, u.Email, u.Role, u.PasswordHash))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return model.User{}, ErrEmailTaken
	}
	return saved, err
}

// ByEmail looks a user up case-insensitively.
func (r *PostgresRepository) ByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(r.db.Client.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// ByID returns one user.
func (r *PostgresRepository) ByID(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.db.Client.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// List returns users whose name or email contains query, newest first.
func (r *PostgresRepository) List(ctx context.Context, query string) ([]model.User, error) {
	rows, err := r.db.Client.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC`, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// Delete removes a user; their records keep a NULL actor.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.Client.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *PostgresRepository) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.Client.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	return err
}

// ConsumeRefreshToken revokes a live token and returns its owner. A token can
// be consumed once.
func (r *PostgresRepository) ConsumeRefreshToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := r.db.Client.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > NOW()
		RETURNING user_id
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidToken
	}
	return userID, err
}

// RevokeRefreshToken marks a token revoked.
func (r *PostgresRepository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.Client.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// PurgeRefreshTokens deletes tokens that are revoked or expired before cutoff.
func (r *PostgresRepository) PurgeRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.Client.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE revoked OR expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
