package users

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leveltwo/internal/model"
	"leveltwo/internal/store"
)

func integrationDB(t *testing.T) *store.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := store.NewDB(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestRepositoryRefreshTokenLifecycle(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	repo := NewRepository(db)

	id := uuid.NewString()
	u, err := repo.Create(ctx, model.User{ID: id, Name: "Kero", Email: id + "@level2.com", Role: model.RoleServant, PasswordHash: []byte("x")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Delete(context.Background(), u.ID) })

	_, err = repo.Create(ctx, model.User{ID: uuid.NewString(), Name: "Kero", Email: u.Email, Role: model.RoleServant, PasswordHash: []byte("x")})
	assert.ErrorIs(t, err, ErrEmailTaken)

	live, stale := uuid.NewString(), uuid.NewString()
	require.NoError(t, repo.SaveRefreshToken(ctx, u.ID, live, time.Now().Add(time.Hour)))
	require.NoError(t, repo.SaveRefreshToken(ctx, u.ID, stale, time.Now().Add(-time.Hour)))

	_, err = repo.ConsumeRefreshToken(ctx, stale)
	assert.ErrorIs(t, err, ErrInvalidToken)

	owner, err := repo.ConsumeRefreshToken(ctx, live)
	require.NoError(t, err)
	assert.Equal(t, u.ID, owner)
	_, err = repo.ConsumeRefreshToken(ctx, live)
	assert.ErrorIs(t, err, ErrInvalidToken, "a token is consumed once")

	n, err := repo.PurgeRefreshTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))
}
