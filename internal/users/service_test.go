package users

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"leveltwo/internal/auth"
	"leveltwo/internal/model"
	"leveltwo/internal/validation"
	"leveltwo/pkg/logger"
)

type fakeRepo struct {
	users  map[string]model.User
	tokens map[string]string
	used   map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: map[string]model.User{}, tokens: map[string]string{}, used: map[string]bool{}}
}

func (r *fakeRepo) Create(_ context.Context, u model.User) (model.User, error) {
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return model.User{}, ErrEmailTaken
		}
	}
	u.CreatedAt = time.Now()
	r.users[u.ID] = u
	return u, nil
}

func (r *fakeRepo) ByEmail(_ context.Context, email string) (model.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, ErrNotFound
}

func (r *fakeRepo) ByID(_ context.Context, id string) (model.User, error) {
	u, ok := r.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (r *fakeRepo) List(context.Context, string) ([]model.User, error) {
	out := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *fakeRepo) SaveRefreshToken(_ context.Context, userID, token string, _ time.Time) error {
	r.tokens[token] = userID
	return nil
}

func (r *fakeRepo) ConsumeRefreshToken(_ context.Context, token string) (string, error) {
	id, ok := r.tokens[token]
	if !ok || r.used[token] {
		return "", ErrInvalidToken
	}
	r.used[token] = true
	return id, nil
}

func (r *fakeRepo) RevokeRefreshToken(_ context.Context, token string) error {
	r.used[token] = true
	return nil
}

func newTestService(allowSignup bool) (*Service, *fakeRepo) {
	repo := newFakeRepo()
	signer := auth.NewSigner("leveltwo", "test-key", time.Minute, time.Hour)
	svc := NewService(repo, signer, validation.New(), logger.Discard(), allowSignup)
	svc.cost = bcrypt.MinCost
	return svc, repo
}

func TestCreateAndSignIn(t *testing.T) {
	svc, repo := newTestService(true)
	ctx := context.Background()

	u, err := svc.Create(ctx, NewUser{Name: "Marina", Email: " Marina@Level2.com ", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "marina@level2.com", u.Email)
	assert.Equal(t, model.RoleServant, u.Role)
	assert.NotEqual(t, []byte("password123"), repo.users[u.ID].PasswordHash)

	sess, err := svc.SignIn(ctx, "marina@level2.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.User.ID)
	assert.NotEmpty(t, sess.AccessToken)

	_, err = svc.SignIn(ctx, "marina@level2.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(ctx, "nobody@level2.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Create(ctx, NewUser{Name: "Again", Email: "marina@level2.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(true)
	tests := []struct {
		name string
		in   NewUser
	}{
		{"short password", NewUser{Name: "Kero", Email: "kero@level2.com", Password: "12345"}},
		{"bad email", NewUser{Name: "Kero", Email: "kero", Password: "123456"}},
		{"blank name", NewUser{Name: " ", Email: "kero@level2.com", Password: "123456"}},
		{"unknown role", NewUser{Name: "Kero", Email: "kero@level2.com", Password: "123456", Role: "owner"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			var verr *validation.Error
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestSignUpForcesServantRole(t *testing.T) {
	svc, _ := newTestService(true)
	sess, err := svc.SignUp(context.Background(), NewUser{Name: "Kero", Email: "kero@level2.com", Password: "123456", Role: model.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, model.RoleServant, sess.User.Role)

	closed, _ := newTestService(false)
	_, err = closed.SignUp(context.Background(), NewUser{Name: "Kero", Email: "kero@level2.com", Password: "123456"})
	assert.ErrorIs(t, err, ErrSignupDisabled)
}

func TestRefreshRotatesOnce(t *testing.T) {
	svc, _ := newTestService(true)
	ctx := context.Background()
	sess, err := svc.SignUp(ctx, NewUser{Name: "Mariam", Email: "mariam@level2.com", Password: "123456"})
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	_, err = svc.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Refresh(ctx, next.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "access tokens cannot refresh")

	require.NoError(t, svc.SignOut(ctx, next.RefreshToken))
	_, err = svc.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDirectoryAndDelete(t *testing.T) {
	svc, _ := newTestService(true)
	ctx := context.Background()
	mina, err := svc.Create(ctx, NewUser{Name: "Mina", Email: "a@level2.com", Password: "123456", Role: model.RoleAdmin})
	require.NoError(t, err)
	kero, err := svc.Create(ctx, NewUser{Name: "Kero", Email: "b@level2.com", Password: "123456"})
	require.NoError(t, err)

	dir, err := svc.Directory(ctx)
	require.NoError(t, err)
	require.Len(t, dir, 2)
	assert.Equal(t, "Kero", dir[0].Name)
	assert.Equal(t, model.RoleAdmin, dir[1].Role)

	assert.ErrorIs(t, svc.Delete(ctx, mina.ID, mina.ID), ErrSelfDelete)
	require.NoError(t, svc.Delete(ctx, mina.ID, kero.ID))
	assert.ErrorIs(t, svc.Delete(ctx, mina.ID, kero.ID), ErrNotFound)
}
