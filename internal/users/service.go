package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"leveltwo/internal/auth"
	"leveltwo/internal/model"
	"leveltwo/internal/names"
	"leveltwo/internal/validation"
	"leveltwo/pkg/logger"
)

// Repository is the storage the service needs.
type Repository interface {
	Create(ctx context.Context, u model.User) (model.User, error)
	ByEmail(ctx context.Context, email string) (model.User, error)
	ByID(ctx context.Context, id string) (model.User, error)
	List(ctx context.Context, query string) ([]model.User, error)
	Delete(ctx context.Context, id string) error
	SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, token string) (string, error)
	RevokeRefreshToken(ctx context.Context, token string) error
}

// NewUser is the sign-up and admin-create payload.
type NewUser struct {
	Name     string     `json:"name" validate:"notblank"`
	Email    string     `json:"email" validate:"required,email"`
	Password string     `json:"password" validate:"min=6"`
	Role     model.Role `json:"role" validate:"omitempty,oneof=admin servant"`
}

// Session is what a successful sign-in returns.
type Session struct {
	User model.User `json:"user"`
	auth.TokenPair
}

// DirectoryEntry is the public part of a user, used to name actors.
type DirectoryEntry struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Role model.Role `json:"role"`
}

// Service handles accounts and sessions.
type Service struct {
	repo        Repository
	signer      *auth.Signer
	validate    *validation.Validator
	log         logger.Logger
	allowSignup bool
	cost        int
}

// NewService wires the account service.
func NewService(repo Repository, signer *auth.Signer, validate *validation.Validator, log logger.Logger, allowSignup bool) *Service {
	return &Service{
		repo:        repo,
		signer:      signer,
		validate:    validate,
		log:         log,
		allowSignup: allowSignup,
		cost:        bcrypt.DefaultCost,
	}
}

// SignIn checks the password and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	u, err := s.repo.ByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.open(ctx, u)
}

// SignUp registers a servant and signs them in.
func (s *Service) SignUp(ctx context.Context, in NewUser) (Session, error) {
	if !s.allowSignup {
		return Session{}, ErrSignupDisabled
	}
	in.Role = model.RoleServant
	u, err := s.Create(ctx, in)
	if err != nil {
		return Session{}, err
	}
	return s.open(ctx, u)
}

// Create adds an account; the role defaults to servant.
func (s *Service) Create(ctx context.Context, in NewUser) (model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Struct(in); err != nil {
		return model.User{}, err
	}
	if in.Role == "" {
		in.Role = model.RoleServant
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.repo.Create(ctx, model.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		Role:         in.Role,
		PasswordHash: hash,
	})
	if err != nil {
		return model.User{}, err
	}
	s.log.Info("user created", "user", u.ID, "role", u.Role)
	return u, nil
}

// Refresh rotates a refresh token into a new session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if _, err := s.signer.Parse(refreshToken, auth.TypeRefresh); err != nil {
		return Session{}, ErrInvalidToken
	}
	userID, err := s.repo.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		return Session{}, err
	}
	u, err := s.repo.ByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.open(ctx, u)
}

// SignOut revokes the refresh token.
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.repo.RevokeRefreshToken(ctx, refreshToken)
}

func (s *Service) open(ctx context.Context, u model.User) (Session, error) {
	pair, err := s.signer.Issue(u.ID, u.Name, string(u.Role))
	if err != nil {
		return Session{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.repo.SaveRefreshToken(ctx, u.ID, pair.RefreshToken, pair.RefreshExp); err != nil {
		return Session{}, fmt.Errorf("save refresh token: %w", err)
	}
	return Session{User: u, TokenPair: pair}, nil
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id string) (model.User, error) {
	return s.repo.ByID(ctx, id)
}

// List searches users by name or email.
func (s *Service) List(ctx context.Context, query string) ([]model.User, error) {
	return s.repo.List(ctx, query)
}

// Directory lists id, name and role of every user, ordered by name.
func (s *Service) Directory(ctx context.Context) ([]DirectoryEntry, error) {
	all, err := s.repo.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]DirectoryEntry, 0, len(all))
	for _, u := range all {
		out = append(out, DirectoryEntry{ID: u.ID, Name: u.Name, Role: u.Role})
	}
	names.SortBy(out, func(e DirectoryEntry) string { return e.Name })
	return out, nil
}

// Delete removes an account other than the caller's own.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	if actorID == id {
		return ErrSelfDelete
	}
	return s.repo.Delete(ctx, id)
}
