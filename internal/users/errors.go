package users

import "errors"

var (
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrSignupDisabled     = errors.New("sign-up is disabled")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	ErrSelfDelete         = errors.New("cannot delete your own account")
)
